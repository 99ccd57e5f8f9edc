package neighbor

import (
	"testing"

	"warpcore/api"
	"warpcore/internal/wallclock"
)

func addr(v4 uint32) api.Addr { return api.Addr{Family: api.FamilyV4, V4: v4} }

func TestEnqueueThenResolveDrainsInOrder(t *testing.T) {
	c := New(60_000_000_000, 180_000_000_000)
	a := addr(1)

	b1 := &api.Buffer{Idx: 1}
	b2 := &api.Buffer{Idx: 2}
	if !c.Enqueue(a, b1) {
		t.Fatal("Enqueue should succeed for a new incomplete entry")
	}
	if !c.Enqueue(a, b2) {
		t.Fatal("Enqueue should succeed for a still-incomplete entry")
	}

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	drained := c.Resolve(a, mac)
	if len(drained) != 2 || drained[0] != b1 || drained[1] != b2 {
		t.Fatalf("drained = %+v, want [b1, b2] in order", drained)
	}

	e, created := c.Lookup(a)
	if created {
		t.Fatal("Lookup should find the existing resolved entry, not create one")
	}
	if e.State != api.NeighborReachable || e.MAC != mac {
		t.Fatalf("entry = %+v, want reachable with mac %v", e, mac)
	}
}

func TestEnqueueOnReachableEntryReturnsFalse(t *testing.T) {
	c := New(60_000_000_000, 180_000_000_000)
	a := addr(2)
	c.Resolve(a, [6]byte{9, 9, 9, 9, 9, 9})

	if c.Enqueue(a, &api.Buffer{}) {
		t.Fatal("Enqueue on a reachable entry should return false so the caller sends immediately")
	}
}

func TestAgeMarksIdleReachableEntriesStale(t *testing.T) {
	c := New(10, 1_000_000)
	a := addr(4)
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	c.Resolve(a, mac)
	now := wallclock.NowNs()

	if dropped := c.Age(now + 20); len(dropped) != 0 {
		t.Fatalf("Age dropped %d buffers from a merely-idle entry", len(dropped))
	}
	e, created := c.Lookup(a)
	if created {
		t.Fatal("stale entry should survive aging")
	}
	if e.State != api.NeighborStale || e.MAC != mac {
		t.Fatalf("entry = %+v, want stale with the last known MAC intact", e)
	}

	if n := c.MarkProbe(a, now+40); n != 1 {
		t.Fatalf("MarkProbe count = %d, want 1", n)
	}
	e, _ = c.Lookup(a)
	if e.State != api.NeighborProbe {
		t.Fatalf("state after MarkProbe = %v, want probe", e.State)
	}
}

func TestAgeReclaimsExpiredEntries(t *testing.T) {
	c := New(10, 20)
	a := addr(3)
	c.Lookup(a)
	b := &api.Buffer{Idx: 7}
	c.Enqueue(a, b)

	dropped := c.Age(wallclock.NowNs() + 1000)
	if len(dropped) != 1 || dropped[0] != b {
		t.Fatalf("Age should drop the pending buffer of an expired entry, got %+v", dropped)
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("expired entry should be removed from the cache")
	}
}
