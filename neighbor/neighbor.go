// Package neighbor implements the combined ARP/ND cache: one entry per
// on-link address, tracking resolution state and a queue of buffers
// waiting on resolution. Each entry's pending queue is backed by
// github.com/eapache/queue, an unbounded FIFO of work items waiting
// for something else to complete.
//
// Author: momentics <momentics@gmail.com>
package neighbor

import (
	"sync"

	"github.com/eapache/queue"

	"warpcore/api"
	"warpcore/internal/wallclock"
)

// Entry is one neighbor cache entry.
type Entry struct {
	Addr       api.Addr
	State      api.NeighborState
	MAC        [6]byte
	UpdatedAt  int64
	pending    *queue.Queue
	probeCount int
}

// PendingLen returns how many buffers are waiting on this entry to
// resolve.
func (e *Entry) PendingLen() int {
	if e.pending == nil {
		return 0
	}
	return e.pending.Length()
}

// Cache is the process-wide (per engine) neighbor table.
type Cache struct {
	mu      sync.Mutex
	entries map[api.Addr]*Entry

	idleNs int64
	gcNs   int64
}

// New creates an empty cache using idleNs/gcNs from EngineOptions to
// decide when a reachable entry goes stale and when a stale/probe
// entry is garbage collected.
func New(idleNs, gcNs int64) *Cache {
	return &Cache{
		entries: make(map[api.Addr]*Entry),
		idleNs:  idleNs,
		gcNs:    gcNs,
	}
}

// Lookup returns the entry for addr, creating an incomplete one if
// none exists yet, plus whether it was newly created (callers use this
// to decide whether to send a fresh ARP/NS request).
func (c *Cache) Lookup(addr api.Addr) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[addr]; ok {
		return e, false
	}
	e := &Entry{Addr: addr, State: api.NeighborIncomplete, UpdatedAt: wallclock.NowNs()}
	c.entries[addr] = e
	return e, true
}

// Resolve marks addr reachable with mac and returns every buffer that
// was queued waiting on it, in FIFO order, for the caller to transmit
// immediately.
func (c *Cache) Resolve(addr api.Addr, mac [6]byte) []*api.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &Entry{Addr: addr}
		c.entries[addr] = e
	}
	e.State = api.NeighborReachable
	e.MAC = mac
	e.UpdatedAt = wallclock.NowNs()
	e.probeCount = 0

	var drained []*api.Buffer
	if e.pending != nil {
		for e.pending.Length() > 0 {
			drained = append(drained, e.pending.Remove().(*api.Buffer))
		}
	}
	return drained
}

// Enqueue queues b on addr's entry to be sent once it resolves. It
// returns false (and does not take ownership of b) if addr is already
// reachable, so the caller can send immediately instead.
func (c *Cache) Enqueue(addr api.Addr, b *api.Buffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &Entry{Addr: addr, State: api.NeighborIncomplete, UpdatedAt: wallclock.NowNs()}
		c.entries[addr] = e
	}
	if e.State == api.NeighborReachable {
		return false
	}
	if e.pending == nil {
		e.pending = queue.New()
	}
	e.pending.Add(b)
	return true
}

// Age walks every entry, moving reachable entries resolved more than
// idleNs ago to stale (sending through an entry does not refresh it),
// and deleting incomplete/stale/probe entries whose last state change
// is more than gcNs ago. It returns the still-pending buffers of the
// deleted entries so the caller can release them.
func (c *Cache) Age(now int64) []*api.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped []*api.Buffer
	for k, e := range c.entries {
		switch e.State {
		case api.NeighborReachable:
			if now-e.UpdatedAt > c.idleNs {
				e.State = api.NeighborStale
				e.UpdatedAt = now
			}
		case api.NeighborStale, api.NeighborProbe, api.NeighborIncomplete:
			if now-e.UpdatedAt > c.gcNs {
				if e.pending != nil {
					for e.pending.Length() > 0 {
						dropped = append(dropped, e.pending.Remove().(*api.Buffer))
					}
				}
				delete(c.entries, k)
			}
		}
	}
	return dropped
}

// MarkProbe transitions a stale entry to probe (a fresh ARP/NS request
// was just sent for it) and bumps its probe count, which it returns.
// The count is not capped; a probe entry that no reply resolves is
// reclaimed by Age once it has sat longer than gcNs.
func (c *Cache) MarkProbe(addr api.Addr, now int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return 0
	}
	e.State = api.NeighborProbe
	e.UpdatedAt = now
	e.probeCount++
	return e.probeCount
}

// Snapshot returns a copy of every entry's (Addr, State, MAC) for
// diagnostics (wired into control.DebugProbes by the engine).
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, Entry{Addr: e.Addr, State: e.State, MAC: e.MAC, UpdatedAt: e.UpdatedAt})
	}
	return out
}
