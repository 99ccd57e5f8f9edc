package xrand

import "testing"

func TestUint32nStaysInRange(t *testing.T) {
	r := New(42)
	for _, n := range []uint32{1, 2, 3, 7, 1000, 1 << 31} {
		for i := 0; i < 1000; i++ {
			if v := r.Uint32n(n); v >= n {
				t.Fatalf("Uint32n(%d) = %d, out of range", n, v)
			}
		}
	}
	if r.Uint32n(0) != 0 {
		t.Fatal("Uint32n(0) should return 0")
	}
}

func TestUint64nStaysInRange(t *testing.T) {
	r := New(43)
	for _, n := range []uint64{1, 5, 1 << 40, ^uint64(0) >> 1} {
		for i := 0; i < 1000; i++ {
			if v := r.Uint64n(n); v >= n {
				t.Fatalf("Uint64n(%d) = %d, out of range", n, v)
			}
		}
	}
}

func TestUint32nRoughlyUniform(t *testing.T) {
	r := New(7)
	const buckets = 10
	const draws = 100000
	var counts [buckets]int
	for i := 0; i < draws; i++ {
		counts[r.Uint32n(buckets)]++
	}
	// Each bucket expects draws/buckets hits; a ±10% band is about ±10
	// sigma (sigma ≈ 95), so a failure here means a broken generator,
	// not bad luck.
	lo, hi := draws/buckets*9/10, draws/buckets*11/10
	for i, c := range counts {
		if c < lo || c > hi {
			t.Fatalf("bucket %d count = %d, want within [%d, %d]", i, c, lo, hi)
		}
	}
}

func TestGeneratorsWithDistinctSaltsDiverge(t *testing.T) {
	a, b := New(1), New(2)
	same := 0
	for i := 0; i < 16; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same == 16 {
		t.Fatal("generators seeded with different salts produced identical streams")
	}
}
