package wallclock

import "testing"

func TestNowNsMonotonic(t *testing.T) {
	a := NowNs()
	if a == 0 {
		t.Fatal("NowNs returned 0")
	}
	SleepNs(1_000_000) // 1ms
	b := NowNs()
	if b <= a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}

func TestSleepNsZeroReturnsImmediately(t *testing.T) {
	SleepNs(0)
	SleepNs(-5)
}
