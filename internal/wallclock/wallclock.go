// Package wallclock wraps the monotonic clock and nanosecond sleep the
// engine's poll loop and neighbor-cache aging use, going through
// golang.org/x/sys/unix directly rather than time.Now/time.Sleep's
// allocation and timer machinery.
package wallclock

import (
	"golang.org/x/sys/unix"
)

// NowNs returns CLOCK_MONOTONIC in nanoseconds.
func NowNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// SleepNs blocks the calling goroutine for the given number of
// nanoseconds using nanosleep(2), restarting across EINTR.
func SleepNs(ns int64) {
	if ns <= 0 {
		return
	}
	req := unix.NsecToTimespec(ns)
	for {
		rem := unix.Timespec{}
		err := unix.Nanosleep(&req, &rem)
		if err == nil {
			return
		}
		if err == unix.EINTR {
			req = rem
			continue
		}
		return
	}
}
