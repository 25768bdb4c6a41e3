// Package timer provides the monotonic clock and bounded sleep
// contract of SPEC_FULL.md §4.1: NowNS for a monotonic nanosecond
// timestamp, and SleepNS for a sleep that does not overshoot its
// target by more than one scheduling quantum.
//
// Go gives no portable access to a free-running hardware cycle counter
// without cgo or asm, so durations below the OS scheduler's resolution
// busy-wait against time.Now() (spinning with runtime.Gosched() so
// other goroutines still run) instead of a hardware counter. This is
// the "degrade to a portable monotonic clock" failure mode spec.md
// explicitly allows, and it is the only mode available on this target.
package timer

import (
	"runtime"
	"time"
)

// schedResolution is the rough point below which time.Sleep's
// granularity becomes unreliable on Linux; below it, SleepNS busy-waits
// instead.
const schedResolution = 20 * time.Microsecond

// epoch anchors NowNS to Go's monotonic clock reading.
var epoch = time.Now()

// NowNS returns a monotonic nanosecond timestamp. It is not wall-clock
// time and two calls are only meaningful relative to each other.
func NowNS() uint64 {
	return uint64(time.Since(epoch))
}

// SleepNS blocks for at least n nanoseconds, overshooting by no more
// than one scheduling tick.
func SleepNS(n uint64) {
	d := time.Duration(n)
	if d <= 0 {
		return
	}
	if d >= schedResolution {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// BusSettleDelayNS is the ≥400ns delay inserted after DAT is sampled in
// a handshake, per spec.md §4.3, unless strict-compliance mode is
// selected.
const BusSettleDelayNS = 400

// DaynaPortPacingDelayNS is the post-byte delay SendHandshake inserts
// for host adapters that require DaynaPort-style pacing.
const DaynaPortPacingDelayNS = 100_000
