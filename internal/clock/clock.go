// Package clock provides the broker's wall-clock timestamp source and
// its one-second alarm timer.
package clock

import (
	"os"
	"syscall"
	"time"
)

// NowSeconds returns the current wall-clock second. Monotonicity is
// not guaranteed; callers computing a delta must clamp negative
// results to zero rather than treat a clock jump as a panic.
func NowSeconds() int64 {
	return time.Now().Unix()
}

// SinceClamped returns max(0, now-then), the idiom every idle/interval
// computation in the broker uses to survive a backward clock jump.
func SinceClamped(now, then int64) int64 {
	if now < then {
		return 0
	}
	return now - then
}

// Armer arms a one-shot, one-second interval timer whose expiry is
// delivered as a genuine SIGALRM, so it flows through the same
// signalbridge channel as the other four signals the broker reacts
// to. This stands in for POSIX setitimer(ITIMER_REAL, ...), which Go's
// signal-handling runtime does not expose safely to user code.
type Armer struct {
	pid   int
	timer *time.Timer
}

// NewArmer constructs an Armer for the current process.
func NewArmer() *Armer {
	return &Armer{pid: os.Getpid()}
}

// Arm (re)schedules the alarm to fire in one second, stopping any
// timer previously armed by this Armer.
func (a *Armer) Arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(time.Second, func() {
		_ = syscall.Kill(a.pid, syscall.SIGALRM)
	})
}

// Stop cancels a pending alarm, if any, without rearming it.
func (a *Armer) Stop() {
	if a.timer != nil {
		a.timer.Stop()
	}
}
