// Package signalbridge converts asynchronously-delivered OS signals
// into a queue drained synchronously at the top of each event-loop
// iteration, by bridging signals to a channel: the actual signal handler lives entirely inside the Go
// runtime (installed by os/signal.Notify), which is async-signal-safe
// by construction, so user code never runs on the signal path.
package signalbridge

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Bridge owns the set of signals this daemon reacts to and the
// channel the runtime delivers them on.
type Bridge struct {
	ch      chan os.Signal
	watched []os.Signal

	fenceMu sync.Mutex
	prev    unix.Sigset_t
}

// New installs handlers for SIGALRM, SIGPIPE, SIGINT, SIGTERM and
// SIGQUIT. The channel holds up to 16 pending signals; os/signal drops
// any signal delivered while it is full.
func New() *Bridge {
	watched := []os.Signal{syscall.SIGALRM, syscall.SIGPIPE, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	b := &Bridge{
		ch:      make(chan os.Signal, 16),
		watched: watched,
	}
	signal.Notify(b.ch, watched...)
	return b
}

// Next returns the next pending signal number, or 0 when none is
// pending. It never blocks.
func (b *Bridge) Next() int {
	select {
	case s := <-b.ch:
		if sig, ok := s.(syscall.Signal); ok {
			return int(sig)
		}
		return 0
	default:
		return 0
	}
}

// Block pins the calling goroutine to its current OS thread and
// installs a full signal mask on it, stashing the previous mask for a
// matching Unblock to restore. The OS-thread pin is required: a Go
// goroutine is otherwise free to migrate threads between Block and
// Unblock, which would mask the wrong thread entirely. This is the
// fence the Log Sink wraps around each write, mirroring
// program.cpp::print_text's sigprocmask pair around fwrite. Block/
// Unblock calls do not nest; the Log Sink never calls Logf
// reentrantly, so one in-flight fence at a time is the only case that
// needs to work.
func (b *Bridge) Block() error {
	b.fenceMu.Lock()
	runtime.LockOSThread()
	var all unix.Sigset_t
	for i := range all.Val {
		all.Val[i] = ^uint64(0)
	}
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &all, &b.prev); err != nil {
		runtime.UnlockOSThread()
		b.fenceMu.Unlock()
		return err
	}
	return nil
}

// Unblock restores the mask a matching Block saved and releases the
// OS-thread pin and the fence lock.
func (b *Bridge) Unblock() error {
	defer b.fenceMu.Unlock()
	defer runtime.UnlockOSThread()
	return unix.PthreadSigmask(unix.SIG_SETMASK, &b.prev, nil)
}

// Stop releases the underlying os/signal registration.
func (b *Bridge) Stop() {
	signal.Stop(b.ch)
}
