//go:build !linux
// +build !linux

// Stub implementation for platforms without an epoll-based multiplexer.

package reactor

// New returns ErrUnsupportedPlatform on non-Linux targets. This broker
// is a Linux epoll daemon; Windows/IOCP support is a non-goal.
func New() (Multiplexer, error) {
	return nil, ErrUnsupportedPlatform
}
