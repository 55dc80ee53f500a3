// Package reactor implements the Socket Multiplexer: a non-blocking,
// level-triggered epoll event source that owns every listening and
// accepted file descriptor the broker touches, along with their
// per-descriptor read/write buffers.
package reactor
