// Package broker implements the Broker Engine: the part of the design
// that knows what a supply descriptor, a demand descriptor and a
// driver descriptor are, and what to do when one of each shows up.
// It is deliberately ignorant of epoll, signal masks and socket
// syscalls; those live below it (reactor, signalbridge, clock) and are
// reached only through the two small interfaces below, so the engine
// can be driven by a fake multiplexer and a fake bridge in tests.
package broker

import "github.com/quaydock/rendezvousd/reactor"

// Descriptor and None are re-exported so callers never need to import
// package reactor just to name a connection the engine handed back.
type Descriptor = reactor.Descriptor

const None = reactor.None

// Multiplexer is the subset of reactor.Multiplexer the engine drives.
// A *reactor Multiplexer satisfies it without any adapter; tests
// satisfy it with brokertest.FakeMultiplexer.
type Multiplexer interface {
	Serve() bool

	NextConnection() Descriptor
	NextDisconnection() Descriptor
	NextIncoming() Descriptor

	SwapIncoming(d Descriptor) []byte
	AppendOutgoing(d Descriptor, buf []byte)
	Writef(d Descriptor, format string, args ...any)

	Freeze(d Descriptor)
	Unfreeze(d Descriptor)
	Disconnect(d Descriptor)

	GetHost(d Descriptor) string
	GetPort(d Descriptor) string
	GetListener(d Descriptor) Descriptor
}

// Bridge is the subset of signalbridge.Bridge the engine drives: a
// non-blocking drain of pending signal numbers, 0 meaning empty.
type Bridge interface {
	Next() int
}

// Logger is the subset of logsink.Sink the engine writes through.
type Logger interface {
	Logf(format string, args ...any)
}

// Metrics is the subset of control.MetricsRegistry the engine updates
// once per Step. Optional: a nil Metrics is a valid, silent no-op.
type Metrics interface {
	Set(key string, value any)
}
