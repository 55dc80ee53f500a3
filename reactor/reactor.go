package reactor

import "fmt"

// Multiplexer is the contract the Broker Engine drives. Descriptor
// values it hands out are opaque; the engine never assumes anything
// about their numeric value beyond stability and inequality to None.
type Multiplexer interface {
	// Listen creates a non-blocking TCP listener bound to all
	// interfaces on port. Returns None on any failure.
	Listen(port uint16) (Descriptor, error)

	// Serve performs one non-blocking polling step: it accepts new
	// connections, reads available bytes from non-frozen descriptors,
	// and drains pending write buffers. It returns false only on an
	// unrecoverable polling failure.
	Serve() bool

	// NextConnection, NextDisconnection and NextIncoming drain three
	// independent event queues populated during Serve. Each call pops
	// one descriptor; None means the queue is empty.
	NextConnection() Descriptor
	NextDisconnection() Descriptor
	NextIncoming() Descriptor

	// SwapIncoming atomically hands the accumulated read buffer for d
	// to the caller, replacing it with an empty buffer.
	SwapIncoming(d Descriptor) []byte

	// AppendOutgoing enqueues bytes for transmission on d.
	AppendOutgoing(d Descriptor, buf []byte)

	// Writef is a formatted convenience wrapper over AppendOutgoing.
	Writef(d Descriptor, format string, args ...any)

	// Freeze suppresses read-readiness interest on d; Unfreeze
	// restores it. Disconnect detection keeps working while frozen.
	Freeze(d Descriptor)
	Unfreeze(d Descriptor)

	// Disconnect initiates an orderly close of d. A NextDisconnection
	// event eventually surfaces for it. Safe to call with None.
	Disconnect(d Descriptor)

	// GetHost, GetPort and GetListener report peer metadata and the
	// descriptor of the listener that accepted d.
	GetHost(d Descriptor) string
	GetPort(d Descriptor) string
	GetListener(d Descriptor) Descriptor

	// Close releases the polling instance and every owned descriptor.
	Close() error
}

// ErrUnsupportedPlatform is returned by New on platforms without a
// Multiplexer implementation.
var ErrUnsupportedPlatform = fmt.Errorf("reactor: this platform is not supported")
