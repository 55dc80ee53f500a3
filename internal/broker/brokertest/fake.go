// Package brokertest provides deterministic fakes for
// internal/broker's Multiplexer and Bridge ports, so the engine's
// pairing and forwarding logic can be exercised one iteration at a
// time without touching a real socket or signal.
package brokertest

import (
	"fmt"

	"github.com/quaydock/rendezvousd/internal/broker"
)

type peer struct {
	host, port string
	listenerOf broker.Descriptor
	frozen     bool
	disconnect bool // queued for the next NextDisconnection drain
	inbox      []byte
	incoming   bool // queued for the next NextIncoming drain
	outbox     [][]byte
	purge      bool // drained via NextDisconnection; removed on the next Serve
}

// FakeMultiplexer is an in-memory stand-in for a reactor.Multiplexer.
// Tests drive it directly (Connect, Deliver, HangUp) and then call
// Engine.Step against it.
type FakeMultiplexer struct {
	peers map[broker.Descriptor]*peer
	next  int32

	connQueue []broker.Descriptor
	discQueue []broker.Descriptor
	inQueue   []broker.Descriptor
}

// NewFakeMultiplexer builds an empty fake. Accepted-connection
// descriptors start numbering at 100 so they never collide with the
// small, caller-chosen listener descriptor values a test sets up.
func NewFakeMultiplexer() *FakeMultiplexer {
	return &FakeMultiplexer{peers: make(map[broker.Descriptor]*peer), next: 99}
}

// Connect simulates a new inbound connection accepted by listener,
// returning the fresh descriptor and queuing it for the next
// NextConnection drain.
func (m *FakeMultiplexer) Connect(listener broker.Descriptor, host, port string) broker.Descriptor {
	m.next++
	d := broker.Descriptor(m.next)
	m.peers[d] = &peer{host: host, port: port, listenerOf: listener}
	m.connQueue = append(m.connQueue, d)
	return d
}

// Deliver queues bytes as having arrived on d.
func (m *FakeMultiplexer) Deliver(d broker.Descriptor, data []byte) {
	p, ok := m.peers[d]
	if !ok || p.frozen {
		return
	}
	p.inbox = append(p.inbox, data...)
	if !p.incoming {
		p.incoming = true
		m.inQueue = append(m.inQueue, d)
	}
}

// HangUp simulates the peer closing d, queuing it for the next
// NextDisconnection drain.
func (m *FakeMultiplexer) HangUp(d broker.Descriptor) {
	if p, ok := m.peers[d]; ok && !p.disconnect {
		p.disconnect = true
		m.discQueue = append(m.discQueue, d)
	}
}

// Outbox returns everything written to d via AppendOutgoing/Writef so
// far, concatenated.
func (m *FakeMultiplexer) Outbox(d broker.Descriptor) []byte {
	p, ok := m.peers[d]
	if !ok {
		return nil
	}
	var out []byte
	for _, b := range p.outbox {
		out = append(out, b...)
	}
	return out
}

// Frozen reports whether d currently has read interest suppressed.
func (m *FakeMultiplexer) Frozen(d broker.Descriptor) bool {
	p, ok := m.peers[d]
	return ok && p.frozen
}

// Live reports whether d is still tracked (not yet disconnected).
func (m *FakeMultiplexer) Live(d broker.Descriptor) bool {
	_, ok := m.peers[d]
	return ok
}

// Serve purges descriptors whose disconnection was drained by the
// previous iteration, mirroring the real multiplexer's purgeDead.
func (m *FakeMultiplexer) Serve() bool {
	for d, p := range m.peers {
		if p.purge {
			delete(m.peers, d)
		}
	}
	return true
}

func (m *FakeMultiplexer) NextConnection() broker.Descriptor { return m.pop(&m.connQueue) }

func (m *FakeMultiplexer) NextDisconnection() broker.Descriptor {
	d := m.pop(&m.discQueue)
	if p, ok := m.peers[d]; ok {
		p.purge = true
	}
	return d
}

func (m *FakeMultiplexer) NextIncoming() broker.Descriptor {
	d := m.pop(&m.inQueue)
	if p, ok := m.peers[d]; ok {
		p.incoming = false
	}
	return d
}

func (m *FakeMultiplexer) pop(q *[]broker.Descriptor) broker.Descriptor {
	for len(*q) > 0 {
		d := (*q)[0]
		*q = (*q)[1:]
		if _, ok := m.peers[d]; ok {
			return d
		}
	}
	return broker.None
}

func (m *FakeMultiplexer) SwapIncoming(d broker.Descriptor) []byte {
	p, ok := m.peers[d]
	if !ok {
		return nil
	}
	buf := p.inbox
	p.inbox = nil
	return buf
}

func (m *FakeMultiplexer) AppendOutgoing(d broker.Descriptor, buf []byte) {
	if p, ok := m.peers[d]; ok {
		p.outbox = append(p.outbox, append([]byte(nil), buf...))
	}
}

func (m *FakeMultiplexer) Writef(d broker.Descriptor, format string, args ...any) {
	m.AppendOutgoing(d, []byte(fmt.Sprintf(format, args...)))
}

func (m *FakeMultiplexer) Freeze(d broker.Descriptor) {
	if p, ok := m.peers[d]; ok {
		p.frozen = true
	}
}

func (m *FakeMultiplexer) Unfreeze(d broker.Descriptor) {
	if p, ok := m.peers[d]; ok {
		p.frozen = false
	}
}

func (m *FakeMultiplexer) Disconnect(d broker.Descriptor) {
	if d == broker.None {
		return
	}
	m.HangUp(d)
}

func (m *FakeMultiplexer) GetHost(d broker.Descriptor) string {
	if p, ok := m.peers[d]; ok {
		return p.host
	}
	return ""
}

func (m *FakeMultiplexer) GetPort(d broker.Descriptor) string {
	if p, ok := m.peers[d]; ok {
		return p.port
	}
	return ""
}

func (m *FakeMultiplexer) GetListener(d broker.Descriptor) broker.Descriptor {
	if p, ok := m.peers[d]; ok {
		return p.listenerOf
	}
	return broker.None
}

// FakeBridge is an in-memory stand-in for signalbridge.Bridge: tests
// push signal numbers onto it directly instead of relying on the OS.
type FakeBridge struct {
	pending []int
}

// Raise queues a signal number for the next Next() drain.
func (b *FakeBridge) Raise(sig int) { b.pending = append(b.pending, sig) }

func (b *FakeBridge) Next() int {
	if len(b.pending) == 0 {
		return 0
	}
	sig := b.pending[0]
	b.pending = b.pending[1:]
	return sig
}

// NopLogger discards every log line; tests that don't assert on
// logging output use it to satisfy broker.Logger.
type NopLogger struct{}

func (NopLogger) Logf(format string, args ...any) {}
