//go:build linux
// +build linux

// Linux epoll-based Socket Multiplexer, grounded on the teacher's
// reactor/reactor_linux.go and internal/concurrency/poller_linux.go
// epoll wrappers and on examples/reactor_echo/main.go's accept/read/
// write-loop shape, generalized from a single-fd demo into the full
// listen/accept/freeze/disconnect contract the broker needs.

package reactor

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultPollTimeout = 200 * time.Millisecond
	readChunkSize      = 64 * 1024
)

type epollMultiplexer struct {
	epfd        int
	pollTimeout int // milliseconds, passed to EpollWait

	entries map[Descriptor]*entry
	rawToID map[int]Descriptor
	nextID  Descriptor

	connQueue []Descriptor
	discQueue []Descriptor
	inQueue   []Descriptor
	toPurge   []Descriptor
}

// New creates the default Linux epoll Multiplexer.
func New() (Multiplexer, error) {
	return newEpollMultiplexer(defaultPollTimeout)
}

// NewWithPollTimeout is the same as New but with a caller-chosen
// polling cadence; tests use a short timeout so iterations settle
// quickly without relying on signal-interrupted syscalls.
func NewWithPollTimeout(timeout time.Duration) (Multiplexer, error) {
	return newEpollMultiplexer(timeout)
}

func newEpollMultiplexer(timeout time.Duration) (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollMultiplexer{
		epfd:        epfd,
		pollTimeout: int(timeout / time.Millisecond),
		entries:     make(map[Descriptor]*entry),
		rawToID:     make(map[int]Descriptor),
	}, nil
}

func (m *epollMultiplexer) register(fd int, isListener bool, listenerOf Descriptor) Descriptor {
	m.nextID++
	id := m.nextID
	m.entries[id] = &entry{fd: fd, listener: isListener, listenerOf: listenerOf}
	m.rawToID[fd] = id
	return id
}

// Listen implements Multiplexer.
func (m *epollMultiplexer) Listen(port uint16) (Descriptor, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return None, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return None, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		unix.Close(fd)
		return None, fmt.Errorf("reactor: bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return None, fmt.Errorf("reactor: listen :%d: %w", port, err)
	}

	id := m.register(fd, true, None)
	e := m.entries[id]
	if err := m.applyInterest(e); err != nil {
		unix.Close(fd)
		delete(m.entries, id)
		delete(m.rawToID, fd)
		return None, fmt.Errorf("reactor: epoll_ctl add listener: %w", err)
	}
	return id, nil
}

// applyInterest (re)computes the EPOLLIN/EPOLLOUT mask for e and pushes
// it to epoll via ADD (first call) or MOD.
func (m *epollMultiplexer) applyInterest(e *entry) error {
	var events uint32
	switch {
	case e.listener:
		events = unix.EPOLLIN
	default:
		if !e.frozen {
			events |= unix.EPOLLIN
		}
		if len(e.writeBuf) > 0 {
			events |= unix.EPOLLOUT
		}
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(e.fd)}
	op := unix.EPOLL_CTL_MOD
	if !e.registered {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(m.epfd, op, e.fd, &ev); err != nil {
		return err
	}
	e.registered = true
	e.writeArmed = events&unix.EPOLLOUT != 0
	return nil
}

// Serve implements Multiplexer.
func (m *epollMultiplexer) Serve() bool {
	m.purgeDead()

	var raw [128]unix.EpollEvent
	n, err := unix.EpollWait(m.epfd, raw[:], m.pollTimeout)
	if err != nil {
		if err == unix.EINTR {
			return true
		}
		return false
	}

	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		id, ok := m.rawToID[fd]
		if !ok {
			continue
		}
		e := m.entries[id]
		events := raw[i].Events

		if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			m.closeAndQueueDisconnect(id)
			continue
		}
		if e.listener {
			if events&unix.EPOLLIN != 0 {
				m.acceptAll(id, e)
			}
			continue
		}
		if events&unix.EPOLLOUT != 0 {
			m.flushWrite(id, e)
			if e.dead {
				continue
			}
		}
		if events&unix.EPOLLIN != 0 && !e.frozen {
			m.readAll(id, e)
		}
	}
	return true
}

func (m *epollMultiplexer) acceptAll(listenerID Descriptor, listenerEntry *entry) {
	for {
		fd, sa, err := unix.Accept4(listenerEntry.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return // EAGAIN (drained) or a transient accept error
		}
		id := m.register(fd, false, listenerID)
		e := m.entries[id]
		e.host, e.port = peerHostPort(sa)
		if err := m.applyInterest(e); err != nil {
			unix.Close(fd)
			delete(m.entries, id)
			delete(m.rawToID, fd)
			continue
		}
		m.connQueue = append(m.connQueue, id)
	}
}

func (m *epollMultiplexer) readAll(id Descriptor, e *entry) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(e.fd, buf)
		if n > 0 {
			e.readBuf = append(e.readBuf, buf[:n]...)
		}
		if n == 0 {
			m.closeAndQueueDisconnect(id)
			return
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			m.closeAndQueueDisconnect(id)
			return
		}
		if n < len(buf) {
			break
		}
	}
	if len(e.readBuf) > 0 && !e.queuedIn {
		e.queuedIn = true
		m.inQueue = append(m.inQueue, id)
	}
}

func (m *epollMultiplexer) flushWrite(id Descriptor, e *entry) {
	for len(e.writeBuf) > 0 {
		n, err := unix.Write(e.fd, e.writeBuf)
		if n > 0 {
			e.writeBuf = e.writeBuf[n:]
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			m.closeAndQueueDisconnect(id)
			return
		}
		if n == 0 {
			break
		}
	}
	if e.writeArmed != (len(e.writeBuf) > 0) {
		_ = m.applyInterest(e)
	}
}

func (m *epollMultiplexer) closeAndQueueDisconnect(id Descriptor) {
	e, ok := m.entries[id]
	if !ok || e.dead {
		return
	}
	_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	unix.Close(e.fd)
	delete(m.rawToID, e.fd)
	e.dead = true
	m.discQueue = append(m.discQueue, id)
}

func (m *epollMultiplexer) purgeDead() {
	for _, id := range m.toPurge {
		delete(m.entries, id)
	}
	m.toPurge = m.toPurge[:0]
}

func (m *epollMultiplexer) NextConnection() Descriptor    { return popFront(&m.connQueue) }
func (m *epollMultiplexer) NextDisconnection() Descriptor {
	id := popFront(&m.discQueue)
	if id != None {
		m.toPurge = append(m.toPurge, id)
	}
	return id
}
func (m *epollMultiplexer) NextIncoming() Descriptor { return popFront(&m.inQueue) }

func popFront(q *[]Descriptor) Descriptor {
	if len(*q) == 0 {
		return None
	}
	id := (*q)[0]
	*q = (*q)[1:]
	return id
}

func (m *epollMultiplexer) SwapIncoming(d Descriptor) []byte {
	e, ok := m.entries[d]
	if !ok {
		return nil
	}
	buf := e.readBuf
	e.readBuf = nil
	e.queuedIn = false
	return buf
}

func (m *epollMultiplexer) AppendOutgoing(d Descriptor, buf []byte) {
	e, ok := m.entries[d]
	if !ok || e.dead || len(buf) == 0 {
		return
	}
	e.writeBuf = append(e.writeBuf, buf...)
	if !e.writeArmed {
		_ = m.applyInterest(e)
	}
	m.flushWrite(d, e)
}

func (m *epollMultiplexer) Writef(d Descriptor, format string, args ...any) {
	m.AppendOutgoing(d, []byte(fmt.Sprintf(format, args...)))
}

func (m *epollMultiplexer) Freeze(d Descriptor) {
	e, ok := m.entries[d]
	if !ok || e.frozen {
		return
	}
	e.frozen = true
	_ = m.applyInterest(e)
}

func (m *epollMultiplexer) Unfreeze(d Descriptor) {
	e, ok := m.entries[d]
	if !ok || !e.frozen {
		return
	}
	e.frozen = false
	_ = m.applyInterest(e)
}

func (m *epollMultiplexer) Disconnect(d Descriptor) {
	if d == None {
		return
	}
	m.closeAndQueueDisconnect(d)
}

func (m *epollMultiplexer) GetHost(d Descriptor) string {
	if e, ok := m.entries[d]; ok {
		return e.host
	}
	return ""
}

func (m *epollMultiplexer) GetPort(d Descriptor) string {
	if e, ok := m.entries[d]; ok {
		return e.port
	}
	return ""
}

func (m *epollMultiplexer) GetListener(d Descriptor) Descriptor {
	if e, ok := m.entries[d]; ok {
		return e.listenerOf
	}
	return None
}

func (m *epollMultiplexer) Close() error {
	for fd := range m.rawToID {
		unix.Close(fd)
	}
	return unix.Close(m.epfd)
}

func peerHostPort(sa unix.Sockaddr) (string, string) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port)
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port)
	default:
		return "", ""
	}
}
