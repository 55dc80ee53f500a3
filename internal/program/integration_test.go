//go:build linux

package program

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/quaydock/rendezvousd/internal/broker"
	"github.com/quaydock/rendezvousd/internal/logsink"
	"github.com/quaydock/rendezvousd/internal/signalbridge"
	"github.com/quaydock/rendezvousd/reactor"
)

// runLoop drives e.Step against a real mux on loopback sockets until
// stop is closed, polling fast enough that a test's handful of writes
// settle within its deadline.
func runLoop(t *testing.T, mux reactor.Multiplexer, e *broker.Engine, stop <-chan struct{}) {
	bridge := signalbridge.New()
	defer bridge.Stop()
	log := logsink.New(io.Discard, nil)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !e.Step(mux, bridge, log) {
			t.Error("engine Step reported an unrecoverable polling failure")
			return
		}
	}
}

func TestSupplyToDemandForwardingOverRealSockets(t *testing.T) {
	const supplyPort, demandPort = 19101, 19102

	mux, err := reactor.NewWithPollTimeout(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("reactor.NewWithPollTimeout: %v", err)
	}
	defer mux.Close()

	supplyListener, err := mux.Listen(supplyPort)
	if err != nil {
		t.Fatalf("Listen(supply): %v", err)
	}
	demandListener, err := mux.Listen(demandPort)
	if err != nil {
		t.Fatalf("Listen(demand): %v", err)
	}

	e := broker.New(broker.Config{SupplyListener: supplyListener, DemandListener: demandListener})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(t, mux, e, stop)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	supplyConn, err := net.Dial("tcp", "127.0.0.1:19101")
	if err != nil {
		t.Fatalf("dial supply: %v", err)
	}
	defer supplyConn.Close()

	demandConn, err := net.Dial("tcp", "127.0.0.1:19102")
	if err != nil {
		t.Fatalf("dial demand: %v", err)
	}
	defer demandConn.Close()

	const payload = "rendezvous payload\n"
	if _, err := supplyConn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	demandConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(demandConn).ReadString('\n')
	if err != nil {
		t.Fatalf("read forwarded payload: %v", err)
	}
	if line != payload {
		t.Fatalf("expected forwarded payload %q, got %q", payload, line)
	}
}

func TestDemandQueuesUntilSupplyArrives(t *testing.T) {
	const supplyPort, demandPort = 19103, 19104

	mux, err := reactor.NewWithPollTimeout(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("reactor.NewWithPollTimeout: %v", err)
	}
	defer mux.Close()

	supplyListener, err := mux.Listen(supplyPort)
	if err != nil {
		t.Fatalf("Listen(supply): %v", err)
	}
	demandListener, err := mux.Listen(demandPort)
	if err != nil {
		t.Fatalf("Listen(demand): %v", err)
	}

	e := broker.New(broker.Config{SupplyListener: supplyListener, DemandListener: demandListener})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(t, mux, e, stop)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	demandConn, err := net.Dial("tcp", "127.0.0.1:19104")
	if err != nil {
		t.Fatalf("dial demand: %v", err)
	}
	defer demandConn.Close()

	// Give the loop a moment to classify the demand connection as
	// unmatched before the supply side shows up.
	time.Sleep(50 * time.Millisecond)

	supplyConn, err := net.Dial("tcp", "127.0.0.1:19103")
	if err != nil {
		t.Fatalf("dial supply: %v", err)
	}
	defer supplyConn.Close()

	const payload = "late supply\n"
	if _, err := supplyConn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	demandConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(demandConn).ReadString('\n')
	if err != nil {
		t.Fatalf("read forwarded payload: %v", err)
	}
	if line != payload {
		t.Fatalf("expected forwarded payload %q, got %q", payload, line)
	}
}
