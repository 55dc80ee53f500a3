package broker_test

import (
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/quaydock/rendezvousd/internal/broker"
	"github.com/quaydock/rendezvousd/internal/broker/brokertest"
)

// recordingLogger captures every line so a scenario can assert on it,
// in particular the absence of "Forbidden condition" lines.
type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestPeriodicHeartbeatRepublishesOnDriverPeriod(t *testing.T) {
	mux := brokertest.NewFakeMultiplexer()
	bridge := &brokertest.FakeBridge{}
	log := brokertest.NopLogger{}

	clockSeconds := int64(1000)
	e := broker.New(broker.Config{
		SupplyListener: supplyListener,
		DemandListener: demandListener,
		DriverListener: driverListener,
		DriverPeriod:   2,
		Now:            func() int64 { return clockSeconds },
	})

	mux.Connect(demandListener, "h", "1")
	mux.Connect(demandListener, "h", "2")
	e.Step(mux, bridge, log) // both demands queue unmatched, newDemand=2 but no driver yet

	driver := mux.Connect(driverListener, "h", "3")
	e.Step(mux, bridge, log) // driver gets its initial "2\n" inline
	if got := string(mux.Outbox(driver)); got != "2\n" {
		t.Fatalf("expected initial count, got %q", got)
	}

	// One second later: the alarm ticks but no new demand arrived and
	// driver_period has not elapsed yet — nothing should move.
	clockSeconds++
	bridge.Raise(int(syscall.SIGALRM))
	e.Step(mux, bridge, log)
	if got := string(mux.Outbox(driver)); got != "2\n" {
		t.Fatalf("driver_period not yet elapsed, expected no new output, got %q", got)
	}

	// Second second: driver_period (2s) has elapsed since the initial
	// publish, and the alarm ticks again.
	clockSeconds++
	bridge.Raise(int(syscall.SIGALRM))
	e.Step(mux, bridge, log)
	if got := string(mux.Outbox(driver)); got != "2\n2\n" {
		t.Fatalf("expected a periodic republish of the unmatched-demand count, got %q", got)
	}
}

func TestIdleReapDisconnectsBothSidesOfAPair(t *testing.T) {
	mux := brokertest.NewFakeMultiplexer()
	bridge := &brokertest.FakeBridge{}
	log := brokertest.NopLogger{}

	clockSeconds := int64(500)
	e := broker.New(broker.Config{
		SupplyListener: supplyListener,
		DemandListener: demandListener,
		IdleTimeout:    3,
		Now:            func() int64 { return clockSeconds },
	})

	supply := mux.Connect(supplyListener, "h", "1")
	demand := mux.Connect(demandListener, "h", "2")
	e.Step(mux, bridge, log)

	clockSeconds += 3
	bridge.Raise(int(syscall.SIGALRM))
	e.Step(mux, bridge, log) // reapIdle queues disconnects for both sides

	e.Step(mux, bridge, log) // drainDisconnections actually retires them

	if e.Tracked(supply) || e.Tracked(demand) {
		t.Fatal("both sides of an idle pair should be untracked after the reap fires")
	}
}

func TestGracefulShutdownLogsNoForbiddenCondition(t *testing.T) {
	mux := brokertest.NewFakeMultiplexer()
	bridge := &brokertest.FakeBridge{}
	log := &recordingLogger{}
	e := broker.New(broker.Config{
		SupplyListener: supplyListener,
		DemandListener: demandListener,
		DriverListener: driverListener,
	})

	s1 := mux.Connect(supplyListener, "h", "1")
	mux.Connect(demandListener, "h", "2")
	mux.Connect(driverListener, "h", "3")
	e.Step(mux, bridge, log)

	mux.Deliver(s1, []byte("x"))
	e.Step(mux, bridge, log)

	bridge.Raise(int(syscall.SIGTERM))
	e.Step(mux, bridge, log)
	if !e.Terminated() {
		t.Fatal("expected termination after SIGTERM")
	}
	e.Step(mux, bridge, log)

	for _, line := range log.lines {
		if strings.Contains(line, "Forbidden condition") {
			t.Fatalf("unexpected forbidden-condition log line during graceful shutdown: %q", line)
		}
	}
}
