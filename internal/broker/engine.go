package broker

import (
	"syscall"

	"github.com/eapache/queue"

	"github.com/quaydock/rendezvousd/internal/clock"
)

// Engine is the pairing and forwarding state machine. It holds no
// socket or signal resources itself; Config wires it to the listeners
// a Multiplexer has already bound, and Step is called once per
// event-loop iteration by the program assembly.
type Engine struct {
	supplyListener Descriptor
	demandListener Descriptor
	driverListener Descriptor // None when the driver port is disabled

	states map[Descriptor]*state

	unmatchedSupply      *queue.Queue
	unmatchedDemand      *queue.Queue
	unmatchedSupplyCount int
	unmatchedDemandCount int

	lastActivity map[Descriptor]int64

	idleTimeout  uint32 // seconds; 0 disables idle reaping
	driverPeriod uint32 // seconds; 0 disables periodic heartbeats
	verbose      bool

	alarmed    bool
	terminated bool
	status     int

	armer   *clock.Armer
	metrics Metrics
	now     func() int64
}

// Config is the set of already-bound listener descriptors and timing
// parameters the engine needs at construction. DriverListener is None
// when --driver-port was not given.
type Config struct {
	SupplyListener Descriptor
	DemandListener Descriptor
	DriverListener Descriptor

	IdleTimeout  uint32
	DriverPeriod uint32
	Verbose      bool

	Armer   *clock.Armer
	Metrics Metrics

	// Now overrides the wall-clock source; nil uses clock.NowSeconds.
	// Tests inject a controllable clock to exercise idle reaping and
	// periodic driver heartbeats without real sleeps.
	Now func() int64
}

// New builds an Engine ready to Step.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = clock.NowSeconds
	}
	return &Engine{
		supplyListener: cfg.SupplyListener,
		demandListener: cfg.DemandListener,
		driverListener: cfg.DriverListener,

		states: make(map[Descriptor]*state),

		unmatchedSupply: queue.New(),
		unmatchedDemand: queue.New(),

		lastActivity: make(map[Descriptor]int64),

		idleTimeout:  cfg.IdleTimeout,
		driverPeriod: cfg.DriverPeriod,
		verbose:      cfg.Verbose,

		armer:   cfg.Armer,
		metrics: cfg.Metrics,
		now:     now,
	}
}

// Terminated reports whether a shutdown signal has been observed.
func (e *Engine) Terminated() bool { return e.terminated }

// Status is the process exit status the engine has decided on, valid
// once Terminated reports true (or Step has returned false).
func (e *Engine) Status() int { return e.status }

// UnmatchedSupplyCount and UnmatchedDemandCount expose the two
// counters invariant P3 constrains (their product is always zero).
func (e *Engine) UnmatchedSupplyCount() int { return e.unmatchedSupplyCount }
func (e *Engine) UnmatchedDemandCount() int { return e.unmatchedDemandCount }

// Tracked reports whether d still has a state record: still
// unmatched, still paired, or still a connected driver.
func (e *Engine) Tracked(d Descriptor) bool {
	_, ok := e.states[d]
	return ok
}

// Step runs exactly one iteration of the broker's event loop:
//
//  1. drain pending signals, noting ALRM as a heartbeat tick and
//     INT/TERM/QUIT as a shutdown request;
//  2. rearm the one-second alarm if it fired;
//  3. short-circuit straight to tearing down every listener and every
//     still-tracked descriptor if shutting down;
//  4. poll the multiplexer, unless the alarm ticked this iteration;
//  5. drain disconnections, new connections and incoming bytes, in
//     that order, against a single timestamp taken once for the whole
//     iteration;
//  6. reap idle connections if the alarm ticked this iteration.
//
// It returns false only when the multiplexer reports an unrecoverable
// polling failure; the caller should stop looping in that case.
func (e *Engine) Step(mux Multiplexer, bridge Bridge, log Logger) bool {
	e.alarmed = false

	for {
		sig := bridge.Next()
		if sig == 0 {
			break
		}
		name := signalName(sig)
		log.Logf("Caught signal %d (%s).", sig, name)
		switch syscall.Signal(sig) {
		case syscall.SIGALRM:
			e.alarmed = true
		case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
			e.terminated = true
		}
	}

	if e.alarmed && e.armer != nil {
		e.armer.Arm()
	}

	if e.terminated {
		// Closing the listeners alone would leave every accepted
		// descriptor to be torn down silently by the multiplexer's
		// own Close(), bypassing the normal disconnection path. Drive
		// every tracked descriptor through Disconnect and drain the
		// resulting events here instead, so shutdown looks like any
		// other round of disconnections to the rest of the engine.
		for d := range e.states {
			mux.Disconnect(d)
		}
		mux.Disconnect(e.supplyListener)
		mux.Disconnect(e.demandListener)
		mux.Disconnect(e.driverListener)
		e.drainDisconnections(mux, log)
		return true
	}

	if !e.alarmed {
		if !mux.Serve() {
			log.Logf("Error while serving the listening descriptors.")
			e.terminated = true
			e.status = 1
			return false
		}
	}

	now := e.now()

	e.drainDisconnections(mux, log)
	newDemand, justConnected := e.drainConnections(mux, log, now)
	e.publishToDrivers(mux, now, newDemand, justConnected)
	e.drainIncoming(mux, log, now)

	if e.alarmed && e.idleTimeout > 0 {
		e.reapIdle(mux, log, now)
	}

	e.refreshMetrics()
	return true
}

func (e *Engine) drainDisconnections(mux Multiplexer, log Logger) {
	for {
		d := mux.NextDisconnection()
		if d == None {
			break
		}
		log.Logf("Disconnected %s:%s (descriptor %d).", mux.GetHost(d), mux.GetPort(d), d)
		delete(e.lastActivity, d)

		st, ok := e.states[d]
		if !ok {
			continue
		}
		delete(e.states, d)

		var other Descriptor
		switch st.kind {
		case kindUnmatchedSupply:
			e.unmatchedSupplyCount--
		case kindUnmatchedDemand:
			e.unmatchedDemandCount--
		case kindPairedSupply, kindPairedDemand:
			other = st.peer
		case kindDriver:
		}
		if other != None {
			if ost, ok := e.states[other]; ok {
				ost.peer = None
			}
			mux.Disconnect(other)
		}
	}
}

// drainConnections classifies every newly-accepted descriptor. It
// returns the count of demand connections that went unmatched this
// iteration (the "new_demand" trigger for an off-cycle driver push)
// and the set of drivers that connected this very iteration, which
// already received their initial count inline and must not also
// receive this iteration's publishToDrivers push.
func (e *Engine) drainConnections(mux Multiplexer, log Logger, now int64) (newDemand int, justConnected []Descriptor) {
	for {
		d := mux.NextConnection()
		if d == None {
			break
		}
		log.Logf("New connection from %s:%s (descriptor %d).", mux.GetHost(d), mux.GetPort(d), d)

		switch mux.GetListener(d) {
		case e.supplyListener:
			e.classifySupply(mux, d, now)
			e.lastActivity[d] = now
		case e.demandListener:
			if e.classifyDemand(mux, d, now) {
				newDemand++
			}
			e.lastActivity[d] = now
		case e.driverListener:
			if e.driverListener == None {
				log.Logf("Forbidden condition met (drainConnections: driver accept with no driver listener).")
				mux.Disconnect(d)
				continue
			}
			e.states[d] = &state{kind: kindDriver}
			mux.Writef(d, "%d\n", e.unmatchedDemandCount)
			e.lastActivity[d] = now
			justConnected = append(justConnected, d)
		default:
			log.Logf("Forbidden condition met (drainConnections: accept from unknown listener).")
			mux.Disconnect(d)
		}
	}
	return newDemand, justConnected
}

func (e *Engine) classifySupply(mux Multiplexer, d Descriptor, now int64) {
	if e.unmatchedDemandCount == 0 {
		e.states[d] = &state{kind: kindUnmatchedSupply}
		e.unmatchedSupplyCount++
		mux.Freeze(d)
		e.unmatchedSupply.Add(d)
		return
	}
	other := e.popUnmatched(e.unmatchedDemand, kindUnmatchedDemand)
	e.unmatchedDemandCount--
	e.states[d] = &state{kind: kindPairedSupply, peer: other}
	e.states[other] = &state{kind: kindPairedDemand, peer: d}
	mux.Unfreeze(other)
	e.lastActivity[other] = now
}

func (e *Engine) classifyDemand(mux Multiplexer, d Descriptor, now int64) (queued bool) {
	if e.unmatchedSupplyCount == 0 {
		e.states[d] = &state{kind: kindUnmatchedDemand}
		e.unmatchedDemandCount++
		mux.Freeze(d)
		e.unmatchedDemand.Add(d)
		return true
	}
	other := e.popUnmatched(e.unmatchedSupply, kindUnmatchedSupply)
	e.unmatchedSupplyCount--
	e.states[d] = &state{kind: kindPairedDemand, peer: other}
	e.states[other] = &state{kind: kindPairedSupply, peer: d}
	mux.Unfreeze(other)
	e.lastActivity[other] = now
	return false
}

// popUnmatched pops the oldest live descriptor of the given kind off
// q. Entries become stale (disconnected, or already paired through
// the other queue) without being removed from q itself, since
// eapache/queue has no middle-removal primitive; popUnmatched simply
// skips stale front entries until it finds one still present in
// e.states with a matching kind, or the queue runs dry.
func (e *Engine) popUnmatched(q *queue.Queue, want kind) Descriptor {
	for q.Length() > 0 {
		d := q.Peek().(Descriptor)
		q.Remove()
		if st, ok := e.states[d]; ok && st.kind == want {
			return d
		}
	}
	return None
}

// publishToDrivers pushes the unmatched-demand count to every
// connected driver, either because newDemand connections queued up
// this iteration (an immediate push of that count, per connection
// spec) or because the periodic alarm ticked and driverPeriod has
// elapsed for that driver (a push of the live count). justConnected
// lists drivers that accepted this same iteration; they already got
// their initial count written inline and are skipped here.
func (e *Engine) publishToDrivers(mux Multiplexer, now int64, newDemand int, justConnected []Descriptor) {
	if newDemand == 0 && !e.alarmed {
		return
	}
	for d, st := range e.states {
		if st.kind != kindDriver {
			continue
		}
		if contains(justConnected, d) {
			continue
		}
		switch {
		case newDemand > 0:
			mux.Writef(d, "%d\n", newDemand)
		case e.driverPeriod > 0 && clock.SinceClamped(now, e.lastActivity[d]) >= int64(e.driverPeriod):
			mux.Writef(d, "%d\n", e.unmatchedDemandCount)
		default:
			continue
		}
		e.lastActivity[d] = now
	}
}

func (e *Engine) drainIncoming(mux Multiplexer, log Logger, now int64) {
	for {
		d := mux.NextIncoming()
		if d == None {
			break
		}
		buf := mux.SwapIncoming(d)
		e.lastActivity[d] = now

		st, ok := e.states[d]
		if !ok {
			log.Logf("Forbidden condition met (drainIncoming: data on untracked descriptor).")
			continue
		}
		if st.kind == kindDriver {
			continue // drivers are publish-only; anything they send is discarded
		}
		if st.peer == None {
			log.Logf("Forbidden condition met (drainIncoming: data on an unpaired descriptor).")
			continue
		}

		if e.verbose {
			plural, verb := "s", "are"
			if len(buf) == 1 {
				plural, verb = "", "is"
			}
			log.Logf("%d byte%s from %s:%s %s sent to %s:%s.",
				len(buf), plural, mux.GetHost(d), mux.GetPort(d), verb,
				mux.GetHost(st.peer), mux.GetPort(st.peer))
		}
		mux.AppendOutgoing(st.peer, buf)
		e.lastActivity[st.peer] = now
	}
}

func (e *Engine) reapIdle(mux Multiplexer, log Logger, now int64) {
	for d, ts := range e.lastActivity {
		if clock.SinceClamped(now, ts) < int64(e.idleTimeout) {
			continue
		}
		if e.verbose {
			log.Logf("Connection %s:%s has timed out (descriptor %d).", mux.GetHost(d), mux.GetPort(d), d)
		}
		mux.Disconnect(d)
	}
}

func (e *Engine) refreshMetrics() {
	if e.metrics == nil {
		return
	}
	e.metrics.Set("unmatched_supply", e.unmatchedSupplyCount)
	e.metrics.Set("unmatched_demand", e.unmatchedDemandCount)
	e.metrics.Set("tracked_descriptors", len(e.states))
}

func contains(ds []Descriptor, d Descriptor) bool {
	for _, x := range ds {
		if x == d {
			return true
		}
	}
	return false
}

func signalName(sig int) string {
	switch syscall.Signal(sig) {
	case syscall.SIGALRM:
		return "SIGALRM"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	default:
		return "unknown"
	}
}
