// Package program assembles the Socket Multiplexer, Signal Bridge,
// Broker Engine, Timer/Clock and Log Sink into the daemon's run loop,
// mirroring program.cpp::run from the original implementation: bind
// the listeners, announce readiness, loop Engine.Step until a
// shutdown signal lands, then release everything in reverse order.
package program

import (
	"fmt"

	"github.com/quaydock/rendezvousd/control"
	"github.com/quaydock/rendezvousd/internal/apierr"
	"github.com/quaydock/rendezvousd/internal/broker"
	"github.com/quaydock/rendezvousd/internal/clock"
	"github.com/quaydock/rendezvousd/internal/logsink"
	"github.com/quaydock/rendezvousd/internal/options"
	"github.com/quaydock/rendezvousd/internal/signalbridge"
	"github.com/quaydock/rendezvousd/reactor"
)

// Program owns every resource Run creates and is responsible for
// releasing. The zero value is not usable; build one with New.
type Program struct {
	opt *options.Options

	bridge *signalbridge.Bridge
	mux    reactor.Multiplexer
	armer  *clock.Armer
	log    *logsink.Sink

	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	engine *broker.Engine
}

// New constructs a Program from parsed options. It performs no I/O;
// call Run to bind listeners and enter the event loop.
func New(opt *options.Options) *Program {
	bridge := signalbridge.New()
	return &Program{
		opt:     opt,
		bridge:  bridge,
		armer:   clock.NewArmer(),
		log:     logsink.NewStderr(bridge),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
}

// Run binds the configured listeners, runs the event loop until a
// shutdown signal or an unrecoverable polling failure, then releases
// every resource it acquired. The returned int is the process exit
// status.
func (p *Program) Run() (int, error) {
	mux, err := reactor.New()
	if err != nil {
		return exitStatus(apierr.ErrCodeInternal), err
	}
	p.mux = mux
	defer p.mux.Close()
	defer p.bridge.Stop()
	defer p.armer.Stop()

	supplyListener, err := p.mux.Listen(p.opt.SupplyPort)
	if err != nil {
		return exitStatus(apierr.ErrCodeBindFailed),
			apierr.New(apierr.ErrCodeBindFailed, "failed to bind supply port").WithContext("port", p.opt.SupplyPort)
	}
	demandListener, err := p.mux.Listen(p.opt.DemandPort)
	if err != nil {
		return exitStatus(apierr.ErrCodeBindFailed),
			apierr.New(apierr.ErrCodeBindFailed, "failed to bind demand port").WithContext("port", p.opt.DemandPort)
	}

	driverListener := broker.None
	if p.opt.DriverPort != 0 {
		driverListener, err = p.mux.Listen(p.opt.DriverPort)
		if err != nil {
			return exitStatus(apierr.ErrCodeBindFailed),
				apierr.New(apierr.ErrCodeBindFailed, "failed to bind driver port").WithContext("port", p.opt.DriverPort)
		}
	}

	p.invariant(supplyListener != broker.None && demandListener != broker.None,
		"program.go: Listen returned no error but a None descriptor")

	p.debug.RegisterProbe("metrics", func() any { return p.metrics.GetSnapshot() })

	p.engine = broker.New(broker.Config{
		SupplyListener: supplyListener,
		DemandListener: demandListener,
		DriverListener: driverListener,
		IdleTimeout:    p.opt.IdleTimeout,
		DriverPeriod:   p.opt.DriverPeriod,
		Verbose:        p.opt.Verbose,
		Armer:          p.armer,
		Metrics:        p.metrics,
	})

	if p.opt.DriverPort != 0 {
		p.log.Logf("Listening on ports %d, %d and %d...", p.opt.SupplyPort, p.opt.DemandPort, p.opt.DriverPort)
	} else {
		p.log.Logf("Listening on ports %d and %d...", p.opt.SupplyPort, p.opt.DemandPort)
	}

	p.armer.Arm()

	for {
		if ok := p.engine.Step(p.mux, p.bridge, p.log); !ok {
			break
		}
		if p.engine.Terminated() {
			break
		}
	}

	for name, snapshot := range p.debug.DumpState() {
		p.log.Logf("Final %s: %v", name, snapshot)
	}

	p.log.Logf("Shutting down.")
	return p.engine.Status(), nil
}

// invariant logs and panics if cond is false. It is reserved for the
// handful of post-condition checks where a violation could only come
// from a programming mistake in this package, never from a runtime
// condition a caller can hit (mirroring program.cpp's bug()).
func (p *Program) invariant(cond bool, where string) {
	if cond {
		return
	}
	p.log.Logf("Bug: %s.", where)
	panic(fmt.Sprintf("rendezvousd: invariant violated: %s", where))
}

func exitStatus(code apierr.ErrorCode) int {
	switch code {
	case apierr.ErrCodeOK:
		return 0
	case apierr.ErrCodeConfig:
		return 1
	case apierr.ErrCodeBindFailed:
		return 2
	case apierr.ErrCodePollFailed:
		return 3
	default:
		return 4
	}
}
