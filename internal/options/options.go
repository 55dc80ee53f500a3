// Package options parses the CLI surface the broker core recognizes:
// the two required ports, the optional driver port, idle/heartbeat
// timing, verbosity and the help/version short-circuit.
package options

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/quaydock/rendezvousd/internal/apierr"
)

// Options mirrors spec §6's CLI surface exactly.
type Options struct {
	SupplyPort   uint16
	DemandPort   uint16
	DriverPort   uint16 // 0 disables the driver listener
	IdleTimeout  uint32 // seconds; 0 disables idle reaping
	DriverPeriod uint32 // seconds; 0 disables periodic heartbeats
	Verbose      bool
	ExitFlag     bool // set by --help/--version: run nothing, exit 0
}

const (
	name    = "rendezvousd"
	version = "1.0.0"
)

// Parse parses args (typically os.Args[1:]) into Options. A config
// error (missing/zero required port) is returned as an *apierr.Error
// with ErrCodeConfig, per §7(a) of the design.
func Parse(args []string) (*Options, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	var opt Options
	var showHelp, showVersion bool

	fs.Uint16Var(&opt.SupplyPort, "supply-port", 0, "TCP port for supply peers (required)")
	fs.Uint16Var(&opt.DemandPort, "demand-port", 0, "TCP port for demand peers (required)")
	fs.Uint16Var(&opt.DriverPort, "driver-port", 0, "TCP port for driver subscribers (0 disables)")
	fs.Uint32Var(&opt.IdleTimeout, "idle-timeout", 0, "seconds of inactivity before a connection is reaped (0 disables)")
	fs.Uint32Var(&opt.DriverPeriod, "driver-period", 0, "seconds between periodic driver heartbeats (0 disables)")
	fs.BoolVarP(&opt.Verbose, "verbose", "v", false, "log per-message byte counts and idle expiry")
	fs.BoolVarP(&showHelp, "help", "h", false, "show this help message")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			opt.ExitFlag = true
			return &opt, nil
		}
		return nil, apierr.New(apierr.ErrCodeConfig, err.Error())
	}

	if showHelp {
		fmt.Fprintf(os.Stdout, "%s %s\n\nUsage:\n", name, version)
		fs.PrintDefaults()
		opt.ExitFlag = true
		return &opt, nil
	}
	if showVersion {
		fmt.Fprintf(os.Stdout, "%s %s\n", name, version)
		opt.ExitFlag = true
		return &opt, nil
	}

	if opt.SupplyPort == 0 {
		return nil, apierr.New(apierr.ErrCodeConfig, "--supply-port is required and must be nonzero")
	}
	if opt.DemandPort == 0 {
		return nil, apierr.New(apierr.ErrCodeConfig, "--demand-port is required and must be nonzero")
	}

	return &opt, nil
}
