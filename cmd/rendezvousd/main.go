// Command rendezvousd runs the two-sided TCP rendezvous broker: pairs
// supply connections with demand connections FIFO and forwards bytes
// between each paired peer, optionally publishing the live unmet-demand
// count to driver subscribers.
package main

import (
	"fmt"
	"os"

	"github.com/quaydock/rendezvousd/internal/options"
	"github.com/quaydock/rendezvousd/internal/program"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opt, err := options.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if opt.ExitFlag {
		return 0
	}

	status, err := program.New(opt).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
