// Command gevio-echo is a minimal echo server driving spec.md §8 Scenario
// A end to end: one listener task accepting connections, one task per
// connection, all cooperatively scheduled on a single OS thread's worth of
// goroutines by a gevio.Hub.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &echoOptions{}
	cmd := &cobra.Command{
		Use:   "gevio-echo",
		Short: "Run a cooperatively-scheduled TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd.Context(), opts)
		},
	}
	bindFlags(cmd, opts)
	return cmd
}
