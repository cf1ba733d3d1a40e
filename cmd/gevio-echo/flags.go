package main

import (
	"time"

	"github.com/spf13/cobra"
)

type echoOptions struct {
	addr        string
	idleTimeout time.Duration
	backlog     int
}

func bindFlags(cmd *cobra.Command, opts *echoOptions) {
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:9000", "address to listen on")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", 5*time.Minute, "per-connection idle read timeout")
	cmd.Flags().IntVar(&opts.backlog, "backlog", 128, "listen backlog")
}
