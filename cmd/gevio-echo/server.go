package main

import (
	"context"
	"errors"
	"time"

	"github.com/gevio/gevio"
)

func runEcho(ctx context.Context, opts *echoOptions) error {
	reactor, err := gevio.NewEpollReactor()
	if err != nil {
		return err
	}
	h := gevio.NewHub(reactor)
	defer h.Close()

	mainTask := h.MainTask()

	listener, err := gevio.TCPListener(h, opts.addr, opts.backlog)
	if err != nil {
		return err
	}
	defer listener.Close()

	gevio.Spawn(h, mainTask, "acceptor", func(at *gevio.Task) {
		acceptLoop(h, at, listener, opts.idleTimeout)
	})

	// Block the main task until SIGINT delivers ErrInterrupted into it —
	// the default signal handler wired up by gevio.NewHub.
	for {
		if err := gevio.Sleep(h, mainTask, 24*time.Hour); err != nil {
			if errors.Is(err, gevio.ErrInterrupted) {
				return nil
			}
			return err
		}
	}
}

func acceptLoop(h *gevio.Hub, at *gevio.Task, listener *gevio.Conn, idleTimeout time.Duration) {
	for {
		conn, _, err := listener.Accept(at)
		if err != nil {
			return
		}
		conn.SetTimeout(idleTimeout)
		gevio.Spawn(h, at, "conn", func(ct *gevio.Task) {
			echoConn(ct, conn)
		})
	}
}

func echoConn(t *gevio.Task, conn *gevio.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.RecvInto(t, buf)
		if err != nil || n == 0 {
			return
		}
		if err := conn.SendAll(t, buf[:n]); err != nil {
			return
		}
	}
}
