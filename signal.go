package gevio

import (
	"os"
	"syscall"
)

// Signal arms handler to run whenever the OS delivers sig. handler runs in
// the driver task's goroutine (spec.md §4.5); if it returns a non-nil
// error, that error is thrown into the hub's main task, mirroring
// gevent.signal's deliver_exception_to_MAIN guard.
func (h *Hub) Signal(sig os.Signal, handler func() error) (Event, error) {
	return h.reactor.Signal(sig, func(_ os.Signal) {
		if err := guardedCall(handler); err != nil {
			h.resume(h.mainTask, resumption{err: err})
		}
	})
}

// guardedCall runs fn, converting a panic into an error so one misbehaving
// signal handler cannot take down the driver task's goroutine.
func guardedCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failureToError(r)
		}
	}()
	return fn()
}

// installDefaultSIGINT wires SIGINT to interrupt the main task with
// ErrInterrupted, the Go-native analogue of gevent's default
// signal(SIGINT, MAIN.throw, KeyboardInterrupt) installed at hub creation.
func installDefaultSIGINT(h *Hub) {
	if _, err := h.Signal(syscall.SIGINT, func() error { return ErrInterrupted }); err != nil {
		h.logger.Warn("could not install default SIGINT handler", map[string]any{"error": err.Error()})
	}
}
