package gevio

import (
	"errors"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Sentinel errors forming the taxonomy from the runtime's error-handling
// design: I/O errors propagate as-is from the OS, timeouts and closed-socket
// errors are distinguishable sentinels, and would-block never escapes to a
// caller.
var (
	// ErrClosed is returned by every I/O method on a Conn after Close.
	ErrClosed = errors.New("gevio: bad file descriptor")

	// ErrTimeout is the default timeout error raised by wait primitives and
	// cooperative-socket operations when a deadline expires.
	ErrTimeout = errors.New("gevio: timed out")

	// ErrWouldBlock is the internal would-block signal. It never surfaces to
	// a caller of a wait primitive; a cooperative socket operation reports
	// it only when the socket's timeout is 0 ("never wait").
	ErrWouldBlock = errors.New("gevio: operation would block")

	// ErrInterrupted is thrown into the main task by the default SIGINT
	// adapter.
	ErrInterrupted = errors.New("gevio: interrupted")

	// ErrHubClosed names the "hub closed" condition. No operation in this
	// package returns it: a stopped reactor's Dispatch reports
	// DispatchStopped with a nil error.
	ErrHubClosed = errors.New("gevio: hub closed")

	// ErrEmptyBuffer is returned by Conn.RecvInto when given a zero-length
	// buffer, mirroring gaio's guard against empty buffers.
	ErrEmptyBuffer = errors.New("gevio: empty buffer")
)

// errSwitchFromDriver is panicked (never returned) when Switch is called
// from the driver task itself — a programming error per spec, asserted
// rather than recovered.
type errSwitchFromDriver struct{}

func (errSwitchFromDriver) Error() string {
	return "gevio: switch() called from the driver task"
}

// errStraySwitch is panicked when a wait primitive is resumed with a value
// other than the event handle it armed — stray-switch detection.
type errStraySwitch struct {
	want, got any
}

func (e errStraySwitch) Error() string {
	return fmt.Sprintf("gevio: stray switch: expected event %v, got %v", e.want, e.got)
}

// appendErr aggregates non-nil errors using go-multierror, returning nil if
// every argument was nil. Used where cleanup can fail on more than one
// independent resource at once; currently that is CloseAll in socket.go.
func appendErr(dst error, errs ...error) error {
	var result *multierror.Error
	if dst != nil {
		result = multierror.Append(result, dst)
	}
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}
