package gevio

import (
	"os"
	"time"
)

// EventFlag is the bitmask passed to a Callback describing why it fired.
type EventFlag uint8

const (
	// EvRead indicates the registered fd became readable.
	EvRead EventFlag = 1 << iota
	// EvWrite indicates the registered fd became writable.
	EvWrite
	// EvTimeout indicates the event's deadline elapsed before it fired for
	// any other reason.
	EvTimeout
)

// Callback is invoked by the reactor's dispatch loop when an armed Event
// fires. It runs in the driver task's goroutine and must never call
// Hub.Switch. arg is whatever was passed when the event was armed — by
// convention a (*Task, error) pair for wait primitives.
type Callback func(ev Event, fd int, flags EventFlag, arg any)

// Event is a handle to an armed reactor registration. Cancel is idempotent:
// calling it more than once, or after the event has already fired, is a
// no-op that returns nil.
type Event interface {
	Cancel() error
}

// DispatchStatus is the coarse result of one Reactor.Dispatch call.
type DispatchStatus int

const (
	// DispatchRan means Dispatch processed at least one event and more
	// registrations remain; the driver should call Dispatch again.
	DispatchRan DispatchStatus = iota
	// DispatchIdle means there were no registered events at all — clean
	// exhaustion. The driver task terminates.
	DispatchIdle
	// DispatchStopped means Stop was called. The driver task terminates.
	DispatchStopped
)

// Reactor is the abstract event-demultiplexing engine the runtime consumes.
// It is deliberately external to the scheduler: the hub never polls file
// descriptors itself, it only arms events on, and dispatches, a Reactor.
//
// All methods except Stop are called only by whichever goroutine currently
// holds hub.go's baton — the driver task inside Dispatch, or a user task
// arming an event before it switches out (NewHub also arms the default
// SIGINT handler before any task runs). By construction these never run
// concurrently, so a Reactor implementation need not be safe for
// concurrent use by multiple tasks, only safe against Stop being called
// asynchronously.
type Reactor interface {
	// Timer arms a one-shot callback after d. d <= 0 fires on the next
	// Dispatch call.
	Timer(d time.Duration, cb Callback, arg any) (Event, error)

	// ReadEvent arms cb to fire when fd becomes readable, or when timeout
	// elapses first (timeout < 0 disables the deadline).
	ReadEvent(fd int, timeout time.Duration, cb Callback, arg any) (Event, error)

	// WriteEvent is the write-readiness analogue of ReadEvent.
	WriteEvent(fd int, timeout time.Duration, cb Callback, arg any) (Event, error)

	// ReadWriteEvent arms cb to fire when fd becomes either readable or
	// writable, or on timeout.
	ReadWriteEvent(fd int, timeout time.Duration, cb Callback, arg any) (Event, error)

	// Signal arms cb to fire whenever the OS delivers sig to this process.
	Signal(sig os.Signal, cb func(os.Signal)) (Event, error)

	// Dispatch blocks until at least one armed event fires (or there are
	// none left, or Stop is called, or an internal error occurs), runs the
	// corresponding callbacks, and returns.
	Dispatch() (DispatchStatus, error)

	// Reinit re-arms any kernel-level state the reactor depends on. Used
	// after process-level events that invalidate kernel handles (see
	// DESIGN.md for why this runtime does not offer fork()).
	Reinit() error

	// Stop requests that a Dispatch in progress (or the next one) returns
	// DispatchStopped. Safe to call from any goroutine.
	Stop()

	// Version reports a reactor implementation identifier, logged once at
	// hub creation for diagnostic purposes (spec's get_version()/
	// get_header_version() row).
	Version() string
}
