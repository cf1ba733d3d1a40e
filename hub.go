package gevio

import (
	"fmt"
	"io"
	"sync"
)

// Hub is the process-wide scheduler: it owns the reactor, the driver task,
// and the "baton" that enforces the single-active-task invariant (spec.md
// §5, Testable Property 1). See SPEC_FULL.md §4.1 for why Switch is
// realized as a channel handoff rather than a literal stack swap.
//
// A Hub is safe to share across the goroutines of the tasks it schedules —
// by construction, at most one of them is ever actually running at a time.
type Hub struct {
	reactor Reactor
	logger  Logger

	mainTask *Task

	driverMu sync.Mutex
	driver   *Task
	driverUp bool

	// control is the baton: capacity 1, holding at most one pending
	// "control has been relinquished" token at any instant, enforced by
	// the strict alternation described in SPEC_FULL.md §4.1.
	control chan struct{}

	// OnTaskFailure, if set, is invoked (from the driver task's goroutine)
	// whenever a spawned task's body panics without recovering internally.
	// Defaults to logging the failure — spec.md §4.2/§7 "uncaught failure
	// ... propagates to its parent (the driver task)".
	OnTaskFailure func(t *Task, err error)
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithLogger overrides the Hub's Logger (default: a stderr zerolog logger).
func WithLogger(l Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub constructs a Hub around the given Reactor. Most programs only need
// one; tests construct several independent hubs to keep runs isolated
// (design notes §9: "avoid truly-global state to enable multiple hubs in
// tests").
func NewHub(reactor Reactor, opts ...Option) *Hub {
	h := &Hub{
		reactor: reactor,
		logger:  defaultLogger(),
		control: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(h)
	}
	h.mainTask = newTask(h, nil, "main")
	h.logger.Info("hub created", map[string]any{"reactor_version": reactor.Version()})
	installDefaultSIGINT(h)
	return h
}

// MainTask returns the task representing the goroutine that constructed
// the hub (gevent's MAIN greenlet analogue).
func (h *Hub) MainTask() *Task { return h.mainTask }

// Reactor returns the hub's underlying event-demultiplexing engine.
func (h *Hub) Reactor() Reactor { return h.reactor }

func (h *Hub) driverTask() *Task {
	h.driverMu.Lock()
	defer h.driverMu.Unlock()
	return h.driver
}

func (h *Hub) driverAlive() bool {
	h.driverMu.Lock()
	defer h.driverMu.Unlock()
	return h.driverUp
}

// recreateDriver starts a fresh driver task and goroutine. The caller must
// hand control to it (send on h.control) immediately afterward — spec.md
// §4.1 "If the driver task is dead, it is recreated before the switch."
func (h *Hub) recreateDriver() {
	h.driverMu.Lock()
	d := newTask(h, nil, "driver")
	h.driver = d
	h.driverUp = true
	h.driverMu.Unlock()
	go h.runDriver(d)
}

// runDriver is the driver task's body: it waits to be handed control once,
// then repeatedly calls Dispatch until dispatch signals clean exhaustion,
// an external stop, or an error — any of which ends the driver task.
func (h *Hub) runDriver(d *Task) {
	<-h.control
	for {
		status, err := h.reactor.Dispatch()
		if err != nil || status != DispatchRan {
			h.driverMu.Lock()
			h.driverUp = false
			h.driverMu.Unlock()
			d.alive.Store(false)
			if err != nil {
				h.logger.Error("dispatch returned an error; driver task terminating", err, nil)
			}
			return
		}
	}
}

// resume wakes task t with res and blocks until t relinquishes control
// again, either by calling Switch or by finishing. It must be called only
// from the driver task's goroutine (i.e. from inside a reactor callback),
// matching spec.md §4.1's "reactor callbacks ... resume exactly one user
// task ... control then returns to driver task when that user task next
// switches out."
//
// If t is nil or has already finished, resume is a silent no-op: the event
// that would have woken it no longer has anyone to deliver to (e.g. Kill
// racing a task's natural completion).
func (h *Hub) resume(t *Task, res resumption) {
	if t == nil || !t.Alive() {
		return
	}
	t.resumeCh <- res
	<-h.control
}

// Switch transfers control from task t to the hub's driver, and returns
// once some reactor callback resumes t. Calling Switch from the driver
// task itself is a programming error and panics, per spec.md §4.1's
// "asserts otherwise" (Testable Property 1).
func (h *Hub) Switch(t *Task) (any, error) {
	if t == h.driverTask() {
		panic(errSwitchFromDriver{})
	}
	if t.SwitchOut != nil {
		if err := t.SwitchOut(); err != nil {
			h.logger.Error("switch_out hook failed", err, t.logFields())
		}
	}
	if !h.driverAlive() {
		h.recreateDriver()
	}
	h.control <- struct{}{}
	res := <-t.resumeCh
	return res.value, res.err
}

func (h *Hub) reportUncaught(t *Task, recovered any) {
	if recovered == nil {
		return
	}
	err := failureToError(recovered)
	if h.OnTaskFailure != nil {
		h.OnTaskFailure(t, err)
		return
	}
	h.logger.Error("uncaught failure propagated to driver task", err, t.logFields())
}

func failureToError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("gevio: task panic: %v", v)
}

// Close stops the hub's reactor (Reactor.Stop) and releases its resources
// if it implements io.Closer.
func (h *Hub) Close() error {
	h.reactor.Stop()
	if c, ok := h.reactor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
