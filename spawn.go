package gevio

import "time"

// Spawn creates a new task running fn and arms a zero-delay timer to start
// it on the next dispatch — spec.md §4.2 "spawn(fn) creates ... and arms a
// zero-delay timer that will resume it." fn receives its own *Task so it
// can call the package's wait primitives (WaitRead, Sleep, ...) without any
// goroutine-local lookup.
func Spawn(h *Hub, parent *Task, name string, fn func(t *Task)) *Task {
	t := newTask(h, parent, name)
	go runTaskBody(h, t, fn)
	if _, err := h.reactor.Timer(0, func(_ Event, _ int, _ EventFlag, arg any) {
		h.resume(arg.(*Task), resumption{})
	}, t); err != nil {
		h.logger.Error("failed to arm spawn timer", err, t.logFields())
	}
	return t
}

// SpawnLater is Spawn with the first resumption delayed by d instead of
// scheduled immediately — spec.md §4.2 spawn_later.
func SpawnLater(h *Hub, parent *Task, name string, d time.Duration, fn func(t *Task)) *Task {
	t := newTask(h, parent, name)
	go runTaskBody(h, t, fn)
	if _, err := h.reactor.Timer(d, func(_ Event, _ int, _ EventFlag, arg any) {
		h.resume(arg.(*Task), resumption{})
	}, t); err != nil {
		h.logger.Error("failed to arm spawn_later timer", err, t.logFields())
	}
	return t
}

// runTaskBody is the goroutine wrapper every spawned task runs under. It
// blocks for the task's first resumption, runs fn under a recover guard,
// and finally relinquishes control exactly as Switch does — spec.md §4.2
// "an uncaught failure in a task propagates to its parent (the driver
// task)".
func runTaskBody(h *Hub, t *Task, fn func(t *Task)) {
	res := <-t.resumeCh
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		if res.err != nil {
			panic(res.err)
		}
		fn(t)
	}()
	t.alive.Store(false)
	h.reportUncaught(t, recovered)
	h.control <- struct{}{}
}

// Kill schedules target to be resumed with err as a Throw, waking it from
// whatever it is currently waiting on — spec.md §4.2 kill(task, exception).
// caller is the task requesting the kill; if it is a live non-driver task,
// Kill yields once (Sleep(caller, 0)) after arming so the kill is delivered
// promptly, matching gevent's "if greenlet.getcurrent() is not hub: sleep(0)".
// caller may be nil when Kill is invoked from outside any task (e.g. from
// plain setup code before the hub starts driving).
func Kill(h *Hub, caller *Task, target *Task, err error) {
	if err == nil {
		err = ErrInterrupted
	}
	if _, tErr := h.reactor.Timer(0, func(_ Event, _ int, _ EventFlag, arg any) {
		h.resume(arg.(*Task), resumption{err: err})
	}, target); tErr != nil {
		h.logger.Error("failed to arm kill timer", tErr, target.logFields())
		return
	}
	if caller != nil && caller != h.driverTask() && caller.Alive() {
		Sleep(h, caller, 0)
	}
}
