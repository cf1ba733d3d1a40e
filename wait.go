package gevio

import "time"

// waitToken identifies, by pointer identity, the exact call to a wait
// primitive that armed an event — the same identity-based-sentinel trick
// spec.md's timeout design calls for, reused here to catch the only
// genuinely-stray case: something other than this call's own callback
// resuming t while it is parked in Switch.
type waitToken struct{}

// armFunc is the shape shared by Reactor.ReadEvent/WriteEvent/ReadWriteEvent.
type armFunc func(fd int, timeout time.Duration, cb Callback, arg any) (Event, error)

func waitIO(h *Hub, t *Task, arm armFunc, fd int, timeout time.Duration) (EventFlag, error) {
	tok := &waitToken{}
	var result EventFlag
	ev, err := arm(fd, timeout, func(_ Event, _ int, flags EventFlag, _ any) {
		if flags&EvTimeout != 0 {
			h.resume(t, resumption{value: tok, err: ErrTimeout})
			return
		}
		result = flags
		h.resume(t, resumption{value: tok})
	}, nil)
	if err != nil {
		return 0, err
	}
	defer ev.Cancel()

	v, err := h.Switch(t)
	if err != nil {
		return 0, err
	}
	if v != tok {
		panic(errStraySwitch{want: tok, got: v})
	}
	return result, nil
}

// WaitRead blocks t until fd is readable, or timeout elapses (timeout < 0
// disables the deadline) — spec.md §4.3 wait_read.
func WaitRead(h *Hub, t *Task, fd int, timeout time.Duration) error {
	_, err := waitIO(h, t, h.reactor.ReadEvent, fd, timeout)
	return err
}

// WaitWrite blocks t until fd is writable, or timeout elapses.
func WaitWrite(h *Hub, t *Task, fd int, timeout time.Duration) error {
	_, err := waitIO(h, t, h.reactor.WriteEvent, fd, timeout)
	return err
}

// WaitReadWrite blocks t until fd is either readable or writable, or
// timeout elapses, reporting which via the returned EventFlag.
func WaitReadWrite(h *Hub, t *Task, fd int, timeout time.Duration) (EventFlag, error) {
	return waitIO(h, t, h.reactor.ReadWriteEvent, fd, timeout)
}

// Sleep blocks t for d, the cooperative analogue of time.Sleep — spec.md
// §4.3 sleep(seconds). d <= 0 merely yields control for one dispatch round
// (used internally by Kill to deliver promptly).
func Sleep(h *Hub, t *Task, d time.Duration) error {
	tok := &waitToken{}
	ev, err := h.reactor.Timer(d, func(_ Event, _ int, _ EventFlag, _ any) {
		h.resume(t, resumption{value: tok})
	}, nil)
	if err != nil {
		return err
	}
	defer ev.Cancel()

	v, err := h.Switch(t)
	if err != nil {
		return err
	}
	if v != tok {
		panic(errStraySwitch{want: tok, got: v})
	}
	return nil
}
