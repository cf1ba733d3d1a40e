package gevio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSwitchFromDriverTaskPanics covers Testable Property 1: Switch asserts
// when called from the driver task itself. The driver field is set directly
// rather than via recreateDriver so the test never starts the driver
// goroutine — nothing would ever send on h.control to wake it, which would
// leak it past the test.
func TestSwitchFromDriverTaskPanics(t *testing.T) {
	reactor, err := NewEpollReactor()
	require.NoError(t, err)
	h := NewHub(reactor)
	defer h.Close()

	h.driverMu.Lock()
	h.driver = newTask(h, nil, "driver")
	h.driverUp = true
	h.driverMu.Unlock()

	require.PanicsWithValue(t, errSwitchFromDriver{}, func() {
		_, _ = h.Switch(h.driver)
	})
}

// TestDriverExitsWhenIdleThenRecreates covers Testable Property 5: once
// Dispatch reports clean exhaustion the driver task terminates, and the next
// Switch call transparently recreates it rather than hanging.
func TestDriverExitsWhenIdleThenRecreates(t *testing.T) {
	reactor, err := NewEpollReactor()
	require.NoError(t, err)
	h := NewHub(reactor)
	defer h.Close()
	main := h.MainTask()

	done := make(chan struct{})
	Spawn(h, main, "noop", func(wt *Task) { close(done) })
	require.NoError(t, Sleep(h, main, 0))
	<-done

	require.Eventually(t, func() bool { return !h.driverAlive() }, time.Second, time.Millisecond,
		"driver should terminate once nothing remains registered with the reactor")

	require.NoError(t, Sleep(h, main, time.Millisecond))
}
