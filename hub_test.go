package gevio_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gevio/gevio"
)

func TestMain(m *testing.M) {
	// Every test closes its hub in a Cleanup, which stops the epoll poll
	// loop goroutine within one EpollWait tick (200ms) of the fd closing.
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T) (*gevio.Hub, *gevio.Task) {
	t.Helper()
	reactor, err := gevio.NewEpollReactor()
	require.NoError(t, err)
	h := gevio.NewHub(reactor)
	t.Cleanup(func() { _ = h.Close() })
	return h, h.MainTask()
}

func TestSpawnRunsExactlyOnce(t *testing.T) {
	h, main := newTestHub(t)

	var mu sync.Mutex
	ran := 0
	done := make(chan struct{})

	gevio.Spawn(h, main, "worker", func(wt *gevio.Task) {
		mu.Lock()
		ran++
		mu.Unlock()
		close(done)
	})

	require.NoError(t, gevio.Sleep(h, main, 50*time.Millisecond))
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, ran)
}

func TestSleepOrdering(t *testing.T) {
	h, main := newTestHub(t)

	var order []int
	var mu sync.Mutex
	record := func(n int) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
	}

	done1 := make(chan struct{})
	done2 := make(chan struct{})

	gevio.Spawn(h, main, "slow", func(wt *gevio.Task) {
		require.NoError(t, gevio.Sleep(h, wt, 40*time.Millisecond))
		record(2)
		close(done1)
	})
	gevio.Spawn(h, main, "fast", func(wt *gevio.Task) {
		require.NoError(t, gevio.Sleep(h, wt, 10*time.Millisecond))
		record(1)
		close(done2)
	})

	// Both workers only actually run once something drives the hub; block
	// main on a sleep comfortably longer than either worker's.
	require.NoError(t, gevio.Sleep(h, main, 100*time.Millisecond))
	<-done1
	<-done2

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}

func TestKillInterruptsSleep(t *testing.T) {
	h, main := newTestHub(t)

	killErr := errors.New("boom")
	result := make(chan error, 1)

	started := make(chan struct{})
	target := gevio.Spawn(h, main, "victim", func(wt *gevio.Task) {
		close(started)
		result <- gevio.Sleep(h, wt, time.Hour)
	})

	// Kick the driver so the spawn's zero-delay resume actually runs the
	// victim up to its own Sleep before we try to kill it.
	require.NoError(t, gevio.Sleep(h, main, 10*time.Millisecond))
	<-started

	gevio.Kill(h, main, target, killErr)

	select {
	case err := <-result:
		require.ErrorIs(t, err, killErr)
	case <-time.After(time.Second):
		t.Fatal("killed task never resumed")
	}
	require.False(t, target.Alive())
}

func TestUncaughtTaskFailurePropagates(t *testing.T) {
	h, main := newTestHub(t)

	var mu sync.Mutex
	var got error
	var gotTask *gevio.Task
	h.OnTaskFailure = func(tk *gevio.Task, err error) {
		mu.Lock()
		got, gotTask = err, tk
		mu.Unlock()
	}

	done := make(chan struct{})
	boom := errors.New("kaboom")
	task := gevio.Spawn(h, main, "panicky", func(wt *gevio.Task) {
		defer close(done)
		panic(boom)
	})

	require.NoError(t, gevio.Sleep(h, main, 20*time.Millisecond))
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.ErrorIs(t, got, boom)
	require.Equal(t, task.ID(), gotTask.ID())
}
