//go:build linux

package gevio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gevio/gevio"
)

// TestReactorReinit replaces the original fork() scenario (DESIGN.md Open
// Question (d)): it exercises the one piece of that scenario a Go runtime
// can safely offer — re-arming the reactor's kernel-level state — without
// forking the process itself.
func TestReactorReinit(t *testing.T) {
	reactor, err := gevio.NewEpollReactor()
	require.NoError(t, err)
	t.Cleanup(func() {
		if c, ok := reactor.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	})

	h := gevio.NewHub(reactor)
	main := h.MainTask()

	a, b, err := gevio.SocketPair(h)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()
	a.SetTimeout(time.Second)
	b.SetTimeout(time.Second)

	require.NoError(t, reactor.Reinit())

	_, err = a.Send(main, []byte("still alive"))
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := b.RecvInto(main, buf)
	require.NoError(t, err)
	require.Equal(t, "still alive", string(buf[:n]))
}
