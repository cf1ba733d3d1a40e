package gevio_test

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gevio/gevio"
)

func TestTCPEchoRoundTrip(t *testing.T) {
	h, main := newTestHub(t)

	listener, err := gevio.TCPListener(h, "127.0.0.1:0", 16)
	require.NoError(t, err)
	defer listener.Close()

	addr, err := listener.LocalAddr()
	require.NoError(t, err)
	sa4, ok := addr.(*unix.SockaddrInet4)
	require.True(t, ok)
	target := net.JoinHostPort(net.IP(sa4.Addr[:]).String(), strconv.Itoa(sa4.Port))

	done := make(chan struct{})
	gevio.Spawn(h, main, "server", func(st *gevio.Task) {
		defer close(done)
		conn, _, err := listener.Accept(st)
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.RecvInto(st, buf)
		if err != nil {
			return
		}
		_ = conn.SendAll(st, buf[:n])
	})

	client, err := gevio.CreateConnection(h, main, target, time.Second)
	require.NoError(t, err)
	defer client.Close()

	client.SetTimeout(time.Second)
	_, err = client.Send(main, []byte("ping"))
	require.NoError(t, err)

	reply := make([]byte, 64)
	n, err := client.RecvInto(main, reply)
	require.NoError(t, err)
	require.Equal(t, "ping", string(reply[:n]))

	<-done
}

func TestSocketPairRoundTrip(t *testing.T) {
	h, main := newTestHub(t)

	a, b, err := gevio.SocketPair(h)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	a.SetTimeout(time.Second)
	b.SetTimeout(time.Second)

	_, err = a.Send(main, []byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := b.RecvInto(main, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestAcceptRespectsZeroTimeout(t *testing.T) {
	h, _ := newTestHub(t)

	listener, err := gevio.TCPListener(h, "127.0.0.1:0", 16)
	require.NoError(t, err)
	defer listener.Close()
	listener.SetTimeout(0)

	_, _, err = listener.Accept(h.MainTask())
	require.ErrorIs(t, err, gevio.ErrWouldBlock)
}

// TestRecvTimesOutOnIdleSocket is Scenario C against a real blocking I/O
// call (rather than Sleep): a Conn with a short timeout and nothing to read
// raises ErrTimeout instead of waiting forever.
func TestRecvTimesOutOnIdleSocket(t *testing.T) {
	h, main := newTestHub(t)

	a, b, err := gevio.SocketPair(h)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	a.SetTimeout(20 * time.Millisecond)

	_, err = a.RecvInto(main, make([]byte, 16))
	require.ErrorIs(t, err, gevio.ErrTimeout)
}

// TestKillInterruptsRecv is Scenario E's literal case: task T is blocked in
// recv, and Kill(T, err) delivers err from that recv call rather than from a
// substitute Sleep.
func TestKillInterruptsRecv(t *testing.T) {
	h, main := newTestHub(t)

	a, b, err := gevio.SocketPair(h)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()
	a.SetTimeout(time.Hour)

	killErr := errors.New("boom")
	result := make(chan error, 1)

	started := make(chan struct{})
	target := gevio.Spawn(h, main, "victim", func(wt *gevio.Task) {
		close(started)
		_, err := a.RecvInto(wt, make([]byte, 16))
		result <- err
	})

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

// TestClosedConnRejectsFurtherIO covers Testable Property 8: Close
// is idempotent, and every I/O method on an already-closed Conn reports
// ErrClosed, the EBADF-equivalent spec.md §4.6 calls for.
func TestClosedConnRejectsFurtherIO(t *testing.T) {
	h, main := newTestHub(t)

	a, b, err := gevio.SocketPair(h)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close()) // idempotent

	_, err = a.RecvInto(main, make([]byte, 8))
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, _, err = a.RecvFromInto(main, make([]byte, 8))
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, err = a.Send(main, []byte("x"))
	require.ErrorIs(t, err, gevio.ErrClosed)

	err = a.SendAll(main, []byte("x"))
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, err = a.SendTo(main, []byte("x"), nil)
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, _, err = a.Accept(main)
	require.ErrorIs(t, err, gevio.ErrClosed)

	err = a.Connect(main, nil)
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, err = a.LocalAddr()
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, err = a.RemoteAddr()
	require.ErrorIs(t, err, gevio.ErrClosed)

	_, err = a.Dup()
	require.ErrorIs(t, err, gevio.ErrClosed)
}
