package gevio

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// blockForever is Conn's sentinel timeout meaning "wait with no deadline",
// the Go-typed equivalent of gevent socket's settimeout(None).
const blockForever time.Duration = -1

// Conn is a non-blocking, cooperatively-scheduled socket — spec.md §4.6's
// socket, grounded on original_source/gevent/socket.py's class socket. The
// underlying fd is always O_NONBLOCK (python's self._sock.setblocking(0)
// in the constructor); Conn.timeout governs how operations *wait*, not
// whether the fd itself blocks.
type Conn struct {
	h      *Hub
	fd     int
	family int
	sotype int
	proto  int

	timeout atomic.Int64 // time.Duration, blockForever by default

	closed atomic.Bool
}

// NewSocket creates a Conn around a fresh, non-blocking socket(2).
func NewSocket(h *Hub, family, sotype, proto int) (*Conn, error) {
	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, err
	}
	return wrapFD(h, fd, family, sotype, proto), nil
}

func wrapFD(h *Hub, fd, family, sotype, proto int) *Conn {
	c := &Conn{h: h, fd: fd, family: family, sotype: sotype, proto: proto}
	c.timeout.Store(int64(blockForever))
	_ = unix.SetNonblock(fd, true)
	return c
}

// Fd returns the underlying file descriptor.
func (c *Conn) Fd() int { return c.fd }

// Family returns the socket's address family (AF_INET, AF_UNIX, ...) —
// spec.md §6's read-only family attribute.
func (c *Conn) Family() int { return c.family }

// Type returns the socket's type (SOCK_STREAM, SOCK_DGRAM, ...) — spec.md
// §6's read-only socktype attribute.
func (c *Conn) Type() int { return c.sotype }

// Proto returns the socket's protocol, as passed to NewSocket — spec.md §6's
// read-only proto attribute.
func (c *Conn) Proto() int { return c.proto }

// Timeout returns the current wait timeout: blockForever (wait with no
// deadline), 0 (never wait — operations return ErrWouldBlock instead), or
// a positive duration.
func (c *Conn) Timeout() time.Duration { return time.Duration(c.timeout.Load()) }

// SetTimeout sets the wait timeout. SetBlocking(false) is SetTimeout(0);
// SetBlocking(true) is SetTimeout(blockForever).
func (c *Conn) SetTimeout(d time.Duration) { c.timeout.Store(int64(d)) }

// SetBlocking is the coarse on/off form of SetTimeout, named to match
// socket.setblocking.
func (c *Conn) SetBlocking(block bool) {
	if block {
		c.SetTimeout(blockForever)
	} else {
		c.SetTimeout(0)
	}
}

func (c *Conn) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close releases the socket. Idempotent, like the original's replacement
// of self._sock with a _closedsocket sentinel.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}

// CloseAll closes every conn, aggregating any failures into one error —
// the same aggregate-error shape tcplb-style shutdown paths use for
// closing several independent resources at once.
func CloseAll(conns ...*Conn) error {
	var err error
	for _, c := range conns {
		if c == nil {
			continue
		}
		err = appendErr(err, c.Close())
	}
	return err
}

// Dup returns a Conn sharing the same underlying OS socket via dup(2).
func (c *Conn) Dup() (*Conn, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	nfd, err := unix.Dup(c.fd)
	if err != nil {
		return nil, err
	}
	return wrapFD(c.h, nfd, c.family, c.sotype, c.proto), nil
}

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() (unix.Sockaddr, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return unix.Getsockname(c.fd)
}

// RemoteAddr returns the socket's connected peer address.
func (c *Conn) RemoteAddr() (unix.Sockaddr, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return unix.Getpeername(c.fd)
}

// BindAndListen binds to sa and starts listening with the given backlog,
// best-effort setting SO_REUSEADDR first — original_source/gevent/
// socket.py bind_and_listen.
func BindAndListen(h *Hub, family, sotype int, sa unix.Sockaddr, backlog int) (*Conn, error) {
	c, err := NewSocket(h, family, sotype, 0)
	if err != nil {
		return nil, err
	}
	_ = unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(c.fd, sa); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := unix.Listen(c.fd, backlog); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// TCPListener resolves addr and returns a bound, listening TCP Conn —
// original_source/gevent/socket.py tcp_listener.
func TCPListener(h *Hub, addr string, backlog int) (*Conn, error) {
	family, sa, err := resolveTCPSockaddr(addr)
	if err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = 128
	}
	return BindAndListen(h, family, unix.SOCK_STREAM, sa, backlog)
}

// SocketPair returns two connected Conns sharing an AF_UNIX socketpair(2) —
// original_source/gevent/socket.py socketpair.
func SocketPair(h *Hub) (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return wrapFD(h, fds[0], unix.AF_UNIX, unix.SOCK_STREAM, 0),
		wrapFD(h, fds[1], unix.AF_UNIX, unix.SOCK_STREAM, 0), nil
}

// Accept blocks t until a connection arrives, or c's timeout elapses —
// spec.md §4.6 accept, matching the original's EWOULDBLOCK/wait_read loop
// (skipped entirely when c.Timeout() == 0).
func (c *Conn) Accept(t *Task) (*Conn, unix.Sockaddr, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	for {
		nfd, sa, err := unix.Accept4(c.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return wrapFD(c.h, nfd, c.family, c.sotype, c.proto), sa, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return nil, nil, err
		}
		to := c.Timeout()
		if to == 0 {
			return nil, nil, ErrWouldBlock
		}
		if werr := WaitRead(c.h, t, c.fd, to); werr != nil {
			return nil, nil, werr
		}
	}
}

// Connect blocks t until the connection completes, or c's timeout elapses.
// A zero timeout attempts the connect once and never waits, matching the
// original's "if self.timeout == 0.0: return self._sock.connect(address)".
func (c *Conn) Connect(t *Task, sa unix.Sockaddr) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := unix.Connect(c.fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EALREADY && err != unix.EWOULDBLOCK {
		return err
	}
	to := c.Timeout()
	if to == 0 {
		return ErrWouldBlock
	}
	hasDeadline := to > 0
	deadline := time.Now().Add(to)
	for {
		waitTO := blockForever
		if hasDeadline {
			waitTO = time.Until(deadline)
			if waitTO <= 0 {
				return ErrTimeout
			}
		}
		if _, werr := WaitReadWrite(c.h, t, c.fd, waitTO); werr != nil {
			return werr
		}
		errno, gerr := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			return gerr
		}
		switch unix.Errno(errno) {
		case 0, unix.EISCONN:
			return nil
		case unix.EINPROGRESS, unix.EALREADY, unix.EWOULDBLOCK:
			continue
		default:
			return unix.Errno(errno)
		}
	}
}

// ConnectEx is Connect with errno-style results instead of exceptions —
// original_source/gevent/socket.py connect_ex: a timeout reports EAGAIN, a
// plain errno propagates as itself, anything else propagates unchanged.
func (c *Conn) ConnectEx(t *Task, sa unix.Sockaddr) error {
	err := c.Connect(t, sa)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return unix.EAGAIN
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}

// Recv reads up to n bytes and returns them as a freshly allocated slice,
// waiting up to c's timeout for the socket to become readable — spec.md
// §4.6 recv, grounded on original_source/gevent/socket.py's recv, which
// always hands back a newly allocated bytes object rather than writing into
// one the caller supplies.
func (c *Conn) Recv(t *Task, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.RecvInto(t, buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// RecvInto reads into p without allocating, waiting up to c's timeout for
// the socket to become readable — spec.md §4.6 recv_into.
func (c *Conn) RecvInto(t *Task, p []byte) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, ErrEmptyBuffer
	}
	for {
		n, err := unix.Read(c.fd, p)
		if err == nil {
			return n, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, err
		}
		to := c.Timeout()
		if to == 0 {
			return 0, ErrWouldBlock
		}
		if werr := WaitRead(c.h, t, c.fd, to); werr != nil {
			return 0, werr
		}
	}
}

// RecvFrom is Recv's datagram form, also returning the sender's address.
func (c *Conn) RecvFrom(t *Task, n int) ([]byte, unix.Sockaddr, error) {
	buf := make([]byte, n)
	got, sa, err := c.RecvFromInto(t, buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:got], sa, nil
}

// RecvFromInto is RecvInto's datagram form, also returning the sender's
// address — spec.md §4.6 recvfrom_into.
func (c *Conn) RecvFromInto(t *Task, p []byte) (int, unix.Sockaddr, error) {
	if err := c.checkOpen(); err != nil {
		return 0, nil, err
	}
	for {
		n, sa, err := unix.Recvfrom(c.fd, p, 0)
		if err == nil {
			return n, sa, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, nil, err
		}
		to := c.Timeout()
		if to == 0 {
			return 0, nil, ErrWouldBlock
		}
		if werr := WaitRead(c.h, t, c.fd, to); werr != nil {
			return 0, nil, werr
		}
	}
}

// MakeReader binds t to c, returning an io.Reader usable with stdlib
// streaming helpers from within t's goroutine.
func (c *Conn) MakeReader(t *Task) *taskReader { return &taskReader{c: c, t: t} }

// MakeWriter is MakeReader's write-side counterpart.
func (c *Conn) MakeWriter(t *Task) *taskWriter { return &taskWriter{c: c, t: t} }

type taskReader struct {
	c *Conn
	t *Task
}

func (r *taskReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.c.RecvInto(r.t, p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

type taskWriter struct {
	c *Conn
	t *Task
}

func (w *taskWriter) Write(p []byte) (int, error) {
	if err := w.c.SendAll(w.t, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Send writes p once, waiting and retrying exactly once on EWOULDBLOCK —
// original_source/gevent/socket.py send: a second EWOULDBLOCK after the
// wait reports 0 bytes written rather than waiting indefinitely.
func (c *Conn) Send(t *Task, p []byte) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	n, err := unix.Write(c.fd, p)
	if err == nil {
		return n, nil
	}
	if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		return 0, err
	}
	to := c.Timeout()
	if to == 0 {
		return 0, nil
	}
	if werr := WaitWrite(c.h, t, c.fd, to); werr != nil {
		return 0, werr
	}
	n, err = unix.Write(c.fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	return n, err
}

// SendTo is Send's datagram form. The original's sendto had a bug
// (referencing the module-level `timeout` class instead of self.timeout —
// see DESIGN.md Open Question (a)); this port simply reuses Send's
// per-call timeout handling instead of reproducing it.
func (c *Conn) SendTo(t *Task, p []byte, sa unix.Sockaddr) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	err := unix.Sendto(c.fd, p, 0, sa)
	if err == nil {
		return len(p), nil
	}
	if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		return 0, err
	}
	to := c.Timeout()
	if to == 0 {
		return 0, nil
	}
	if werr := WaitWrite(c.h, t, c.fd, to); werr != nil {
		return 0, werr
	}
	err = unix.Sendto(c.fd, p, 0, sa)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SendAll writes all of p, honoring c's timeout as a single wall-clock
// deadline across the whole write rather than per Send call — spec.md
// §4.6 sendall / original_source's per-socket `end = time.time()+timeout`.
func (c *Conn) SendAll(t *Task, p []byte) error {
	to := c.Timeout()
	hasDeadline := to > 0
	deadline := time.Now().Add(to)
	original := to

	for len(p) > 0 {
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				c.SetTimeout(original)
				return ErrTimeout
			}
			c.SetTimeout(remaining)
		}
		n, err := c.Send(t, p)
		if hasDeadline {
			c.SetTimeout(original)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			// A second would-block from Send (original_source/gevent/
			// socket.py's sendall keeps looping here too) — re-check the
			// deadline and retry rather than raising.
			continue
		}
		p = p[n:]
	}
	return nil
}
