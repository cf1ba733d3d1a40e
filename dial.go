package gevio

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// resolveTCPSockaddr parses a "host:port" address into a socket family and
// unix.Sockaddr, preferring an IPv4 result exactly the way
// original_source/gevent/socket.py's getaddrinfo docstring documents
// ("AF_UNSPEC ... will only try to connect using an IPv4 address"); an IPv6
// address is used only when no IPv4 address resolves. It serves
// TCPListener; CreateConnection does not use it and instead tries every
// resolved address of either family (DESIGN.md Open Question (c)).
func resolveTCPSockaddr(address string) (int, unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 0, nil, err
	}
	port, err := net.DefaultResolver.LookupPort(context.Background(), "tcp", portStr)
	if err != nil {
		return 0, nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
	if err != nil || len(ips) == 0 {
		ips, err = net.DefaultResolver.LookupIP(context.Background(), "ip6", host)
		if err != nil {
			return 0, nil, err
		}
	}
	return ipToSockaddr(ips[0], port)
}

func ipToSockaddr(ip net.IP, port int) (int, unix.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return unix.AF_INET, &sa, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return 0, nil, fmt.Errorf("gevio: unrecognized IP address %v", ip)
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], v6)
	return unix.AF_INET6, &sa, nil
}

// CreateConnection resolves address and connects, trying each resolved
// address in turn and returning the first success — spec.md §4.6
// create_connection / original_source/gevent/socket.py create_connection.
// timeout < 0 blocks with no deadline, matching Connect's own convention.
func CreateConnection(h *Hub, t *Task, address string, timeout time.Duration) (*Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := net.DefaultResolver.LookupPort(context.Background(), "tcp", portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ipAddr := range ips {
		family, sa, err := ipToSockaddr(ipAddr.IP, port)
		if err != nil {
			lastErr = err
			continue
		}
		c, err := NewSocket(h, family, unix.SOCK_STREAM, 0)
		if err != nil {
			lastErr = err
			continue
		}
		c.SetTimeout(timeout)
		if err := c.Connect(t, sa); err != nil {
			_ = c.Close()
			lastErr = err
			continue
		}
		return c, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("gevio: no addresses found for %q", address)
	}
	return nil, lastErr
}
