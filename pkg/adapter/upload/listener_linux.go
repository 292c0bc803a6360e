//go:build linux

package upload

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// listen opens a non-blocking IPv4 listening socket on bindAddress:port and
// returns its fd together with the port actually bound.
//
// The socket is non-blocking so a worker woken for a connection another
// worker already took gets EAGAIN from accept instead of sleeping in it.
func listen(bindAddress string, port, backlog int) (fd int, bound int, err error) {
	addr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		return -1, 0, fmt.Errorf("resolve %q: %w", bindAddress, err)
	}

	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			return -1, 0, fmt.Errorf("bind address %s is not IPv4", addr.IP)
		}
		copy(sa.Addr[:], ip4)
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("socket: %w", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	// Restarts must not fail on sockets lingering in TIME_WAIT.
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fd, 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fd, 0, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return fd, 0, fmt.Errorf("listen: %w", err)
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		return fd, 0, fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := local.(*unix.SockaddrInet4); ok {
		bound = in4.Port
	}

	return fd, bound, nil
}

// peerString renders an accepted peer address.
func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	default:
		return "unknown"
	}
}
