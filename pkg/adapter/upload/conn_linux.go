//go:build linux

package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// errIOTimeout is returned when SO_RCVTIMEO or SO_SNDTIMEO expires.
var errIOTimeout = fmt.Errorf("i/o timeout: %w", os.ErrDeadlineExceeded)

// conn is one accepted client socket.
//
// The fd is blocking. While armed in the poller the conn belongs to the
// poller; between delivery and re-arm it belongs to the single worker that
// won the busy flag.
type conn struct {
	fd      int
	peer    string
	session string

	busy atomic.Bool

	// mu orders shutdown against close so a force-close never hits a
	// recycled fd number.
	mu     sync.Mutex
	closed bool
}

func newConn(fd int, sa unix.Sockaddr) *conn {
	return &conn{
		fd:      fd,
		peer:    peerString(sa),
		session: uuid.NewString()[:8],
	}
}

// setTimeouts bounds every blocking read and write on the socket.
func (c *conn) setTimeouts(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
	}
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return fmt.Errorf("setsockopt SO_SNDTIMEO: %w", err)
	}
	return nil
}

// Read implements io.Reader. A zero-byte read means the peer closed.
func (c *conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errIOTimeout
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write implements io.Writer. Short writes are returned as is; the framing
// layer loops.
func (c *conn) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errIOTimeout
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

// shutdown aborts pending I/O without releasing the fd, so a worker blocked
// on it returns while the number cannot be reused under its feet.
func (c *conn) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}
