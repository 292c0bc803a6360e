//go:build linux

package upload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// listenerEvents wakes one waiter per incoming connection.
	listenerEvents = unix.EPOLLIN | unix.EPOLLEXCLUSIVE

	// connEvents delivers a connection's readiness to exactly one worker
	// until it is re-armed.
	connEvents = unix.EPOLLIN | unix.EPOLLONESHOT | unix.EPOLLET
)

// poller is the epoll instance shared by every worker, plus an eventfd used
// to wake them all at shutdown.
type poller struct {
	epfd   int
	wakefd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	// Level triggered and never drained: once signalled, every wait returns it.
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl add eventfd: %w", err)
	}

	return &poller{epfd: epfd, wakefd: wakefd}, nil
}

// addListener registers the listening socket.
func (p *poller) addListener(fd int) error {
	ev := unix.EpollEvent{Events: listenerEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add listener: %w", err)
	}
	return nil
}

// addConn registers and arms a client socket.
func (p *poller) addConn(fd int) error {
	ev := unix.EpollEvent{Events: connEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add: %w", err)
	}
	return nil
}

// rearm re-enables a client socket after its one-shot event was consumed.
// Data that arrived while the worker was busy is reported right away.
func (p *poller) rearm(fd int) error {
	ev := unix.EpollEvent{Events: connEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod: %w", err)
	}
	return nil
}

// remove unregisters fd. Missing registrations are not an error.
func (p *poller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl del: %w", err)
	}
	return nil
}

// wait fills events and returns how many are ready. A signal interrupting
// the wait is reported as zero events.
func (p *poller) wait(events []unix.EpollEvent, timeout time.Duration) (int, error) {
	msec := -1
	if timeout > 0 {
		msec = int(timeout.Milliseconds())
	}

	n, err := unix.EpollWait(p.epfd, events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}
	return n, nil
}

// isWake reports whether fd is the shutdown eventfd.
func (p *poller) isWake(fd int) bool {
	return fd == p.wakefd
}

// wake makes every current and future wait return the eventfd.
func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *poller) close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}
