//go:build linux

package upload

import (
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/storage"
	"golang.org/x/sys/unix"
)

// engine holds the kernel objects shared by the worker pool.
type engine struct {
	listenFD int
	poller   *poller

	// conns maps a registered fd to its conn. Only used to find the conn
	// for an event and to clean up at shutdown; ownership is carried by
	// the one-shot registration and the conn's busy flag.
	conns sync.Map
}

// worker is one member of the fixed pool.
type worker struct {
	id     int
	a      *UploadAdapter
	eng    *engine
	namer  *storage.Namer
	events []unix.EpollEvent
}

// run is the WAIT / ACCEPT / PROCESS / REARM loop. It returns nil once
// shutdown is signalled and an error only when the poller itself fails.
func (w *worker) run() error {
	logger.Debug("Upload worker %d started", w.id)
	defer logger.Debug("Upload worker %d stopped", w.id)

	for {
		n, err := w.eng.poller.wait(w.events, w.a.config.WaitTimeout)
		if err != nil {
			if w.a.isShuttingDown() {
				return nil
			}
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		for i := 0; i < n; i++ {
			fd := int(w.events[i].Fd)

			switch {
			case w.eng.poller.isWake(fd):
				return nil
			case fd == w.eng.listenFD:
				w.accept()
			default:
				w.process(fd)
			}
		}

		if n == 0 && w.a.isShuttingDown() {
			return nil
		}
	}
}

// accept takes one pending connection and arms it.
func (w *worker) accept() {
	fd, sa, err := unix.Accept4(w.eng.listenFD, unix.SOCK_CLOEXEC)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			// Another worker got it, or the peer gave up in the queue.
		default:
			w.a.metrics.RecordAcceptError()
			logger.Warn("Upload worker %d: couldn't accept connection: %v", w.id, err)
		}
		return
	}

	c := newConn(fd, sa)

	if !w.a.limiter.Allow() {
		w.a.metrics.RecordConnectionRejected()
		_ = c.close()
		logger.Debug("Upload worker %d: connection from %s rejected by rate limit", w.id, c.peer)
		return
	}

	if w.a.config.IOTimeout > 0 {
		if err := c.setTimeouts(w.a.config.IOTimeout); err != nil {
			_ = c.close()
			logger.Warn("Upload worker %d: couldn't configure connection from %s: %v", w.id, c.peer, err)
			return
		}
	}

	// Visible before it is armed: the first event may go to another worker.
	w.eng.conns.Store(fd, c)
	active := w.a.connOpened()

	if err := w.eng.poller.addConn(fd); err != nil {
		w.eng.conns.Delete(fd)
		_ = c.close()
		w.a.connClosed()
		logger.Warn("Upload worker %d: couldn't register connection from %s: %v", w.id, c.peer, err)
		return
	}

	logger.Debug("Upload worker %d: [%s] connection from %s (active: %d)", w.id, c.session, c.peer, active)
}

// process runs one request cycle on a ready connection, then re-arms or
// drops it.
func (w *worker) process(fd int) {
	v, ok := w.eng.conns.Load(fd)
	if !ok {
		logger.Debug("Upload worker %d: event for unregistered fd %d", w.id, fd)
		return
	}
	c := v.(*conn)

	if !c.busy.CompareAndSwap(false, true) {
		w.a.metrics.RecordDuplicateDelivery()
		logger.Warn("Upload worker %d: [%s] delivered while already being processed", w.id, c.session)
		return
	}

	w.a.metrics.SetBusyWorkers(w.a.busyWorkers.Add(1))
	keep := w.a.handler.handle(w.a.requestCtx, c, cycle{
		session: c.session,
		peer:    c.peer,
		worker:  w.id,
		namer:   w.namer,
	})
	w.a.metrics.SetBusyWorkers(w.a.busyWorkers.Add(-1))

	if keep && !w.a.isShuttingDown() {
		// Released before re-arming: the next event may land on another worker.
		c.busy.Store(false)
		err := w.eng.poller.rearm(fd)
		if err == nil {
			return
		}
		logger.Warn("Upload worker %d: [%s] couldn't rearm connection: %v", w.id, c.session, err)
	}

	w.drop(c)
}

// drop unregisters and closes c.
func (w *worker) drop(c *conn) {
	w.eng.conns.Delete(c.fd)
	if err := w.eng.poller.remove(c.fd); err != nil {
		logger.Debug("Upload worker %d: [%s] %v", w.id, c.session, err)
	}
	_ = c.close()

	active := w.a.connClosed()
	logger.Debug("Upload worker %d: [%s] connection from %s closed (active: %d)", w.id, c.session, c.peer, active)
}
