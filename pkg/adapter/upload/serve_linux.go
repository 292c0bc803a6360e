//go:build linux

package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/storage"
	"golang.org/x/sys/unix"
)

// Serve starts the upload server and blocks until ctx is cancelled, Stop is
// called, or the poller fails.
//
// Returns:
//   - nil on graceful shutdown
//   - an error if setup fails, a worker's poller fails, or connections had
//     to be force-closed after ShutdownTimeout
func (a *UploadAdapter) Serve(ctx context.Context) error {
	if a.started.Swap(true) {
		return errors.New("upload adapter already serving")
	}
	defer close(a.done)
	defer a.cancelRequests()

	if a.isShuttingDown() {
		return nil
	}
	if a.store == nil {
		return errors.New("upload adapter has no store: call SetStore before Serve")
	}

	// ========================================================================
	// Step 1: Listening socket
	// ========================================================================

	listenFD, port, err := listen(a.config.BindAddress, a.config.Port, a.config.Backlog)
	if err != nil {
		return fmt.Errorf("failed to create upload listener on port %d: %w", a.config.Port, err)
	}

	// ========================================================================
	// Step 2: Shared poller
	// ========================================================================

	p, err := newPoller()
	if err != nil {
		_ = unix.Close(listenFD)
		return fmt.Errorf("failed to create upload poller: %w", err)
	}
	if err := p.addListener(listenFD); err != nil {
		_ = p.close()
		_ = unix.Close(listenFD)
		return fmt.Errorf("failed to register upload listener: %w", err)
	}

	eng := &engine{listenFD: listenFD, poller: p}
	defer a.closeEngine(eng)

	a.boundPort.Store(int32(port))
	logger.Info("Upload server listening on port %d", port)
	logger.Debug("Upload config: workers=%d backlog=%d max_events=%d wait_timeout=%v io_timeout=%v status_byte_order=%s",
		a.config.Workers, a.config.Backlog, a.config.MaxEvents, a.config.WaitTimeout,
		a.config.IOTimeout, a.config.StatusByteOrder)

	// ========================================================================
	// Step 3: Worker pool
	// ========================================================================

	start := time.Now()
	fatal := make(chan error, a.config.Workers)
	var wg sync.WaitGroup

	for i := 0; i < a.config.Workers; i++ {
		w := &worker{
			id:     i,
			a:      a,
			eng:    eng,
			namer:  storage.NewNamer(storage.WorkerSeed(start, i)),
			events: make([]unix.EpollEvent, a.config.MaxEvents),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(); err != nil {
				logger.Error("Upload %v", err)
				fatal <- err
				a.initiateShutdown()
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics()
	}

	select {
	case <-ctx.Done():
		logger.Info("Upload shutdown signal received: %v", ctx.Err())
		a.initiateShutdown()
	case <-a.shutdown:
	}

	if err := p.wake(); err != nil {
		logger.Error("Upload shutdown: couldn't wake workers: %v", err)
	}

	shutdownErr := a.gracefulShutdown(eng, workersDone)

	select {
	case err := <-fatal:
		return err
	default:
		return shutdownErr
	}
}

// gracefulShutdown waits for busy workers to finish their upload. After
// ShutdownTimeout the remaining client sockets are shut down and the store
// context is cancelled, which unblocks them.
func (a *UploadAdapter) gracefulShutdown(eng *engine, workersDone <-chan struct{}) error {
	logger.Info("Upload graceful shutdown: waiting for %d busy worker(s) (timeout: %v)",
		a.busyWorkers.Load(), a.config.ShutdownTimeout)

	timer := time.NewTimer(a.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-workersDone:
		logger.Info("Upload graceful shutdown complete")
		return nil
	case <-timer.C:
	}

	busy := a.busyWorkers.Load()
	logger.Warn("Upload shutdown timeout exceeded: %d worker(s) still busy after %v, forcing closure",
		busy, a.config.ShutdownTimeout)

	a.cancelRequests()
	closed := a.forceCloseConnections(eng)
	<-workersDone

	return fmt.Errorf("upload shutdown timeout: %d connection(s) force-closed", closed)
}

// forceCloseConnections shuts down every registered client socket.
func (a *UploadAdapter) forceCloseConnections(eng *engine) int {
	closed := 0
	eng.conns.Range(func(_, value any) bool {
		c := value.(*conn)
		if err := c.shutdown(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", c.peer, err)
		} else {
			closed++
		}
		return true
	})
	logger.Info("Force-closed %d upload connection(s)", closed)
	return closed
}

// closeEngine releases every kernel object once all workers are gone.
func (a *UploadAdapter) closeEngine(eng *engine) {
	eng.conns.Range(func(key, value any) bool {
		c := value.(*conn)
		eng.conns.Delete(key)
		_ = eng.poller.remove(c.fd)
		_ = c.close()
		a.connClosed()
		return true
	})

	if err := eng.poller.remove(eng.listenFD); err != nil {
		logger.Debug("Upload listener: %v", err)
	}
	if err := unix.Close(eng.listenFD); err != nil {
		logger.Debug("Error closing upload listener: %v", err)
	}
	if err := eng.poller.close(); err != nil {
		logger.Debug("Error closing upload poller: %v", err)
	}
	logger.Debug("Upload engine closed")
}
