package upload

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/ratelimiter"
	"github.com/marmos91/dittodrop/internal/wire"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/storage"
)

// UploadAdapter implements adapter.Adapter for the upload protocol.
//
// Architecture:
// A fixed pool of workers shares one epoll instance and one listening
// socket. The listener is registered exclusively so a new connection wakes
// a single worker. Client sockets are registered one-shot and edge
// triggered: readiness is delivered to exactly one worker, which runs the
// whole request cycle with blocking I/O and then re-arms the socket.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. An eventfd wakes every worker; idle workers exit
//  3. Busy workers finish their current upload (up to ShutdownTimeout)
//  4. Remaining client sockets are shut down, which unblocks their workers
//  5. Connections, listener and poller are closed
type UploadAdapter struct {
	config  UploadConfig
	store   storage.Store
	metrics metrics.UploadMetrics
	limiter *ratelimiter.RateLimiter
	handler *handler
	order   binary.ByteOrder

	// boundPort is the port the listener actually got.
	boundPort atomic.Int32

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}

	// requestCtx is handed to the store and cancelled when the shutdown
	// grace period runs out.
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	connCount   atomic.Int32
	busyWorkers atomic.Int32
}

// New creates a stopped UploadAdapter.
//
// Zero values in config are replaced with defaults. uploadMetrics may be nil.
//
// Panics if config validation fails.
func New(config UploadConfig, uploadMetrics metrics.UploadMetrics) *UploadAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid upload config: %v", err))
	}

	if uploadMetrics == nil {
		uploadMetrics = metrics.NewNoopUploadMetrics()
	}

	// Already validated.
	order, _ := wire.ParseByteOrder(config.StatusByteOrder)

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	return &UploadAdapter{
		config:         config,
		metrics:        uploadMetrics,
		limiter:        ratelimiter.New(config.MaxAcceptRate, config.AcceptBurst),
		order:          order,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}
}

// SetStore injects the storage backend. Called once, before Serve.
func (a *UploadAdapter) SetStore(store storage.Store) {
	a.store = store
	a.handler = &handler{
		store:   store,
		limits:  a.config.limits(),
		order:   a.order,
		metrics: a.metrics,
	}
	logger.Debug("Upload adapter using %s store", store.Type())
}

// Protocol returns "UPLOAD".
func (a *UploadAdapter) Protocol() string {
	return "UPLOAD"
}

// Port returns the bound port once listening, otherwise the configured one.
func (a *UploadAdapter) Port() int {
	if p := a.boundPort.Load(); p != 0 {
		return int(p)
	}
	return a.config.Port
}

// GetActiveConnections returns the number of registered client connections.
func (a *UploadAdapter) GetActiveConnections() int32 {
	return a.connCount.Load()
}

// initiateShutdown signals every worker to stop. Safe to call repeatedly.
func (a *UploadAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Upload shutdown initiated")
		close(a.shutdown)
	})
}

// isShuttingDown reports whether shutdown has started.
func (a *UploadAdapter) isShuttingDown() bool {
	select {
	case <-a.shutdown:
		return true
	default:
		return false
	}
}

// Stop initiates shutdown and waits for Serve to release everything, or
// for ctx to end. Safe to call concurrently with Serve and more than once.
func (a *UploadAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	if !a.started.Load() {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		logger.Warn("Upload shutdown: %d connection(s) still active: %v", a.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// connOpened updates counters for a newly registered connection.
func (a *UploadAdapter) connOpened() int32 {
	n := a.connCount.Add(1)
	a.metrics.RecordConnectionAccepted()
	a.metrics.SetActiveConnections(n)
	return n
}

// connClosed updates counters for a dropped connection.
func (a *UploadAdapter) connClosed() int32 {
	n := a.connCount.Add(-1)
	a.metrics.RecordConnectionClosed()
	a.metrics.SetActiveConnections(n)
	return n
}

// logMetrics periodically logs connection and worker counters.
func (a *UploadAdapter) logMetrics() {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			logger.Info("Upload metrics: active_connections=%d busy_workers=%d/%d",
				a.connCount.Load(), a.busyWorkers.Load(), a.config.Workers)
		}
	}
}
