package adapter

import (
	"context"

	"github.com/marmos91/dittodrop/pkg/storage"
)

// Adapter is a protocol front end managed by server.DittoServer.
//
// Lifecycle:
//  1. Creation with protocol-specific configuration
//  2. SetStore hands over the shared storage backend
//  3. Serve runs the protocol server until its context is cancelled
//  4. Stop drains and releases everything, bounded by its context
//
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve blocks until ctx is cancelled or an unrecoverable error occurs.
	// Returning before cancellation is treated as fatal by DittoServer.
	//
	// Returns nil or context.Canceled on graceful shutdown.
	Serve(ctx context.Context) error

	// SetStore injects the storage backend. Called once, before Serve.
	SetStore(store storage.Store)

	// Stop initiates graceful shutdown. Idempotent.
	Stop(ctx context.Context) error

	// Protocol returns a constant, human-readable protocol name.
	Protocol() string

	// Port returns the TCP port the adapter listens on. Once Serve has bound
	// its socket this is the real port, even when 0 was configured.
	Port() int
}
