// Package storage defines where received uploads end up.
//
// The upload adapter receives a complete payload from a client, derives a
// destination key with a Namer, and hands both to a Store. Backends live in
// sub-packages (fs, memory, s3); the filesystem backend is the default and
// writes each upload through a memory-mapped region.
package storage

import (
	"context"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store persists complete uploads.
//
// Keys have the form "<random>_<name>" (see Namer). A Store must never
// replace an existing object: when the key is already taken it returns an
// error wrapping ErrExists and leaves the existing object untouched, so the
// caller can retry with a fresh prefix.
//
// After Put returns nil the content is visible to any reader of the backend.
// Whether it is also durable across a crash is backend-specific (see the fs
// backend's Sync option).
//
// Thread Safety:
// Implementations must be safe for concurrent use by every worker of the
// upload adapter. Workers never share a key.
type Store interface {
	// Put stores content under key and returns a backend-specific location
	// (a path, an s3:// URL, ...) suitable for logging.
	//
	// On failure nothing is left behind under key.
	Put(ctx context.Context, key string, content []byte) (string, error)

	// Type returns the backend name used in configuration ("filesystem",
	// "memory", "s3").
	Type() string

	// Close releases backend resources. The store must not be used afterwards.
	Close() error
}
