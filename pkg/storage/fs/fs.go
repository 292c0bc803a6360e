// Package fs stores uploads as regular files in a single directory.
//
// Each upload becomes "<dir>/<key>". The file is created exclusively,
// preallocated to its final size, and filled through a shared memory
// mapping (on Linux) so the copy never has to grow the file.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/storage"
)

// Config configures the filesystem store.
type Config struct {
	// Path is the directory uploads are written to. It is created if missing.
	Path string `mapstructure:"path"`

	// Sync flushes the mapping and the file to stable storage before Put
	// returns. Without it, content is visible once Put returns but may be
	// lost on a crash.
	Sync bool `mapstructure:"sync"`

	// FileMode is the permission of created files. Defaults to 0600.
	FileMode os.FileMode `mapstructure:"file_mode"`
}

// FSStore implements storage.Store on the local filesystem.
//
// Thread Safety:
// Safe for concurrent use. Distinct keys never touch the same file, and
// exclusive create makes two writers racing for the same key fail cleanly.
type FSStore struct {
	dir    string
	sync   bool
	mode   os.FileMode
	closed atomic.Bool
}

// New creates a filesystem store rooted at cfg.Path.
func New(ctx context.Context, cfg Config) (*FSStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat storage directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage path %s is not a directory", cfg.Path)
	}

	logger.Debug("Filesystem store ready: dir=%s sync=%v mode=%04o", cfg.Path, cfg.Sync, cfg.FileMode)

	return &FSStore{
		dir:  cfg.Path,
		sync: cfg.Sync,
		mode: cfg.FileMode,
	}, nil
}

// Dir returns the directory uploads are written to.
func (s *FSStore) Dir() string {
	return s.dir
}

// Put writes content to <dir>/<key>.
func (s *FSStore) Put(ctx context.Context, key string, content []byte) (_ string, err error) {
	// ========================================================================
	// Step 1: Check state and context
	// ========================================================================

	if s.closed.Load() {
		return "", storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || filepath.Base(key) != key {
		return "", fmt.Errorf("%w: key %q", storage.ErrInvalidName, key)
	}

	// ========================================================================
	// Step 2: Create the destination exclusively
	// ========================================================================

	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, s.mode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w", path, storage.ErrExists)
		}
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	// From here on the file is ours: any failure removes it.
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
		if err != nil {
			if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				logger.Warn("Failed to remove partial upload %s: %v", path, rerr)
			}
		}
	}()

	// ========================================================================
	// Step 3: Preallocate, map, copy
	// ========================================================================

	if err := writeMapped(f, content, s.sync); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// ========================================================================
	// Step 4: Optional durability
	// ========================================================================

	if s.sync {
		if err := f.Sync(); err != nil {
			return "", fmt.Errorf("failed to sync %s: %w", path, err)
		}
	}

	return path, nil
}

// Type returns "filesystem".
func (s *FSStore) Type() string {
	return "filesystem"
}

// Close marks the store closed. Files already written are unaffected.
func (s *FSStore) Close() error {
	s.closed.Store(true)
	return nil
}
