package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittodrop/pkg/storage"
)

// Config configures the in-memory store.
type Config struct {
	// MaxSizeBytes caps the total bytes held. 0 means unlimited.
	MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
}

// MemoryStore implements storage.Store in process memory.
//
// It is meant for tests and throwaway deployments: everything is lost when
// the process exits.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Content is copied on the
// way in and out so callers can reuse their buffers.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	used    uint64
	maxSize uint64
	closed  bool
}

// New creates an empty in-memory store.
func New(ctx context.Context, cfg Config) (*MemoryStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryStore{
		data:    make(map[string][]byte),
		maxSize: cfg.MaxSizeBytes,
	}, nil
}

// Put stores a copy of content under key.
func (s *MemoryStore) Put(ctx context.Context, key string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", storage.ErrClosed
	}
	if _, ok := s.data[key]; ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrExists)
	}
	if s.maxSize > 0 && s.used+uint64(len(content)) > s.maxSize {
		return "", fmt.Errorf("memory store full: %d of %d bytes used, %d requested",
			s.used, s.maxSize, len(content))
	}

	buf := make([]byte, len(content))
	copy(buf, content)
	s.data[key] = buf
	s.used += uint64(len(buf))

	return "memory://" + key, nil
}

// Get returns a copy of the content stored under key.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Keys returns every stored key in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Type returns "memory".
func (s *MemoryStore) Type() string {
	return "memory"
}

// Close drops all content.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	s.used = 0
	return nil
}
