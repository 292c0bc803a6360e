package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/marmos91/dittodrop/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *FSStore {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = t.TempDir()
	}
	store, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"ten bytes", []byte("0123456789")},
		{"one page", bytes.Repeat([]byte{0x5A}, 4096)},
		{"unaligned", bytes.Repeat([]byte("abc"), 100_001)},
		{"binary", []byte{0x00, 0xFF, 0x00, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, sync := range []bool{false, true} {
				store := newTestStore(t, Config{Sync: sync})

				path, err := store.Put(context.Background(), "17_a.txt", tt.content)
				require.NoError(t, err)
				assert.Equal(t, filepath.Join(store.Dir(), "17_a.txt"), path)

				got, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, tt.content, got)

				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.Equal(t, int64(len(tt.content)), info.Size())
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			}
		})
	}
}

func TestPutEmptyContent(t *testing.T) {
	store := newTestStore(t, Config{})

	path, err := store.Put(context.Background(), "5_", nil)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestPutCustomMode(t *testing.T) {
	store := newTestStore(t, Config{FileMode: 0640})

	path, err := store.Put(context.Background(), "1_x", []byte("x"))
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm()&^0022)
}

func TestPutExistingKey(t *testing.T) {
	store := newTestStore(t, Config{})

	_, err := store.Put(context.Background(), "1_dup", []byte("first"))
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "1_dup", []byte("second"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrExists))

	got, err := os.ReadFile(filepath.Join(store.Dir(), "1_dup"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "existing upload must not be replaced")
}

func TestPutRejectsNestedKey(t *testing.T) {
	store := newTestStore(t, Config{})

	for _, key := range []string{"", "../escape", "a/b"} {
		_, err := store.Put(context.Background(), key, []byte("x"))
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.Is(err, storage.ErrInvalidName))
	}
}

func TestPutMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store := newTestStore(t, Config{Path: dir})

	require.NoError(t, os.RemoveAll(dir))

	_, err := store.Put(context.Background(), "1_a.txt", []byte("data"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrExists))
}

func TestPutCancelledContext(t *testing.T) {
	store := newTestStore(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "1_a", []byte("a"))
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutAfterClose(t *testing.T) {
	store := newTestStore(t, Config{})
	require.NoError(t, store.Close())

	_, err := store.Put(context.Background(), "1_a", []byte("a"))
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestNewRejectsFilePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := New(context.Background(), Config{Path: file})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Path: filepath.Join(file, "child")})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestConcurrentPuts(t *testing.T) {
	store := newTestStore(t, Config{})

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			namer := storage.NewNamer(int64(i))
			content := bytes.Repeat([]byte{byte(i)}, 1000+i)
			path, err := store.Put(context.Background(), namer.Key("same.bin"), content)
			if err != nil {
				errs <- err
				return
			}
			got, err := os.ReadFile(path)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, content) {
				errs <- errors.New("content mismatch for " + path)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}
