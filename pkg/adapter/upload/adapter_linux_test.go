//go:build linux

package upload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/wire"
	"github.com/marmos91/dittodrop/pkg/storage"
	"github.com/marmos91/dittodrop/pkg/storage/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe to read while workers log into it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	adapter *UploadAdapter
	metrics *countingMetrics
	addr    string
	cancel  context.CancelFunc
	errc    chan error
}

func startServer(t *testing.T, cfg UploadConfig, store storage.Store) *testServer {
	t.Helper()

	cfg.BindAddress = "127.0.0.1"
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	m := newCountingMetrics()
	a := New(cfg, m)
	a.SetStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.Port() != 0 }, 2*time.Second, 5*time.Millisecond,
		"listener didn't start")

	s := &testServer{
		adapter: a,
		metrics: m,
		addr:    net.JoinHostPort("127.0.0.1", strconv.Itoa(a.Port())),
		cancel:  cancel,
		errc:    errc,
	}
	t.Cleanup(func() { s.stop(t) })
	return s
}

// stop cancels Serve and returns its result. Safe to call more than once.
func (s *testServer) stop(t *testing.T) error {
	t.Helper()
	s.cancel()

	select {
	case err, ok := <-s.errc:
		if ok {
			close(s.errc)
		}
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
		return nil
	}
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))
	return c.(*net.TCPConn)
}

func send(t *testing.T, c net.Conn, name, content string) wire.Status {
	t.Helper()
	require.NoError(t, wire.WriteRequest(c, []byte(name), []byte(content)))
	status, err := wire.ReadStatus(c, binary.BigEndian)
	require.NoError(t, err)
	return status
}

func newFSStore(t *testing.T) *fs.FSStore {
	t.Helper()
	store, err := fs.New(context.Background(), fs.Config{Path: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestUploadRoundTrip(t *testing.T) {
	store := newFSStore(t)
	s := startServer(t, UploadConfig{Workers: 2}, store)

	c := dial(t, s.addr)
	assert.Equal(t, wire.StatusSuccess, send(t, c, "a.txt", "0123456789"))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]+_a\.txt$`), entries[0].Name())

	path := filepath.Join(store.Dir(), entries[0].Name())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestUploadSequentialOnOneConnection(t *testing.T) {
	store := newMemoryStore(t)
	s := startServer(t, UploadConfig{Workers: 2}, store)

	c := dial(t, s.addr)
	for i := 0; i < 5; i++ {
		require.Equal(t, wire.StatusSuccess, send(t, c, fmt.Sprintf("f%d", i), "payload"), "upload %d", i)
	}

	assert.Equal(t, 5, store.Len())
	assert.Equal(t, int32(1), s.adapter.GetActiveConnections())
}

func TestUploadSingleDelivery(t *testing.T) {
	const workers, clients = 3, 24

	store := newMemoryStore(t)
	s := startServer(t, UploadConfig{Workers: workers}, store)

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			c, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(10 * time.Second))

			content := bytes.Repeat([]byte{byte(i)}, 64*1024)
			if err := wire.WriteRequest(c, []byte(fmt.Sprintf("client-%02d", i)), content); err != nil {
				errs <- err
				return
			}
			status, err := wire.ReadStatus(c, binary.BigEndian)
			if err != nil {
				errs <- err
				return
			}
			if !status.OK() {
				errs <- fmt.Errorf("client %d: status %d", i, status)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, clients, store.Len())
	assert.Zero(t, s.metrics.duplicates.Load())
}

func TestDisconnectBeforePayload(t *testing.T) {
	logs := &syncBuffer{}
	logger.SetOutput(logs)
	logger.SetLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetOutput(nil)
		logger.SetLevel("INFO")
	})

	store := newMemoryStore(t)
	s := startServer(t, UploadConfig{Workers: 2}, store)

	c := dial(t, s.addr)
	require.NoError(t, c.CloseWrite())

	n, err := c.Read(make([]byte, 4))
	assert.Zero(t, n, "no status may be sent to a client that sent nothing")
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return s.metrics.closed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The pool is still healthy.
	assert.Equal(t, wire.StatusSuccess, send(t, dial(t, s.addr), "after.txt", "ok"))

	assert.NotContains(t, logs.String(), "[ERROR]")
	assert.Contains(t, logs.String(), "closed by client")
	assert.Equal(t, 1, store.Len())
}

func TestPartialRequestGetsFailure(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 1}, newMemoryStore(t))

	c := dial(t, s.addr)
	raw := make([]byte, 0, 8)
	raw = binary.BigEndian.AppendUint32(raw, 10)
	raw = append(raw, "abc"...)
	_, err := c.Write(raw)
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	status, err := wire.ReadStatus(c, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusFailure, status)

	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "connection is closed after a failure status")
}

func TestStoreFailureReportsFailure(t *testing.T) {
	store := &scriptedStore{Store: newMemoryStore(t), script: []error{errors.New("read-only file system")}}
	s := startServer(t, UploadConfig{Workers: 1}, store)

	c := dial(t, s.addr)
	assert.Equal(t, wire.StatusFailure, send(t, c, "a.txt", "0123456789"))

	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnwritableDirectoryReportsFailure(t *testing.T) {
	store := newFSStore(t)
	require.NoError(t, os.RemoveAll(store.Dir()))
	s := startServer(t, UploadConfig{Workers: 1}, store)

	assert.Equal(t, wire.StatusFailure, send(t, dial(t, s.addr), "a.txt", "0123456789"))
}

func TestNativeStatusByteOrder(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 1, StatusByteOrder: "native"}, newMemoryStore(t))

	c := dial(t, s.addr)
	require.NoError(t, wire.WriteRequest(c, []byte("x/y"), []byte("z")))
	status, err := wire.ReadStatus(c, binary.NativeEndian)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusFailure, status)
	assert.Equal(t, "native", s.adapter.config.StatusByteOrder)
}

func TestAcceptRateLimit(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 1, MaxAcceptRate: 1, AcceptBurst: 1}, newMemoryStore(t))

	first := dial(t, s.addr)
	require.Equal(t, wire.StatusSuccess, send(t, first, "a", "1"))

	second := dial(t, s.addr)
	_ = wire.WriteRequest(second, []byte("b"), []byte("2"))
	_, err := wire.ReadStatus(second, binary.BigEndian)
	assert.Error(t, err, "connection over the admission rate is closed")
	assert.Equal(t, int64(1), s.metrics.rejected.Load())
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 2}, newMemoryStore(t))

	c := dial(t, s.addr)
	require.Equal(t, wire.StatusSuccess, send(t, c, "a", "1"))

	start := time.Now()
	require.NoError(t, s.stop(t))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Zero(t, s.adapter.GetActiveConnections())
}

func TestShutdownForceClosesStalledUpload(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 1, ShutdownTimeout: 200 * time.Millisecond}, newMemoryStore(t))

	// Announce a name and never send it: the worker blocks reading.
	c := dial(t, s.addr)
	_, err := c.Write(binary.BigEndian.AppendUint32(nil, 5))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.adapter.busyWorkers.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	err = s.stop(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force-closed")
	assert.Zero(t, s.adapter.GetActiveConnections())
}

func TestStopWaitsForServe(t *testing.T) {
	s := startServer(t, UploadConfig{Workers: 2}, newMemoryStore(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.adapter.Stop(ctx))
	require.NoError(t, s.stop(t))

	_, err := net.DialTimeout("tcp", s.addr, time.Second)
	assert.Error(t, err, "listener is closed")
}

func TestServeBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	a := New(UploadConfig{BindAddress: "127.0.0.1", Port: taken.Addr().(*net.TCPAddr).Port}, nil)
	a.SetStore(newMemoryStore(t))

	err = a.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener")
}

func TestServeWithoutStore(t *testing.T) {
	a := New(UploadConfig{}, nil)
	assert.Error(t, a.Serve(context.Background()))
	assert.Error(t, a.Serve(context.Background()), "second Serve is refused")
}
