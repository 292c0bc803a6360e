package uploader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	name    string
	content []byte
}

// fakeServer accepts one connection, decodes one request and answers with
// reply (or closes without replying when reply is nil).
func fakeServer(t *testing.T, reply *wire.Status, order binary.ByteOrder) (string, <-chan received) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan received, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		req, err := wire.ReadRequest(c, wire.Limits{})
		if err != nil {
			return
		}
		got <- received{name: string(req.Name), content: bytes.Clone(req.Content)}
		req.Release()

		if reply != nil {
			_ = wire.WriteStatus(c, *reply, order)
		}
	}()

	return ln.Addr().String(), got
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func status(s wire.Status) *wire.Status { return &s }

func TestUploadSendsFile(t *testing.T) {
	addr, got := fakeServer(t, status(wire.StatusSuccess), binary.BigEndian)
	path := writeFile(t, "a.txt", []byte("0123456789"))

	res, err := Upload(context.Background(), Options{Address: addr, Path: path})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", res.Name)
	assert.Equal(t, int64(10), res.Bytes)

	r := <-got
	assert.Equal(t, "a.txt", r.name, "name defaults to the base name")
	assert.Equal(t, []byte("0123456789"), r.content)
}

func TestUploadCustomName(t *testing.T) {
	addr, got := fakeServer(t, status(wire.StatusSuccess), binary.BigEndian)
	path := writeFile(t, "local.bin", []byte{0, 1, 2, 3})

	_, err := Upload(context.Background(), Options{Address: addr, Path: path, Name: "remote.bin"})
	require.NoError(t, err)
	assert.Equal(t, "remote.bin", (<-got).name)
}

func TestUploadEmptyFile(t *testing.T) {
	addr, got := fakeServer(t, status(wire.StatusSuccess), binary.BigEndian)
	path := writeFile(t, "empty", nil)

	res, err := Upload(context.Background(), Options{Address: addr, Path: path})
	require.NoError(t, err)
	assert.Zero(t, res.Bytes)
	assert.Empty(t, (<-got).content)
}

func TestUploadLargeFile(t *testing.T) {
	addr, got := fakeServer(t, status(wire.StatusSuccess), binary.BigEndian)
	content := bytes.Repeat([]byte("dittodrop"), 512*1024)
	path := writeFile(t, "large", content)

	_, err := Upload(context.Background(), Options{Address: addr, Path: path})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, (<-got).content))
}

func TestUploadRejected(t *testing.T) {
	addr, _ := fakeServer(t, status(wire.StatusFailure), binary.BigEndian)
	path := writeFile(t, "a.txt", []byte("x"))

	_, err := Upload(context.Background(), Options{Address: addr, Path: path})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestUploadConnectionLost(t *testing.T) {
	addr, _ := fakeServer(t, nil, binary.BigEndian)
	path := writeFile(t, "a.txt", []byte("x"))

	_, err := Upload(context.Background(), Options{Address: addr, Path: path})
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestUploadNativeStatus(t *testing.T) {
	// Any nonzero status is a failure in either byte order.
	addr, _ := fakeServer(t, status(wire.Status(2)), binary.NativeEndian)
	path := writeFile(t, "a.txt", []byte("x"))

	_, err := Upload(context.Background(), Options{Address: addr, Path: path, NativeStatus: true})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "status 2")
}

func TestUploadMissingFile(t *testing.T) {
	_, err := Upload(context.Background(), Options{
		Address: "127.0.0.1:1",
		Path:    filepath.Join(t.TempDir(), "missing"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploadDirectory(t *testing.T) {
	_, err := Upload(context.Background(), Options{Address: "127.0.0.1:1", Path: t.TempDir()})
	assert.ErrorContains(t, err, "not a regular file")
}

func TestUploadConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Upload(context.Background(), Options{Address: addr, Path: writeFile(t, "a", []byte("x"))})
	assert.ErrorContains(t, err, "couldn't connect")
}

func TestUploadRequiresOptions(t *testing.T) {
	_, err := Upload(context.Background(), Options{Path: "x"})
	assert.Error(t, err)

	_, err = Upload(context.Background(), Options{Address: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestUploadCancelledWhileWaiting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accepts and reads but never replies.
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = wire.ReadRequest(c, wire.Limits{})
		time.Sleep(5 * time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Upload(ctx, Options{Address: ln.Addr().String(), Path: writeFile(t, "a", []byte("x"))})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}
