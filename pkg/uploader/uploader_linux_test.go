//go:build linux

package uploader

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/marmos91/dittodrop/pkg/adapter/upload"
	"github.com/marmos91/dittodrop/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadToServer(t *testing.T) {
	store, err := memory.New(context.Background(), memory.Config{})
	require.NoError(t, err)

	a := upload.New(upload.UploadConfig{BindAddress: "127.0.0.1", Workers: 2, ShutdownTimeout: time.Second}, nil)
	a.SetStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return a.Port() != 0 }, 2*time.Second, 5*time.Millisecond)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(a.Port()))

	_, err = Upload(context.Background(), Options{Address: addr, Path: writeFile(t, "a.txt", []byte("0123456789"))})
	require.NoError(t, err)

	_, err = Upload(context.Background(), Options{Address: addr, Path: writeFile(t, "b", []byte("x")), Name: "../escape"})
	assert.ErrorIs(t, err, ErrRejected)

	require.Len(t, store.Keys(), 1)
	assert.Regexp(t, `^[0-9]+_a\.txt$`, store.Keys()[0])
}
