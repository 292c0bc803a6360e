// Package uploader sends a single local file to a DittoDrop server.
package uploader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/wire"
)

// DefaultDialTimeout bounds connecting to the server when Options.DialTimeout is 0.
const DefaultDialTimeout = 10 * time.Second

var (
	// ErrRejected means the server answered with a failure status.
	ErrRejected = errors.New("server rejected the upload")

	// ErrConnectionLost means the server closed the connection without replying.
	ErrConnectionLost = errors.New("lost connection while waiting for server status")

	// ErrFileTooLarge means the source does not fit in the 32-bit size prefix.
	ErrFileTooLarge = errors.New("file too large for the upload protocol")
)

// Options describes one upload.
type Options struct {
	// Address is the server as host:port.
	Address string

	// Path is the local file to send.
	Path string

	// Name is the name requested on the server. Empty uses the base name of Path.
	Name string

	// NativeStatus decodes the status reply in host byte order instead of
	// network order, for servers configured with status_byte_order: native.
	NativeStatus bool

	// DialTimeout bounds connecting. 0 uses DefaultDialTimeout.
	DialTimeout time.Duration
}

// Result describes a stored upload.
type Result struct {
	Name    string
	Bytes   int64
	Elapsed time.Duration
}

// Upload connects to the server, sends the file at opts.Path and waits for
// the status reply. It makes a single attempt.
//
// Errors:
//   - ErrFileTooLarge before connecting, for files over 4 GiB - 1
//   - ErrRejected when the server reports failure
//   - ErrConnectionLost when the server closes without replying
func Upload(ctx context.Context, opts Options) (*Result, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.Path)
	}

	start := time.Now()

	// ========================================================================
	// Step 1: Map the source file
	// ========================================================================

	src, err := openSource(opts.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("Couldn't release %s: %v", opts.Path, cerr)
		}
	}()

	// ========================================================================
	// Step 2: Connect
	// ========================================================================

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to %s: %w", opts.Address, err)
	}
	defer conn.Close()

	// Cancelling ctx aborts a blocked send or receive.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	logger.Debug("Connected to %s, sending %s as %q (%d bytes)", conn.RemoteAddr(), opts.Path, name, len(src.data))

	// ========================================================================
	// Step 3: Send and wait for the status
	// ========================================================================

	if err := wire.WriteRequest(conn, []byte(name), src.data); err != nil {
		return nil, contextErr(ctx, fmt.Errorf("couldn't send %s: %w", opts.Path, err))
	}

	var order binary.ByteOrder = binary.BigEndian
	if opts.NativeStatus {
		order = binary.NativeEndian
	}

	status, err := wire.ReadStatus(conn, order)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionLost
		}
		return nil, contextErr(ctx, fmt.Errorf("couldn't read server status: %w", err))
	}
	if !status.OK() {
		return nil, fmt.Errorf("%w (status %d)", ErrRejected, status)
	}

	return &Result{
		Name:    name,
		Bytes:   int64(len(src.data)),
		Elapsed: time.Since(start),
	}, nil
}

// contextErr prefers the context's error when it caused err.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// source is an opened, read-only view of the file being sent.
type source struct {
	file  *os.File
	data  []byte
	unmap func([]byte) error
}

// openSource opens path and maps its contents.
func openSource(path string) (_ *source, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("couldn't get file size: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}

	src := &source{file: f}
	if info.Size() == 0 {
		return src, nil
	}

	src.data, src.unmap, err = mapFile(f, int(info.Size()))
	if err != nil {
		return nil, fmt.Errorf("couldn't map file: %w", err)
	}
	return src, nil
}

// Close unmaps the data, then closes the file.
func (s *source) Close() error {
	var err error
	if s.unmap != nil {
		err = s.unmap(s.data)
		s.unmap = nil
	}
	s.data = nil
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
