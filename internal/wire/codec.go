package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/marmos91/dittodrop/internal/bufpool"
)

// headerSize is the size of each length prefix on the wire.
const headerSize = 4

// Status is the server's single reply to an upload.
type Status int32

const (
	StatusSuccess Status = 0
	StatusFailure Status = -1
)

// OK reports whether the status signals a stored upload.
func (s Status) OK() bool {
	return s == StatusSuccess
}

var (
	// ErrNameTooLong indicates a name length prefix above the configured limit.
	ErrNameTooLong = errors.New("name length exceeds limit")

	// ErrContentTooLarge indicates a content length prefix above the configured limit.
	ErrContentTooLarge = errors.New("content length exceeds limit")
)

// Limits bounds what a server accepts before allocating buffers for a
// request. Zero means no limit beyond the 32-bit length prefix itself.
type Limits struct {
	MaxNameLength  uint32
	MaxContentSize uint32
}

// Request is one decoded upload.
type Request struct {
	Name    []byte
	Content []byte

	pooled bool
}

// Release hands the content buffer back to the pool. The request must not
// be used afterwards.
func (r *Request) Release() {
	if r == nil {
		return
	}
	if r.pooled {
		bufpool.Put(r.Content)
	}
	r.Content = nil
	r.pooled = false
}

// ReadRequest decodes one upload from r.
//
// If the peer closes the stream before the first length prefix starts,
// ReadRequest returns io.EOF unwrapped: there is nobody left to answer.
// Every later failure, including a close in the middle of a frame, is
// returned wrapped and the peer is assumed to still be waiting for a status.
func ReadRequest(r io.Reader, limits Limits) (*Request, error) {
	var header [headerSize]byte

	if err := RecvAll(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read name length: %w", err)
	}

	nameLen := binary.BigEndian.Uint32(header[:])
	if limits.MaxNameLength > 0 && nameLen > limits.MaxNameLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrNameTooLong, nameLen, limits.MaxNameLength)
	}

	name := make([]byte, nameLen)
	if err := recvFrame(r, name); err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}

	if err := recvFrame(r, header[:]); err != nil {
		return nil, fmt.Errorf("read content length: %w", err)
	}

	contentLen := binary.BigEndian.Uint32(header[:])
	if limits.MaxContentSize > 0 && contentLen > limits.MaxContentSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrContentTooLarge, contentLen, limits.MaxContentSize)
	}

	if contentLen > bufpool.MaxPooledSize {
		content, err := recvGrowing(r, int(contentLen))
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		return &Request{Name: name, Content: content}, nil
	}

	content := bufpool.Get(contentLen)
	if err := recvFrame(r, content); err != nil {
		bufpool.Put(content)
		return nil, fmt.Errorf("read content: %w", err)
	}

	return &Request{Name: name, Content: content, pooled: true}, nil
}

// recvGrowing reads exactly n bytes into a buffer that doubles as data
// arrives. A peer announcing a large body and then stalling or closing
// holds at most MaxPooledSize or twice what it actually sent.
func recvGrowing(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, 0, min(n, bufpool.MaxPooledSize))
	for len(buf) < n {
		if len(buf) == cap(buf) {
			grown := make([]byte, len(buf), min(2*cap(buf), n))
			copy(grown, buf)
			buf = grown
		}
		if err := recvFrame(r, buf[len(buf):cap(buf)]); err != nil {
			return nil, err
		}
		buf = buf[:cap(buf)]
	}
	return buf, nil
}

// recvFrame is RecvAll for frames after the first: a clean close there is
// still a truncated request.
func recvFrame(r io.Reader, p []byte) error {
	err := RecvAll(r, p)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// WriteRequest encodes an upload of content under name to w.
func WriteRequest(w io.Writer, name, content []byte) error {
	if uint64(len(name)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	if uint64(len(content)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrContentTooLarge, len(content))
	}

	// Name frame and content length go out together.
	head := make([]byte, 0, 2*headerSize+len(name))
	head = binary.BigEndian.AppendUint32(head, uint32(len(name)))
	head = append(head, name...)
	head = binary.BigEndian.AppendUint32(head, uint32(len(content)))

	if err := SendAll(w, head); err != nil {
		return fmt.Errorf("send header: %w", err)
	}
	if err := SendAll(w, content); err != nil {
		return fmt.Errorf("send content: %w", err)
	}
	return nil
}

// WriteStatus sends s encoded with order.
func WriteStatus(w io.Writer, s Status, order binary.ByteOrder) error {
	var buf [headerSize]byte
	order.PutUint32(buf[:], uint32(s))
	return SendAll(w, buf[:])
}

// ReadStatus reads one status encoded with order. It returns io.EOF when the
// server closed the connection without replying.
func ReadStatus(r io.Reader, order binary.ByteOrder) (Status, error) {
	var buf [headerSize]byte
	if err := RecvAll(r, buf[:]); err != nil {
		return StatusFailure, err
	}
	return Status(int32(order.Uint32(buf[:]))), nil
}

// ParseByteOrder maps a configured status byte order to a binary.ByteOrder.
//
//	"network" (or "") -> big endian
//	"native"          -> host order
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "network", "big", "big_endian":
		return binary.BigEndian, nil
	case "native", "host":
		return binary.NativeEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (expected network or native)", s)
	}
}
