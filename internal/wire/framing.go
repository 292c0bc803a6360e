// Package wire implements the upload protocol spoken between dropctl and
// the upload adapter.
//
// A request is two length-prefixed frames:
//
//	[uint32 nameLen][name][uint32 contentLen][content]
//
// with both lengths in network byte order. The server answers with a single
// int32 status: 0 on success, anything else on failure.
package wire

import (
	"errors"
	"io"
)

// maxEmptyReads is how many consecutive (0, nil) reads RecvAll tolerates
// before giving up with io.ErrNoProgress.
const maxEmptyReads = 100

// SendAll writes every byte of p to w.
//
// Transports may accept fewer bytes than offered without reporting an
// error; SendAll keeps writing the remainder until p is exhausted or a write
// fails. It never reports success after a partial frame.
func SendAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// RecvAll fills p from r.
//
// It returns io.EOF only when the peer closed the stream before a single
// byte of p arrived, io.ErrUnexpectedEOF when the stream ended part way
// through, and the transport error otherwise. Callers use the io.EOF case to
// tell a peer that simply went away from a broken transfer. A reader that
// keeps returning no data and no error yields io.ErrNoProgress.
func RecvAll(r io.Reader, p []byte) error {
	read, empty := 0, 0
	for read < len(p) {
		n, err := r.Read(p[read:])
		read += n
		if read == len(p) {
			return nil
		}
		if n == 0 && err == nil {
			if empty++; empty >= maxEmptyReads {
				return io.ErrNoProgress
			}
			continue
		}
		empty = 0
		if err != nil {
			if errors.Is(err, io.EOF) {
				if read == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
