//go:build !linux

package uploader

import (
	"io"
	"os"
)

// mapFile reads f into memory where the Linux mmap path is unavailable.
func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
