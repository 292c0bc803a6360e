//go:build !linux

package fs

import (
	"fmt"
	"os"
)

// writeMapped falls back to a sized plain write where the Linux mmap path
// is unavailable.
func writeMapped(f *os.File, content []byte, sync bool) error {
	if len(content) == 0 {
		return nil
	}
	if err := f.Truncate(int64(len(content))); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if _, err := f.WriteAt(content, 0); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
