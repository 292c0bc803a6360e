//go:build linux

package fs

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// writeMapped sizes f to len(content) and copies content in through a
// MAP_SHARED mapping. Resources are released in reverse order: the mapping
// is unmapped before the caller closes the file.
func writeMapped(f *os.File, content []byte, sync bool) (err error) {
	size := len(content)
	if size == 0 {
		return nil
	}

	fd := int(f.Fd())

	if err := preallocate(fd, int64(size)); err != nil {
		return err
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	defer func() {
		if uerr := unix.Munmap(data); uerr != nil && err == nil {
			err = fmt.Errorf("munmap: %w", uerr)
		}
	}()

	if err := copyGuarded(data, content); err != nil {
		return err
	}

	if sync {
		if err := unix.Msync(data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("msync: %w", err)
		}
	}

	return nil
}

// preallocate reserves size bytes for fd. Filesystems without fallocate
// support fall back to ftruncate, which sizes the file without reserving
// blocks.
func preallocate(fd int, size int64) error {
	err := unix.Fallocate(fd, 0, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		if err := unix.Ftruncate(fd, size); err != nil {
			return fmt.Errorf("ftruncate: %w", err)
		}
		return nil
	}
	return fmt.Errorf("fallocate: %w", err)
}

// copyGuarded copies src into the mapping. A write fault on the mapping
// (SIGBUS when the backing device runs out of space or fails) becomes an
// error instead of crashing the process.
func copyGuarded(dst, src []byte) (err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("page fault writing mapped file: %v", r)
		}
	}()

	copy(dst, src)
	return nil
}
