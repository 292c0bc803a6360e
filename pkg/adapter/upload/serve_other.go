//go:build !linux

package upload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// Serve is only implemented on Linux: the engine is built on epoll.
func (a *UploadAdapter) Serve(ctx context.Context) error {
	if a.started.Swap(true) {
		return errors.New("upload adapter already serving")
	}
	defer close(a.done)
	defer a.cancelRequests()

	return fmt.Errorf("upload adapter: epoll is not available on %s", runtime.GOOS)
}
