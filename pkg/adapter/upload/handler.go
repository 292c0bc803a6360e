package upload

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/wire"
	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/marmos91/dittodrop/pkg/storage"
)

// maxPutAttempts bounds how many random prefixes are tried for one upload
// before a key collision is reported as a failure.
const maxPutAttempts = 4

// handler runs one request cycle on a ready connection.
//
// A cycle is: read the whole request, validate the name, store the content
// under a fresh key, answer with one status word. It is transport-agnostic
// so the same code serves raw sockets in production and pipes in tests.
type handler struct {
	store   storage.Store
	limits  wire.Limits
	order   binary.ByteOrder
	metrics metrics.UploadMetrics
}

// cycle describes one connection's request/response turn for logging.
type cycle struct {
	session string
	peer    string
	worker  int
	namer   *storage.Namer
}

// handle processes one request read from rw.
//
// It returns true when the exchange completed with a success status and the
// connection can be re-armed for another request. Every other outcome means
// the connection must be dropped. handle never panics.
func (h *handler) handle(ctx context.Context, rw io.ReadWriter, c cycle) (keep bool) {
	start := time.Now()

	// At most one status word goes out per cycle.
	replied := false
	reply := func(status wire.Status) bool {
		replied = true
		return h.reply(rw, c, status)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("[%s] panic while processing upload from %s: %v", c.session, c.peer, r)
			if !replied {
				reply(wire.StatusFailure)
			}
			h.metrics.RecordUpload(metrics.OutcomeFailed, time.Since(start), 0)
			keep = false
		}
	}()

	req, err := wire.ReadRequest(rw, h.limits)
	if err == io.EOF {
		// Nothing was sent: the peer is gone and nobody is waiting for a status.
		logger.Debug("[%s] connection from %s closed by client", c.session, c.peer)
		return false
	}
	if err != nil {
		logger.Warn("[%s] bad request from %s: %v", c.session, c.peer, err)
		reply(wire.StatusFailure)
		h.metrics.RecordUpload(metrics.OutcomeRejected, time.Since(start), 0)
		return false
	}
	defer req.Release()

	name := string(req.Name)
	size := int64(len(req.Content))

	if err := storage.ValidateName(name, int(h.limits.MaxNameLength)); err != nil {
		logger.Warn("[%s] rejected upload from %s: %v", c.session, c.peer, err)
		reply(wire.StatusFailure)
		h.metrics.RecordUpload(metrics.OutcomeRejected, time.Since(start), size)
		return false
	}

	location, err := h.put(ctx, name, req.Content, c)
	if err != nil {
		logger.Error("[%s] failed to store %q (%d bytes) from %s: %v", c.session, name, size, c.peer, err)
		reply(wire.StatusFailure)
		h.metrics.RecordUpload(metrics.OutcomeFailed, time.Since(start), size)
		return false
	}

	logger.Info("Worker %d: got file %s (%d bytes) from %s", c.worker, location, size, c.peer)
	h.metrics.RecordUpload(metrics.OutcomeStored, time.Since(start), size)

	return reply(wire.StatusSuccess)
}

// put stores content under a fresh key, retrying with a new prefix when the
// key is already taken.
func (h *handler) put(ctx context.Context, name string, content []byte, c cycle) (string, error) {
	var err error
	for attempt := 1; attempt <= maxPutAttempts; attempt++ {
		var location string
		location, err = h.store.Put(ctx, c.namer.Key(name), content)
		if err == nil {
			return location, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return "", err
		}
		h.metrics.RecordNameCollision()
		logger.Debug("[%s] key collision for %q (attempt %d/%d)", c.session, name, attempt, maxPutAttempts)
	}
	return "", err
}

// reply sends status and reports whether it went out completely.
func (h *handler) reply(w io.Writer, c cycle, status wire.Status) bool {
	if err := wire.WriteStatus(w, status, h.order); err != nil {
		logger.Warn("[%s] failed to send status %d to %s: %v", c.session, status, c.peer, err)
		return false
	}
	return true
}
