package metrics

import "time"

// Upload outcome labels.
const (
	OutcomeStored    = "stored"
	OutcomeRejected  = "rejected"   // protocol or validation failure, failure status sent
	OutcomeFailed    = "failed"     // storage failure, failure status sent
	OutcomeAbandoned = "abandoned"  // peer vanished, no status sent
)

// UploadMetrics provides observability for the upload adapter.
//
// Implementations must be safe for concurrent use by every worker. If no
// implementation is handed to the adapter, NewNoopUploadMetrics is used.
type UploadMetrics interface {
	// RecordUpload records one finished request cycle.
	//
	// Parameters:
	//   - outcome: one of the Outcome* constants
	//   - duration: time from readiness to status sent
	//   - bytes: content bytes received (0 when the request was cut short)
	RecordUpload(outcome string, duration time.Duration, bytes int64)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionRejected counts connections closed straight after
	// accept because the admission rate limit was exceeded.
	RecordConnectionRejected()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the registered connection gauge.
	SetActiveConnections(count int32)

	// SetBusyWorkers updates the number of workers currently processing.
	SetBusyWorkers(count int32)

	// RecordAcceptError counts failed accept calls (EAGAIN excluded).
	RecordAcceptError()

	// RecordDuplicateDelivery counts readiness events delivered for a
	// connection that another worker was still processing. Single-shot
	// registration should keep this at zero.
	RecordDuplicateDelivery()

	// RecordNameCollision counts storage key collisions that forced a retry.
	RecordNameCollision()
}

// NewNoopUploadMetrics returns an UploadMetrics that discards everything.
func NewNoopUploadMetrics() UploadMetrics {
	return noopUploadMetrics{}
}

type noopUploadMetrics struct{}

func (noopUploadMetrics) RecordUpload(string, time.Duration, int64) {}
func (noopUploadMetrics) RecordConnectionAccepted()                 {}
func (noopUploadMetrics) RecordConnectionRejected()                 {}
func (noopUploadMetrics) RecordConnectionClosed()                   {}
func (noopUploadMetrics) SetActiveConnections(int32)                {}
func (noopUploadMetrics) SetBusyWorkers(int32)                      {}
func (noopUploadMetrics) RecordAcceptError()                        {}
func (noopUploadMetrics) RecordDuplicateDelivery()                  {}
func (noopUploadMetrics) RecordNameCollision()                      {}
