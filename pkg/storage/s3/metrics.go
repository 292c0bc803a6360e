package s3

import "time"

// Metrics receives per-request observations from the store.
//
// Implementations must be safe for concurrent use. A nil Metrics in
// S3StoreConfig disables collection.
type Metrics interface {
	// ObserveOperation records one S3 API call. err is nil on success.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes sent by a successful operation.
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
