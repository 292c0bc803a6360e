package metrics

import (
	"time"

	s3store "github.com/marmos91/dittodrop/pkg/storage/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// s3Collectors backs s3store.Metrics with Prometheus collectors.
//
// An upload costs one PutObject call, plus a single HeadBucket when the
// store starts, so the label space stays tiny.
type s3Collectors struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	bytes   *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// NewS3Metrics returns Prometheus S3 metrics, or nil when the registry has
// not been initialized. The S3 store treats nil as "no metrics".
func NewS3Metrics() s3store.Metrics {
	if !IsEnabled() {
		return nil
	}

	factory := promauto.With(GetRegistry())

	return &s3Collectors{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittodrop_s3_operations_total",
			Help: "S3 API calls by operation and outcome",
		}, []string{"operation", "status"}),

		// 5ms .. ~20s, doubling
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dittodrop_s3_operation_duration_seconds",
			Help:    "Latency of S3 API calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 13),
		}, []string{"operation"}),

		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittodrop_s3_bytes_written_total",
			Help: "Upload payload bytes accepted by S3",
		}, []string{"operation"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dittodrop_s3_errors_total",
			Help: "Failed S3 API calls, including refused conditional writes",
		}, []string{"operation"}),
	}
}

func (c *s3Collectors) ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.errors.WithLabelValues(operation).Inc()
	}
	c.calls.WithLabelValues(operation, outcome).Inc()
	c.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *s3Collectors) RecordBytes(operation string, n int64) {
	c.bytes.WithLabelValues(operation).Add(float64(n))
}
