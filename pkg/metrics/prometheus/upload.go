package prometheus

import (
	"time"

	"github.com/marmos91/dittodrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	uploadsTotal         *prometheus.CounterVec
	uploadDuration       *prometheus.HistogramVec
	uploadSize           prometheus.Histogram
	bytesReceived        prometheus.Counter
	activeConnections    prometheus.Gauge
	busyWorkers          prometheus.Gauge
	connectionsAccepted  prometheus.Counter
	connectionsRejected  prometheus.Counter
	connectionsClosed    prometheus.Counter
	acceptErrors         prometheus.Counter
	duplicateDeliveries  prometheus.Counter
	nameCollisions       prometheus.Counter
}

// NewUploadMetrics creates a Prometheus-backed UploadMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() metrics.UploadMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopUploadMetrics()
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodrop_uploads_total",
				Help: "Total number of upload cycles by outcome",
			},
			[]string{"outcome"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodrop_upload_duration_milliseconds",
				Help: "Duration of upload cycles in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
					60000, // 1m
				},
			},
			[]string{"outcome"},
		),
		uploadSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittodrop_upload_size_bytes",
				Help: "Distribution of stored upload sizes",
				Buckets: []float64{
					4096,       // 4KB
					65536,      // 64KB
					1048576,    // 1MB
					16777216,   // 16MB
					268435456,  // 256MB
					1073741824, // 1GB
				},
			},
		),
		bytesReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_bytes_received_total",
				Help: "Total content bytes received from clients",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrop_active_connections",
				Help: "Current number of registered client connections",
			},
		),
		busyWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittodrop_busy_workers",
				Help: "Current number of workers processing an upload",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_connections_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_connections_rejected_total",
				Help: "Total number of connections closed by the admission rate limit",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_connections_closed_total",
				Help: "Total number of client connections closed",
			},
		),
		acceptErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_accept_errors_total",
				Help: "Total number of failed accept calls",
			},
		),
		duplicateDeliveries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_duplicate_deliveries_total",
				Help: "Readiness events delivered for a connection already being processed",
			},
		),
		nameCollisions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittodrop_name_collisions_total",
				Help: "Storage key collisions that required a new random prefix",
			},
		),
	}
}

func (m *uploadMetrics) RecordUpload(outcome string, duration time.Duration, bytes int64) {
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.WithLabelValues(outcome).Observe(float64(duration.Microseconds()) / 1000)

	if bytes > 0 {
		m.bytesReceived.Add(float64(bytes))
	}
	if outcome == metrics.OutcomeStored {
		m.uploadSize.Observe(float64(bytes))
	}
}

func (m *uploadMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *uploadMetrics) RecordConnectionRejected() {
	m.connectionsRejected.Inc()
}

func (m *uploadMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *uploadMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *uploadMetrics) SetBusyWorkers(count int32) {
	m.busyWorkers.Set(float64(count))
}

func (m *uploadMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *uploadMetrics) RecordDuplicateDelivery() {
	m.duplicateDeliveries.Inc()
}

func (m *uploadMetrics) RecordNameCollision() {
	m.nameCollisions.Inc()
}
