// Package metrics provides Prometheus metrics collection for DittoDrop.
//
// Metrics are optional. Until InitRegistry is called every constructor in
// this package tree returns a no-op implementation, so the upload adapter
// can record unconditionally without paying for it when metrics are off.
//
// Usage:
//
//	metrics.InitRegistry()
//	uploadMetrics := prometheus.NewUploadMetrics()
//	adapter := upload.New(cfg, uploadMetrics)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read everywhere else.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry and registers the Go runtime
// and process collectors on it. Safe to call more than once.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
