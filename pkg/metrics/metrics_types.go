// Package metrics exposes the engine's Prometheus instrumentation.
// Registries are injected so tests can spin isolated instances.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the engine
type Registry struct {
	// Write/read path
	WritesTotal  prometheus.Counter
	DeletesTotal prometheus.Counter
	ReadsTotal   *prometheus.CounterVec
	BytesWritten prometheus.Counter
	BytesRead    prometheus.Counter

	// Background work
	FlushesTotal        prometheus.Counter
	FlushDuration       prometheus.Histogram
	CompactionsTotal    *prometheus.CounterVec
	CompactionDuration  prometheus.Histogram
	ChecksumErrorsTotal prometheus.Counter

	// State
	OpenTables      prometheus.Gauge
	MemTableEntries *prometheus.GaugeVec
	RunsPerLevel    *prometheus.GaugeVec

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// NewRegistry creates an isolated metrics registry
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initWriteMetrics()
	r.initBackgroundMetrics()
	r.initStateMetrics()

	return r
}

// Default returns the process-wide registry
func Default() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
