package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initWriteMetrics() {
	r.WritesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_writes_total",
			Help: "Total number of set operations",
		},
	)

	r.DeletesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_deletes_total",
			Help: "Total number of delete operations",
		},
	)

	r.ReadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "yydb_reads_total",
			Help: "Total number of get operations",
		},
		[]string{"result"}, // value, tombstone, absent, error
	)

	r.BytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_bytes_written_total",
			Help: "Total value bytes accepted by set operations",
		},
	)

	r.BytesRead = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_bytes_read_total",
			Help: "Total value bytes returned by get operations",
		},
	)
}

func (r *Registry) initBackgroundMetrics() {
	r.FlushesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_flushes_total",
			Help: "Total number of memtable flushes",
		},
	)

	r.FlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yydb_flush_duration_seconds",
			Help:    "Duration of memtable flushes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "yydb_compactions_total",
			Help: "Total number of run compactions",
		},
		[]string{"level", "result"}, // result: ok, error
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yydb_compaction_duration_seconds",
			Help:    "Duration of run compactions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.ChecksumErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yydb_checksum_errors_total",
			Help: "Total number of checksum mismatches detected on run files",
		},
	)
}

func (r *Registry) initStateMetrics() {
	r.OpenTables = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "yydb_open_tables",
			Help: "Number of currently open tables",
		},
	)

	r.MemTableEntries = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "yydb_memtable_entries",
			Help: "Entries buffered in a table's memtable (active + frozen)",
		},
		[]string{"table"},
	)

	r.RunsPerLevel = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "yydb_runs_per_level",
			Help: "Number of live runs per LSM level",
		},
		[]string{"level"},
	)
}
