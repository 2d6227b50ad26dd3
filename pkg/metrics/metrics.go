package metrics

import (
	"strconv"
	"time"
)

// RecordWrite records a set operation
func (r *Registry) RecordWrite(valueBytes int) {
	r.WritesTotal.Inc()
	r.BytesWritten.Add(float64(valueBytes))
}

// RecordDelete records a delete operation
func (r *Registry) RecordDelete() {
	r.DeletesTotal.Inc()
}

// RecordRead records a get operation with its outcome
func (r *Registry) RecordRead(result string, valueBytes int) {
	r.ReadsTotal.WithLabelValues(result).Inc()
	if valueBytes > 0 {
		r.BytesRead.Add(float64(valueBytes))
	}
}

// RecordFlush records a completed memtable flush
func (r *Registry) RecordFlush(duration time.Duration) {
	r.FlushesTotal.Inc()
	r.FlushDuration.Observe(duration.Seconds())
}

// RecordCompaction records a compaction attempt for a level
func (r *Registry) RecordCompaction(level uint32, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.CompactionsTotal.WithLabelValues(levelLabel(level), result).Inc()
	if ok {
		r.CompactionDuration.Observe(duration.Seconds())
	}
}

// SetMemTableEntries updates a table's buffered entry count
func (r *Registry) SetMemTableEntries(table string, n int) {
	r.MemTableEntries.WithLabelValues(table).Set(float64(n))
}

// SetRunsAtLevel updates the live run count for a level
func (r *Registry) SetRunsAtLevel(level uint32, n int) {
	r.RunsPerLevel.WithLabelValues(levelLabel(level)).Set(float64(n))
}

func levelLabel(level uint32) string {
	return "L" + strconv.FormatUint(uint64(level), 10)
}
