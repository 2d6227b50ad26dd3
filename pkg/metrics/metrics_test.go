package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryIsolation(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.RecordWrite(10)
	a.RecordWrite(20)

	if got := testutil.ToFloat64(a.WritesTotal); got != 2 {
		t.Errorf("a.WritesTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.WritesTotal); got != 0 {
		t.Errorf("b.WritesTotal = %v, want 0", got)
	}
	if got := testutil.ToFloat64(a.BytesWritten); got != 30 {
		t.Errorf("a.BytesWritten = %v, want 30", got)
	}
}

func TestRecordRead(t *testing.T) {
	r := NewRegistry()

	r.RecordRead("value", 100)
	r.RecordRead("absent", 0)
	r.RecordRead("tombstone", 0)

	if got := testutil.ToFloat64(r.ReadsTotal.WithLabelValues("value")); got != 1 {
		t.Errorf("reads{value} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ReadsTotal.WithLabelValues("absent")); got != 1 {
		t.Errorf("reads{absent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.BytesRead); got != 100 {
		t.Errorf("BytesRead = %v, want 100", got)
	}
}

func TestRecordCompaction(t *testing.T) {
	r := NewRegistry()

	r.RecordCompaction(0, true, 10*time.Millisecond)
	r.RecordCompaction(0, false, 0)
	r.RecordCompaction(3, true, time.Millisecond)

	if got := testutil.ToFloat64(r.CompactionsTotal.WithLabelValues("L0", "ok")); got != 1 {
		t.Errorf("compactions{L0,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CompactionsTotal.WithLabelValues("L0", "error")); got != 1 {
		t.Errorf("compactions{L0,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.CompactionsTotal.WithLabelValues("L3", "ok")); got != 1 {
		t.Errorf("compactions{L3,ok} = %v, want 1", got)
	}
}

func TestRunsPerLevel(t *testing.T) {
	r := NewRegistry()

	r.SetRunsAtLevel(0, 4)
	r.SetRunsAtLevel(1, 1)
	r.SetRunsAtLevel(0, 0)

	if got := testutil.ToFloat64(r.RunsPerLevel.WithLabelValues("L0")); got != 0 {
		t.Errorf("runs{L0} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.RunsPerLevel.WithLabelValues("L1")); got != 1 {
		t.Errorf("runs{L1} = %v, want 1", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same registry")
	}
}
