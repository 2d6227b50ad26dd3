package lsm

import (
	"testing"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
)

func trackerRuns(t *testing.T, factory *IOHandlerFactory, level uint32, n int) []*SSTable {
	t.Helper()
	runs := make([]*SSTable, 0, n)
	for i := 0; i < n; i++ {
		runs = append(runs, archiveTestRun(t, factory, level,
			[]codec.Entry{valueEntry(uint64(i), byte(i))}))
	}
	return runs
}

func TestTrackerCollectBelowThreshold(t *testing.T) {
	factory := NewIOHandlerFactory(t.TempDir())
	tr := NewTracker()
	for _, sst := range trackerRuns(t, factory, 0, 3) {
		tr.PushBack(sst)
	}

	if batches := tr.CollectCompactable(4); len(batches) != 0 {
		t.Fatalf("3 runs under threshold 4 should yield nothing, got %d batches", len(batches))
	}

	// Nothing may be left locked after a failed collection.
	for _, queue := range tr.levels {
		for _, sst := range queue {
			if sst.IsLocked() {
				t.Error("run left locked after aborted collection")
			}
		}
	}
}

func TestTrackerCollectBatch(t *testing.T) {
	factory := NewIOHandlerFactory(t.TempDir())
	tr := NewTracker()
	runs := trackerRuns(t, factory, 0, 6)
	for _, sst := range runs {
		tr.PushBack(sst)
	}

	batches := tr.CollectCompactable(4)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}

	batch := batches[0]
	if batch.Level != 0 || len(batch.Runs) != 4 {
		t.Fatalf("batch = L%d × %d, want L0 × 4", batch.Level, len(batch.Runs))
	}

	// The four oldest runs are selected, handed over newest-first.
	for i, sst := range batch.Runs {
		if sst != runs[3-i] {
			t.Errorf("batch.Runs[%d] is not the expected run", i)
		}
		if !sst.IsLocked() {
			t.Errorf("selected run %d not locked", i)
		}
	}

	// The two runs left behind stay unlocked.
	if runs[4].IsLocked() || runs[5].IsLocked() {
		t.Error("unselected runs must stay unlocked")
	}

	// A second collection cannot steal the locked front.
	if again := tr.CollectCompactable(4); len(again) != 0 {
		t.Error("level with locked front should be skipped")
	}
}

func TestTrackerSkipsLevelWithLockedFront(t *testing.T) {
	factory := NewIOHandlerFactory(t.TempDir())
	tr := NewTracker()
	runs := trackerRuns(t, factory, 0, 4)
	for _, sst := range runs {
		tr.PushBack(sst)
	}

	if !runs[0].TryLock() {
		t.Fatal("setup lock failed")
	}

	if batches := tr.CollectCompactable(4); len(batches) != 0 {
		t.Fatal("level with a locked oldest run must be skipped")
	}
	for _, sst := range runs[1:] {
		if sst.IsLocked() {
			t.Error("skipped level must release its claims")
		}
	}
}

func TestTrackerRemove(t *testing.T) {
	factory := NewIOHandlerFactory(t.TempDir())
	tr := NewTracker()
	runs := trackerRuns(t, factory, 0, 3)
	for _, sst := range runs {
		tr.PushBack(sst)
	}

	tr.Remove(runs[1])
	if tr.LevelLen(0) != 2 {
		t.Errorf("LevelLen = %d, want 2", tr.LevelLen(0))
	}

	tr.Remove(runs[1]) // removing twice is a no-op
	if tr.LevelLen(0) != 2 {
		t.Error("double remove should not shrink the queue")
	}
}

func TestTrackerMaxPopulatedLevel(t *testing.T) {
	factory := NewIOHandlerFactory(t.TempDir())
	tr := NewTracker()

	if tr.MaxPopulatedLevel() != 0 {
		t.Error("empty tracker should report level 0")
	}

	l0 := archiveTestRun(t, factory, 0, []codec.Entry{valueEntry(1, 'a')})
	l2 := archiveTestRun(t, factory, 2, []codec.Entry{valueEntry(2, 'b')})
	tr.PushBack(l0)
	tr.PushBack(l2)

	if got := tr.MaxPopulatedLevel(); got != 2 {
		t.Errorf("MaxPopulatedLevel = %d, want 2", got)
	}

	tr.Remove(l2)
	if got := tr.MaxPopulatedLevel(); got != 0 {
		t.Errorf("MaxPopulatedLevel = %d after removal, want 0", got)
	}
}
