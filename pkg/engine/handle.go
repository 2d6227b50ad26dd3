package engine

import (
	"sync"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/lsm"
)

// TableHandle is the boundary object for one open table. At most one
// scan may be active on a handle at a time.
type TableHandle struct {
	table *lsm.Table

	iterMu sync.Mutex
	iter   *lsm.TableIterator
}

// Result is the outcome of a point read.
type Result struct {
	Kind  codec.Kind
	Value []byte
}

// IsValue reports a live value.
func (r Result) IsValue() bool { return r.Kind == codec.KindValue }

// IsTombstone reports a persisted deletion marker.
func (r Result) IsTombstone() bool { return r.Kind == codec.KindTombstone }

// IsAbsent reports a key the table has never stored (or whose history
// was fully compacted away).
func (r Result) IsAbsent() bool { return r.Kind == codec.KindNotFound }

// Table exposes the underlying storage stack.
func (h *TableHandle) Table() *lsm.Table { return h.table }

// Set records a live value.
func (h *TableHandle) Set(key uint64, value []byte) error {
	return h.table.Set(key, value)
}

// Delete records a tombstone.
func (h *TableHandle) Delete(key uint64) error {
	return h.table.Delete(key)
}

// Get answers a point read.
func (h *TableHandle) Get(key uint64) (Result, error) {
	e, ok, err := h.table.Get(key)
	if err != nil {
		return Result{Kind: codec.KindNotFound}, err
	}
	if !ok {
		return Result{Kind: codec.KindNotFound}, nil
	}
	if e.IsTombstone() {
		return Result{Kind: codec.KindTombstone}, nil
	}
	return Result{Kind: codec.KindValue, Value: e.Value}, nil
}

// IterBegin starts the handle's scan. A second call before IterEnd
// fails with ErrIterInProgress.
func (h *TableHandle) IterBegin() error {
	h.iterMu.Lock()
	defer h.iterMu.Unlock()

	if h.iter != nil {
		return ErrIterInProgress
	}

	iter, err := h.table.Iter()
	if err != nil {
		return err
	}
	h.iter = iter
	return nil
}

// IterNext yields the next live pair of the active scan. The third
// result is false at the end of the table.
func (h *TableHandle) IterNext() (uint64, []byte, bool, error) {
	h.iterMu.Lock()
	defer h.iterMu.Unlock()

	if h.iter == nil {
		return 0, nil, false, ErrNoActiveIter
	}

	e, ok, err := h.iter.Next()
	if err != nil || !ok {
		return 0, nil, false, err
	}
	return e.Key, e.Value, true, nil
}

// IterEnd finishes the active scan.
func (h *TableHandle) IterEnd() error {
	h.iterMu.Lock()
	defer h.iterMu.Unlock()

	if h.iter == nil {
		return ErrNoActiveIter
	}
	h.iter.Close()
	h.iter = nil
	return nil
}

// SizeOnDisk sums the table's files.
func (h *TableHandle) SizeOnDisk() (uint64, error) {
	return h.table.SizeOnDisk()
}

// TableStats is a point-in-time snapshot of one table's shape.
type TableStats struct {
	Name            string
	MemTableEntries int
	RunCount        int
	RunsPerLevel    map[uint32]int
	SizeOnDisk      uint64
}

// Stats snapshots the table's current shape.
func (h *TableHandle) Stats() (TableStats, error) {
	size, err := h.table.SizeOnDisk()
	if err != nil {
		return TableStats{}, err
	}
	manifest := h.table.Manifest()
	return TableStats{
		Name:            h.table.Name(),
		MemTableEntries: h.table.Len(),
		RunCount:        manifest.RunCount(),
		RunsPerLevel:    manifest.LevelCounts(),
		SizeOnDisk:      size,
	}, nil
}

// WaitBackground blocks until flush/compaction work has settled.
// Intended for tests and orderly shutdown paths.
func (h *TableHandle) WaitBackground() {
	h.table.WaitBackground()
}
