package lsm

import (
	"fmt"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
)

// TableIterator merges a memtable snapshot with every live run,
// newest tier first, yielding each live key exactly once in ascending
// key order. Tombstoned and shadowed versions are suppressed.
//
// The iterator holds no locks that block writes: it works from a
// point-in-time memtable snapshot and a pinned run list. Compaction
// defers input-file deletion until Close.
type TableIterator struct {
	manifest *Manifest
	sources  []*scanSource
	closed   bool
}

// scanSource adapts one tier to the merge: either an in-memory entry
// slice or a streaming run iterator. Slice index order doubles as
// freshness order.
type scanSource struct {
	entries []codec.Entry
	idx     int

	it *SSTableIter

	cur codec.Entry
	ok  bool
}

func (s *scanSource) advance() error {
	if s.it == nil {
		if s.idx < len(s.entries) {
			s.cur, s.ok = s.entries[s.idx], true
			s.idx++
		} else {
			s.ok = false
		}
		return nil
	}

	e, ok, err := s.it.Next()
	if err != nil {
		s.ok = false
		return err
	}
	s.cur, s.ok = e, ok
	return nil
}

// NewTableIterator snapshots the memtable and pins the manifest's run
// list for the scan's lifetime.
func NewTableIterator(mem *MemTable, manifest *Manifest) (*TableIterator, error) {
	runs := manifest.BeginIter()

	ti := &TableIterator{
		manifest: manifest,
		sources:  make([]*scanSource, 0, len(runs)+1),
	}
	ti.sources = append(ti.sources, &scanSource{entries: mem.Snapshot()})

	for _, sst := range runs {
		it, err := sst.NewIter()
		if err != nil {
			ti.Close()
			return nil, fmt.Errorf("open scan on run %s: %w", sst.Meta().Key, err)
		}
		ti.sources = append(ti.sources, &scanSource{it: it})
	}

	for _, s := range ti.sources {
		if err := s.advance(); err != nil {
			ti.Close()
			return nil, err
		}
	}

	return ti, nil
}

// Next returns the next live (key, value) pair. The second result is
// false at the end of the table.
func (ti *TableIterator) Next() (codec.Entry, bool, error) {
	if ti.closed {
		return codec.Entry{}, false, fmt.Errorf("iterator is closed")
	}

	for {
		winner := -1
		for i, s := range ti.sources {
			if !s.ok {
				continue
			}
			if winner < 0 || s.cur.Key < ti.sources[winner].cur.Key {
				winner = i
			}
		}
		if winner < 0 {
			return codec.Entry{}, false, nil
		}

		minKey := ti.sources[winner].cur.Key
		entry := ti.sources[winner].cur

		// Older versions of the key, in whatever tier, are shadowed.
		for _, s := range ti.sources {
			if s.ok && s.cur.Key == minKey {
				if err := s.advance(); err != nil {
					return codec.Entry{}, false, err
				}
			}
		}

		if entry.IsTombstone() {
			continue
		}
		return entry, true, nil
	}
}

// Close releases the run iterators and unpins the manifest, allowing
// deferred run deletions to proceed.
func (ti *TableIterator) Close() {
	if ti.closed {
		return
	}
	ti.closed = true

	for _, s := range ti.sources {
		if s.it != nil {
			s.it.Close()
		}
	}
	ti.manifest.EndIter()
}
