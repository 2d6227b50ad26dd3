package lsm

import (
	"testing"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
	"github.com/GZTimeWalker/YYDB/pkg/metrics"
)

func newTestOptions() Options {
	opts := DefaultOptions()
	opts.Logger = logging.NewNopLogger()
	opts.Metrics = metrics.NewRegistry()
	return opts
}

func newTestTable(t *testing.T, opts Options) *Table {
	t.Helper()
	dir := t.TempDir()
	table, err := OpenTable(dir, "test", 42, opts)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	return table
}

func valueEntry(key uint64, value ...byte) codec.Entry {
	return codec.Entry{Key: key, Kind: codec.KindValue, Value: value}
}

func tombstoneEntry(key uint64) codec.Entry {
	return codec.Entry{Key: key, Kind: codec.KindTombstone}
}

// archiveTestRun writes one run at the given level from (key, value)
// pairs where value nil means tombstone.
func archiveTestRun(t *testing.T, factory *IOHandlerFactory, level uint32, entries []codec.Entry) *SSTable {
	t.Helper()
	opts := newTestOptions()
	sst, err := ArchiveRun(factory, NewSSTableKey(level), entries, opts)
	if err != nil {
		t.Fatalf("ArchiveRun: %v", err)
	}
	return sst
}
