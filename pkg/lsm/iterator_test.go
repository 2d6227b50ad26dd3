package lsm

import (
	"testing"
)

func TestTableIteratorMemOnly(t *testing.T) {
	table := newTestTable(t, newTestOptions())
	defer table.Close()

	table.Set(3, []byte("c"))
	table.Set(1, []byte("a"))
	table.Delete(2)

	iter, err := table.Iter()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	e, ok, err := iter.Next()
	if err != nil || !ok || e.Key != 1 {
		t.Fatalf("first = %+v, %v, %v, want key 1", e, ok, err)
	}
	e, ok, err = iter.Next()
	if err != nil || !ok || e.Key != 3 {
		t.Fatalf("second = %+v, %v, %v, want key 3 (2 is tombstoned)", e, ok, err)
	}
	if _, ok, _ := iter.Next(); ok {
		t.Error("iterator should be exhausted")
	}
}

func TestTableIteratorEmptyTable(t *testing.T) {
	table := newTestTable(t, newTestOptions())
	defer table.Close()

	iter, err := table.Iter()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	if _, ok, err := iter.Next(); ok || err != nil {
		t.Errorf("empty table scan: ok=%v err=%v", ok, err)
	}
}

func TestTableIteratorClosed(t *testing.T) {
	table := newTestTable(t, newTestOptions())
	defer table.Close()

	table.Set(1, []byte("a"))
	iter, err := table.Iter()
	if err != nil {
		t.Fatal(err)
	}
	iter.Close()
	iter.Close() // idempotent

	if _, _, err := iter.Next(); err == nil {
		t.Error("Next after Close should error")
	}
}

func TestTableIteratorTombstoneAcrossTiers(t *testing.T) {
	opts := newTestOptions()
	table := newTestTable(t, opts)
	defer table.Close()

	// Value flushed to a run, tombstone left in the memtable.
	table.Set(1, []byte("a"))
	table.Set(2, []byte("b"))
	if err := table.Flush(); err != nil {
		t.Fatal(err)
	}
	table.Delete(1)

	iter, err := table.Iter()
	if err != nil {
		t.Fatal(err)
	}
	defer iter.Close()

	e, ok, err := iter.Next()
	if err != nil || !ok || e.Key != 2 {
		t.Fatalf("scan = %+v, %v, %v, want only key 2", e, ok, err)
	}
	if _, ok, _ := iter.Next(); ok {
		t.Error("tombstoned key leaked into the scan")
	}
}
