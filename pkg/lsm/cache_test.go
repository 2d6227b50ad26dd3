package lsm

import (
	"testing"
)

func TestReadCacheBasics(t *testing.T) {
	rc := NewReadCache(2)

	rc.Put(1, valueEntry(1, 'a'))
	rc.Put(2, valueEntry(2, 'b'))

	if e, ok := rc.Get(1); !ok || e.Value[0] != 'a' {
		t.Errorf("Get(1) = %+v, %v", e, ok)
	}

	// Key 1 was just used; inserting a third entry evicts key 2.
	rc.Put(3, valueEntry(3, 'c'))
	if _, ok := rc.Get(2); ok {
		t.Error("LRU entry should have been evicted")
	}
	if _, ok := rc.Get(1); !ok {
		t.Error("recently used entry should survive")
	}
	if rc.Len() != 2 {
		t.Errorf("Len = %d, want 2", rc.Len())
	}
}

func TestReadCacheInvalidate(t *testing.T) {
	rc := NewReadCache(4)

	rc.Put(1, valueEntry(1, 'a'))
	rc.Delete(1)
	if _, ok := rc.Get(1); ok {
		t.Error("deleted entry should be gone")
	}

	// Tombstones are cacheable results too.
	rc.Put(2, tombstoneEntry(2))
	if e, ok := rc.Get(2); !ok || !e.IsTombstone() {
		t.Error("cached tombstone lost")
	}
}

func TestReadCacheDisabled(t *testing.T) {
	rc := NewReadCache(0)
	rc.Put(1, valueEntry(1, 'a'))
	if _, ok := rc.Get(1); ok {
		t.Error("disabled cache should store nothing")
	}
	if rc.Len() != 0 {
		t.Error("disabled cache should stay empty")
	}
}

func TestReadCacheStats(t *testing.T) {
	rc := NewReadCache(4)
	rc.Put(1, valueEntry(1, 'a'))
	rc.Get(1)
	rc.Get(9)

	hits, misses := rc.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = %d hits, %d misses, want 1/1", hits, misses)
	}
}
