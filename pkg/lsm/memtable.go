package lsm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
)

// CacheMagicNumber marks a memtable snapshot file ("YYCA").
const CacheMagicNumber uint32 = 0x59594341

const cacheHeaderSize = 8

// MemTable is the in-memory write buffer: a mutable active map and a
// read-only frozen map awaiting flush.
type MemTable struct {
	mu             sync.RWMutex
	active         *btree.BTreeG[codec.Entry]
	frozen         *btree.BTreeG[codec.Entry]
	frozenReleased bool
}

func entryLess(a, b codec.Entry) bool {
	return a.Key < b.Key
}

func newEntryTree() *btree.BTreeG[codec.Entry] {
	return btree.NewG(8, entryLess)
}

// NewMemTable creates an empty memtable with a released frozen slot.
func NewMemTable() *MemTable {
	return &MemTable{
		active:         newEntryTree(),
		frozen:         newEntryTree(),
		frozenReleased: true,
	}
}

// Set records a live value for the key.
func (mt *MemTable) Set(key uint64, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.active.ReplaceOrInsert(codec.Entry{Key: key, Kind: codec.KindValue, Value: value})
}

// Delete records a tombstone for the key.
func (mt *MemTable) Delete(key uint64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.active.ReplaceOrInsert(codec.Entry{Key: key, Kind: codec.KindTombstone})
}

// Get consults active then frozen. The second result is false when
// neither map has the key.
func (mt *MemTable) Get(key uint64) (codec.Entry, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	probe := codec.Entry{Key: key}
	if e, ok := mt.active.Get(probe); ok {
		return e, true
	}
	if e, ok := mt.frozen.Get(probe); ok {
		return e, true
	}
	return codec.Entry{}, false
}

// Len returns the entry count across both maps.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.active.Len() + mt.frozen.Len()
}

// ShouldFlush reports whether the active map is full and the frozen
// slot is free.
func (mt *MemTable) ShouldFlush(memBlockNum int) bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.active.Len() >= memBlockNum && mt.frozenReleased
}

// FreezeIfFull swaps active into the frozen slot when the active map
// has reached memBlockNum entries and the previous flush has released
// the slot. It returns the frozen contents in key order; the caller
// owns scheduling the flush. The check and the swap share one
// critical section so concurrent writers cannot double-freeze.
func (mt *MemTable) FreezeIfFull(memBlockNum int) ([]codec.Entry, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.active.Len() < memBlockNum || !mt.frozenReleased {
		return nil, false
	}

	mt.frozen = mt.active
	mt.active = newEntryTree()
	mt.frozenReleased = false

	return treeEntries(mt.frozen), true
}

// FreezeForce swaps a non-empty active map into the frozen slot even
// below the flush threshold. It still refuses while the previous
// flush holds the slot.
func (mt *MemTable) FreezeForce() ([]codec.Entry, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.active.Len() == 0 || !mt.frozenReleased {
		return nil, false
	}

	mt.frozen = mt.active
	mt.active = newEntryTree()
	mt.frozenReleased = false

	return treeEntries(mt.frozen), true
}

// FrozenEntries returns the frozen map's contents in key order, for
// retrying a failed flush.
func (mt *MemTable) FrozenEntries() []codec.Entry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return treeEntries(mt.frozen)
}

// ReleaseFrozen clears the frozen slot after a successful flush.
func (mt *MemTable) ReleaseFrozen() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.frozen = newEntryTree()
	mt.frozenReleased = true
}

// FrozenReleased reports whether the previous flush has completed.
func (mt *MemTable) FrozenReleased() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.frozenReleased
}

// Snapshot returns a point-in-time merged view of active and frozen
// in ascending key order. On collision the active entry wins.
func (mt *MemTable) Snapshot() []codec.Entry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	merged := mt.frozen.Clone()
	mt.active.Ascend(func(e codec.Entry) bool {
		merged.ReplaceOrInsert(e)
		return true
	})
	return treeEntries(merged)
}

func treeEntries(t *btree.BTreeG[codec.Entry]) []codec.Entry {
	entries := make([]codec.Entry, 0, t.Len())
	t.Ascend(func(e codec.Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// SaveSnapshot persists the merged active+frozen contents so a clean
// shutdown can warm-start. This is an optimization, not a WAL.
func (mt *MemTable) SaveSnapshot(path string, flateLevel int) error {
	entries := mt.Snapshot()

	var raw []byte
	var err error
	for _, e := range entries {
		if raw, err = codec.AppendEntry(raw, e); err != nil {
			return fmt.Errorf("encode snapshot entry %d: %w", e.Key, err)
		}
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flateLevel)
	if err != nil {
		return fmt.Errorf("snapshot compressor: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	var header [cacheHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], CacheMagicNumber)
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(compressed.Bytes()))

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", tmp, err)
	}
	if _, err := file.Write(header[:]); err != nil {
		file.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := file.Write(compressed.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("write snapshot payload: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	return os.Rename(tmp, path)
}

// LoadSnapshot repopulates the active map from a snapshot file. A
// missing or empty file is not an error; an invalid one is.
func (mt *MemTable) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) < cacheHeaderSize {
		return fmt.Errorf("snapshot %s: %w", path, ErrEmptyFile)
	}

	if binary.BigEndian.Uint32(data[0:4]) != CacheMagicNumber {
		return fmt.Errorf("snapshot %s: %w", path, ErrInvalidMagic)
	}

	payload := data[cacheHeaderSize:]
	if got := crc32.ChecksumIEEE(payload); got != binary.BigEndian.Uint32(data[4:8]) {
		return fmt.Errorf("snapshot %s: %w", path, ErrChecksumMismatch)
	}

	raw, err := io.ReadAll(flate.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return fmt.Errorf("decompress snapshot %s: %w", path, err)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	for len(raw) > 0 {
		e, n, err := codec.DecodeEntry(raw)
		if err != nil {
			return fmt.Errorf("decode snapshot %s: %w", path, err)
		}
		mt.active.ReplaceOrInsert(e)
		raw = raw[n:]
	}
	return nil
}
