package lsm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/btree"
	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
)

// MetaMagicNumber marks a manifest file ("YYMT").
const MetaMagicNumber uint32 = 0x59594D54

// MetaFileName is the manifest file inside a table directory.
const MetaFileName = ".meta"

// Manifest is the per-table catalog of live runs plus the table-scoped
// metadata that must survive restarts.
type Manifest struct {
	mu sync.RWMutex

	dir     string
	factory *IOHandlerFactory
	tableID uint64
	rowSize uint32

	// global is the ever-seen filter across all live and past keys.
	global *Filter

	// tables orders runs by ascending SSTableKey: level-major,
	// newest-first within a level.
	tables  *btree.BTreeG[*SSTable]
	tracker *Tracker

	// Scan bookkeeping for deferred run deletion.
	itersInProgress int
	pendingDelete   []*SSTable

	opts   Options
	logger logging.Logger
}

func runLess(a, b *SSTable) bool {
	return a.meta.Key < b.meta.Key
}

// OpenManifest loads the table catalog from dir, creating a fresh one
// when the .meta file is missing or unreadable. Files in the directory
// that no manifest entry references are swept away.
func OpenManifest(dir string, tableID uint64, opts Options) (*Manifest, error) {
	m := &Manifest{
		dir:     dir,
		factory: NewIOHandlerFactory(dir),
		tableID: tableID,
		global:  NewGlobalFilter(),
		tables:  btree.NewG(8, runLess),
		tracker: NewTracker(),
		opts:    opts,
		logger:  opts.Logger.With(logging.Component("manifest"), logging.TableID(tableID)),
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	m.sweepOrphans()
	return m, nil
}

func (m *Manifest) metaPath() string {
	return filepath.Join(m.dir, MetaFileName)
}

// Factory exposes the table directory's handle factory.
func (m *Manifest) Factory() *IOHandlerFactory {
	return m.factory
}

// TableID returns the owning table's id.
func (m *Manifest) TableID() uint64 {
	return m.tableID
}

// RowSize returns the recorded row size, 0 while unknown.
func (m *Manifest) RowSize() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowSize
}

// SetRowSize records the row size on first write; later calls are
// ignored.
func (m *Manifest) SetRowSize(size uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rowSize == 0 {
		m.rowSize = size
	}
}

// GlobalAdd inserts a key into the ever-seen filter.
func (m *Manifest) GlobalAdd(key uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global.Add(key)
}

// GlobalContains tests the ever-seen filter.
func (m *Manifest) GlobalContains(key uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global.Contains(key)
}

// RunCount returns the number of live runs.
func (m *Manifest) RunCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables.Len()
}

// Runs returns the live runs in ascending key order (newest-first
// within each level).
func (m *Manifest) Runs() []*SSTable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runsLocked()
}

func (m *Manifest) runsLocked() []*SSTable {
	runs := make([]*SSTable, 0, m.tables.Len())
	m.tables.Ascend(func(t *SSTable) bool {
		runs = append(runs, t)
		return true
	})
	return runs
}

// RegisterRun adds a newly archived run to the catalog and persists
// the manifest so the run survives an unclean shutdown.
func (m *Manifest) RegisterRun(sst *SSTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables.ReplaceOrInsert(sst)
	m.tracker.PushBack(sst)
	m.updateLevelGauge(sst.meta.Level)

	m.logger.Debug("registered run",
		logging.RunKey(uint64(sst.meta.Key)),
		logging.RunLevel(sst.meta.Level),
		logging.Count(int(sst.meta.EntryCount)))

	return m.saveLocked()
}

// RetireRuns removes compacted input runs. Files are unlinked
// immediately unless a scan is in progress, in which case deletion is
// deferred to the scan's end.
func (m *Manifest) RetireRuns(runs []*SSTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retireLocked(runs)
}

func (m *Manifest) retireLocked(runs []*SSTable) error {
	for _, sst := range runs {
		m.tables.Delete(sst)
		m.tracker.Remove(sst)
		m.updateLevelGauge(sst.meta.Level)
	}

	if m.itersInProgress > 0 {
		m.pendingDelete = append(m.pendingDelete, runs...)
	} else {
		m.deleteRunFiles(runs)
	}

	return m.saveLocked()
}

// ReplaceRuns atomically registers a compaction output (nil when the
// merge produced nothing) and retires its inputs, so no reader ever
// sees a state with the inputs gone but the output missing.
func (m *Manifest) ReplaceRuns(output *SSTable, inputs []*SSTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if output != nil {
		m.tables.ReplaceOrInsert(output)
		m.tracker.PushBack(output)
		m.updateLevelGauge(output.meta.Level)
	}
	return m.retireLocked(inputs)
}

func (m *Manifest) deleteRunFiles(runs []*SSTable) {
	for _, sst := range runs {
		if err := sst.Remove(); err != nil {
			m.logger.Warn("failed to delete retired run",
				logging.RunKey(uint64(sst.meta.Key)), logging.Error(err))
		}
	}
}

// Get answers a point read from the run hierarchy, newest tier first.
func (m *Manifest) Get(key uint64) (codec.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found bool
	var result codec.Entry
	var getErr error

	m.tables.Ascend(func(sst *SSTable) bool {
		if !sst.meta.Filter.Contains(key) {
			return true
		}
		e, ok, err := sst.Get(key)
		if err != nil {
			getErr = fmt.Errorf("run %s: %w", sst.meta.Key, err)
			return false
		}
		if ok {
			result, found = e, true
			return false
		}
		return true
	})

	return result, found, getErr
}

// BeginIter snapshots the run list for a scan and blocks run-file
// deletion until EndIter.
func (m *Manifest) BeginIter() []*SSTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itersInProgress++
	return m.runsLocked()
}

// EndIter releases a scan; once no scan is active, runs retired in the
// meantime are deleted.
func (m *Manifest) EndIter() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.itersInProgress--
	if m.itersInProgress == 0 && len(m.pendingDelete) > 0 {
		m.deleteRunFiles(m.pendingDelete)
		m.pendingDelete = nil
	}
}

// CollectCompactable selects locked run batches ready to merge.
func (m *Manifest) CollectCompactable() []CompactBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracker.CollectCompactable(m.opts.CompactThreshold)
}

// MaxPopulatedLevel returns the deepest level holding a live run.
func (m *Manifest) MaxPopulatedLevel() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracker.MaxPopulatedLevel()
}

// LevelCounts returns the live run count per populated level.
func (m *Manifest) LevelCounts() map[uint32]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[uint32]int)
	m.tables.Ascend(func(sst *SSTable) bool {
		counts[sst.meta.Level]++
		return true
	})
	return counts
}

// SizeOnDisk sums the .meta file and all live run files.
func (m *Manifest) SizeOnDisk() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	if info, err := os.Stat(m.metaPath()); err == nil {
		total += uint64(info.Size())
	}

	var sizeErr error
	m.tables.Ascend(func(sst *SSTable) bool {
		size, err := sst.SizeOnDisk()
		if err != nil {
			sizeErr = err
			return false
		}
		total += uint64(size)
		return true
	})
	return total, sizeErr
}

// Save persists the catalog.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manifest) saveLocked() error {
	// Runs cannot be cataloged before the first write recorded the
	// row size; the iterator layer depends on it being present.
	if m.rowSize == 0 && m.tables.Len() > 0 {
		return fmt.Errorf("save manifest: %w", ErrUnknownRowSize)
	}

	var buf bytes.Buffer

	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], MetaMagicNumber)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], m.tableID)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], m.rowSize)
	buf.Write(scratch[:4])

	globalBytes, err := m.global.Marshal()
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	compressedGlobal, err := deflate(globalBytes, m.opts.FlateLevel)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(compressedGlobal)))
	buf.Write(scratch[:4])
	buf.Write(compressedGlobal)

	var recordErr error
	m.tables.Ascend(func(sst *SSTable) bool {
		body, err := sst.meta.Marshal()
		if err != nil {
			recordErr = err
			return false
		}
		compressed, err := deflate(body, m.opts.FlateLevel)
		if err != nil {
			recordErr = err
			return false
		}
		binary.BigEndian.PutUint64(scratch[:], uint64(sst.meta.Key))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(compressed)))
		buf.Write(scratch[:4])
		buf.Write(compressed)
		return true
	})
	if recordErr != nil {
		return fmt.Errorf("save manifest: %w", recordErr)
	}

	tmp := m.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return os.Rename(tmp, m.metaPath())
}

func (m *Manifest) load() error {
	data, err := os.ReadFile(m.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if len(data) < 16 {
		return nil
	}
	if binary.BigEndian.Uint32(data[0:4]) != MetaMagicNumber {
		m.logger.Warn("manifest has wrong magic number, starting fresh",
			logging.Path(m.metaPath()))
		return nil
	}

	m.tableID = binary.BigEndian.Uint64(data[4:12])
	m.rowSize = binary.BigEndian.Uint32(data[12:16])
	rest := data[16:]

	if len(rest) < 4 {
		return nil
	}
	globalLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if len(rest) < int(globalLen) {
		return nil
	}
	globalBytes, err := inflate(rest[:globalLen])
	if err != nil {
		m.logger.Warn("manifest global filter unreadable, starting fresh", logging.Error(err))
		return nil
	}
	if global, err := UnmarshalFilter(globalBytes); err == nil {
		m.global = global
	} else {
		m.logger.Warn("manifest global filter corrupt, using empty filter", logging.Error(err))
	}
	rest = rest[globalLen:]

	for len(rest) >= 12 {
		key := SSTableKey(binary.BigEndian.Uint64(rest[:8]))
		recordLen := binary.BigEndian.Uint32(rest[8:12])
		rest = rest[12:]
		if len(rest) < int(recordLen) {
			m.logger.Warn("manifest ends mid-record, remaining entries dropped")
			break
		}
		record := rest[:recordLen]
		rest = rest[recordLen:]

		if !key.Valid() {
			m.logger.Error("skipping run with invalid key",
				logging.RunKey(uint64(key)), logging.Error(ErrInvalidRunKey))
			continue
		}

		body, err := inflate(record)
		if err != nil {
			m.logger.Error("skipping unreadable run metadata",
				logging.RunKey(uint64(key)), logging.Error(err))
			continue
		}
		meta, err := UnmarshalSSTableMeta(key, body)
		if err != nil {
			m.logger.Error("skipping corrupt run metadata",
				logging.RunKey(uint64(key)), logging.Error(err))
			continue
		}

		sst, err := OpenSSTable(meta, m.factory, m.opts.Logger)
		if err != nil {
			m.logger.Error("skipping unreadable run file",
				logging.RunKey(uint64(key)), logging.Error(err))
			continue
		}
		m.tables.ReplaceOrInsert(sst)
	}

	// Rebuild the level tracker. Iterating ascending visits each
	// level newest-first, so pushing to the front leaves the oldest
	// run at the head of each queue.
	m.tables.Ascend(func(sst *SSTable) bool {
		m.tracker.PushFront(sst)
		m.updateLevelGauge(sst.meta.Level)
		return true
	})

	m.logger.Info("manifest loaded",
		logging.Count(m.tables.Len()),
		logging.Uint64("row_size", uint64(m.rowSize)))
	return nil
}

// sweepOrphans deletes files in the table directory that no manifest
// entry references: leftovers of failed flushes and compactions.
func (m *Manifest) sweepOrphans() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}

	live := make(map[string]struct{}, m.tables.Len())
	m.tables.Ascend(func(sst *SSTable) bool {
		live[sst.meta.Key.FileName()] = struct{}{}
		return true
	})

	for _, entry := range entries {
		name := entry.Name()
		isRun := runFilePattern(name)
		isTmp := strings.HasSuffix(name, ".tmp")
		if !isRun && !isTmp {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		m.logger.Warn("removing orphaned file", logging.Path(name))
		os.Remove(filepath.Join(m.dir, name))
	}
}

func runFilePattern(name string) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot != 16 || len(name) < 18 || name[dot+1] != 'l' {
		return false
	}
	for _, c := range name[:16] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	for _, c := range name[dot+2:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (m *Manifest) updateLevelGauge(level uint32) {
	if m.opts.Metrics == nil {
		return
	}
	m.opts.Metrics.SetRunsAtLevel(level, m.tracker.LevelLen(level))
}

// Close saves the catalog and releases every run handle.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.saveLocked()
	m.tables.Ascend(func(sst *SSTable) bool {
		sst.Close()
		return true
	})
	return err
}

func deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	return io.ReadAll(flate.NewReader(bytes.NewReader(data)))
}
