package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
)

// CacheFileName is the memtable snapshot file inside a table directory.
const CacheFileName = ".cache"

// Table is the per-table storage stack: the memtable, the run
// hierarchy behind the manifest, and the background flush/compaction
// machinery.
type Table struct {
	id   uint64
	name string
	dir  string
	opts Options

	mem      *MemTable
	manifest *Manifest
	cache    *ReadCache

	closed     atomic.Bool
	flushRetry atomic.Bool
	wg         sync.WaitGroup

	logger logging.Logger
}

// OpenTable opens (or creates) the table rooted at dir. A valid
// memtable snapshot from the previous clean shutdown warm-starts the
// active map.
func OpenTable(dir, name string, id uint64, opts Options) (*Table, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create table dir %s: %w", dir, err)
	}

	logger := opts.Logger.With(logging.Table(name), logging.TableID(id))
	logger.Info("opening table", logging.Path(dir))

	manifest, err := OpenManifest(dir, id, opts)
	if err != nil {
		return nil, err
	}

	t := &Table{
		id:       id,
		name:     name,
		dir:      dir,
		opts:     opts,
		mem:      NewMemTable(),
		manifest: manifest,
		cache:    NewReadCache(opts.CacheCapacity),
		logger:   logger,
	}

	cachePath := t.cachePath()
	if err := t.mem.LoadSnapshot(cachePath); err != nil {
		logger.Warn("memtable snapshot unusable, starting cold", logging.Error(err))
	} else if n := t.mem.Len(); n > 0 {
		logger.Info("memtable warm-started from snapshot", logging.Count(n))
	}
	// A consumed snapshot must not be replayed after a later crash.
	os.Remove(cachePath)

	return t, nil
}

func (t *Table) cachePath() string {
	return filepath.Join(t.dir, CacheFileName)
}

// ID returns the table's id.
func (t *Table) ID() uint64 { return t.id }

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Dir returns the table's directory.
func (t *Table) Dir() string { return t.dir }

// Manifest exposes the run catalog.
func (t *Table) Manifest() *Manifest { return t.manifest }

// Set records a live value for the key.
func (t *Table) Set(key uint64, value []byte) error {
	if t.closed.Load() {
		return ErrTableClosed
	}

	t.manifest.SetRowSize(uint32(len(value)))
	t.manifest.GlobalAdd(key)
	t.cache.Delete(key)
	t.mem.Set(key, value)

	if t.opts.Metrics != nil {
		t.opts.Metrics.RecordWrite(len(value))
		t.opts.Metrics.SetMemTableEntries(t.name, t.mem.Len())
	}

	t.maybeFlush()
	return nil
}

// Delete records a tombstone for the key.
func (t *Table) Delete(key uint64) error {
	if t.closed.Load() {
		return ErrTableClosed
	}

	t.cache.Delete(key)
	t.mem.Delete(key)

	if t.opts.Metrics != nil {
		t.opts.Metrics.RecordDelete()
		t.opts.Metrics.SetMemTableEntries(t.name, t.mem.Len())
	}

	t.maybeFlush()
	return nil
}

// Get answers a point read. The second result is false when the key
// is absent from the table.
func (t *Table) Get(key uint64) (codec.Entry, bool, error) {
	if t.closed.Load() {
		return codec.Entry{}, false, ErrTableClosed
	}

	// The ever-seen filter rejects keys the table never stored.
	if !t.manifest.GlobalContains(key) {
		t.recordRead(codec.Entry{}, false, nil)
		return codec.Entry{}, false, nil
	}

	if e, ok := t.mem.Get(key); ok {
		t.recordRead(e, true, nil)
		return e, true, nil
	}

	if e, ok := t.cache.Get(key); ok {
		t.recordRead(e, true, nil)
		return e, true, nil
	}

	e, ok, err := t.manifest.Get(key)
	if err != nil {
		t.recordRead(codec.Entry{}, false, err)
		return codec.Entry{}, false, err
	}
	if ok {
		t.cache.Put(key, e)
	}
	t.recordRead(e, ok, nil)
	return e, ok, nil
}

func (t *Table) recordRead(e codec.Entry, ok bool, err error) {
	if t.opts.Metrics == nil {
		return
	}
	switch {
	case err != nil:
		t.opts.Metrics.RecordRead("error", 0)
	case !ok:
		t.opts.Metrics.RecordRead("absent", 0)
	case e.IsTombstone():
		t.opts.Metrics.RecordRead("tombstone", 0)
	default:
		t.opts.Metrics.RecordRead("value", len(e.Value))
	}
}

// Len returns the entry count currently buffered in memory.
func (t *Table) Len() int {
	return t.mem.Len()
}

// Iter begins a full-table scan.
func (t *Table) Iter() (*TableIterator, error) {
	if t.closed.Load() {
		return nil, ErrTableClosed
	}
	return NewTableIterator(t.mem, t.manifest)
}

// SizeOnDisk sums all table files.
func (t *Table) SizeOnDisk() (uint64, error) {
	total, err := t.manifest.SizeOnDisk()
	if err != nil {
		return 0, err
	}
	if info, statErr := os.Stat(t.cachePath()); statErr == nil {
		total += uint64(info.Size())
	}
	return total, nil
}

// Flush forces the active map to disk regardless of fill, waiting for
// the flush (and any compaction it cascades into) to settle.
func (t *Table) Flush() error {
	if t.closed.Load() {
		return ErrTableClosed
	}

	// A flush already in flight owns the frozen slot; wait it out
	// before forcing ours.
	t.wg.Wait()

	entries, ok := t.mem.FreezeForce()
	if !ok {
		return nil
	}
	err := t.flushTask(entries)
	t.wg.Wait()
	return err
}

// maybeFlush freezes the active map once it is full and the previous
// flush has settled, then hands the frozen contents to a background
// flush task. A failed flush is retried on the next write.
func (t *Table) maybeFlush() bool {
	if entries, ok := t.mem.FreezeIfFull(t.opts.MemBlockNum); ok {
		t.spawnFlush(entries)
		return true
	}

	if t.flushRetry.CompareAndSwap(true, false) {
		if entries := t.mem.FrozenEntries(); len(entries) > 0 {
			t.logger.Info("retrying failed flush", logging.Count(len(entries)))
			t.spawnFlush(entries)
			return true
		}
	}
	return false
}

func (t *Table) spawnFlush(entries []codec.Entry) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.flushTask(entries)
	}()
}

// flushTask materializes the frozen map as a new L0 run. On failure
// the frozen slot stays occupied and the run file, if any, is left
// for the next open's orphan sweep.
func (t *Table) flushTask(entries []codec.Entry) error {
	start := time.Now()
	key := NewSSTableKey(0)
	timer := logging.StartOp(t.logger, "flush", logging.RunKey(uint64(key)))

	sst, err := ArchiveRun(t.manifest.Factory(), key, entries, t.opts)
	if err != nil {
		t.flushRetry.Store(true)
		timer.Fail(err)
		return err
	}

	if err := t.manifest.RegisterRun(sst); err != nil {
		// The run is durable and queryable; the catalog write is
		// retried on the next manifest save.
		t.logger.Warn("flush run registered but manifest save failed", logging.Error(err))
	}

	t.mem.ReleaseFrozen()

	// Reads raced between the memtable and the run hierarchy may have
	// cached versions older than the ones just flushed.
	for _, e := range entries {
		t.cache.Delete(e.Key)
	}

	if t.opts.Metrics != nil {
		t.opts.Metrics.RecordFlush(time.Since(start))
		t.opts.Metrics.SetMemTableEntries(t.name, t.mem.Len())
	}
	timer.Done(logging.Count(len(entries)))

	t.triggerCompaction()
	return nil
}

// triggerCompaction drains compactable batches until no level is over
// threshold. Levels merge in parallel; a failing round stops the
// cascade.
func (t *Table) triggerCompaction() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		for {
			batches := t.manifest.CollectCompactable()
			if len(batches) == 0 {
				return
			}

			var g errgroup.Group
			for _, batch := range batches {
				g.Go(func() error {
					return compactBatch(t.manifest, batch, t.opts)
				})
			}
			if err := g.Wait(); err != nil {
				return
			}
		}
	}()
}

// WaitBackground blocks until all in-flight flush and compaction
// tasks have settled.
func (t *Table) WaitBackground() {
	t.wg.Wait()
}

// Close waits out background work, snapshots the memtable for a warm
// restart and saves the manifest.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.wg.Wait()

	var firstErr error
	if t.mem.Len() > 0 {
		if err := t.mem.SaveSnapshot(t.cachePath(), t.opts.FlateLevel); err != nil {
			firstErr = err
			t.logger.Error("failed to persist memtable snapshot", logging.Error(err))
		}
	}

	if err := t.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	t.logger.Info("table closed")
	return firstErr
}
