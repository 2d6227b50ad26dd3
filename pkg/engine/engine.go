// Package engine is the process-level boundary of the storage engine:
// a registry of open tables addressed by a stable hash of their name,
// and the point/scan operations the plugin layer calls.
package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/GZTimeWalker/YYDB/pkg/logging"
	"github.com/GZTimeWalker/YYDB/pkg/lsm"
)

var (
	// ErrEngineClosed marks an operation against a closed engine.
	ErrEngineClosed = errors.New("engine: closed")

	// ErrIterInProgress marks a second IterBegin on a handle whose
	// scan is still open.
	ErrIterInProgress = errors.New("engine: iterator already in progress")

	// ErrNoActiveIter marks IterNext/IterEnd without IterBegin.
	ErrNoActiveIter = errors.New("engine: no active iterator")
)

// NewTableID derives a table id from its name, stable across runs.
func NewTableID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Engine owns the table registry. It is initialized once per process
// and shared; tests spin isolated instances on temp directories.
type Engine struct {
	mu     sync.RWMutex
	dir    string
	opts   lsm.Options
	tables map[uint64]*TableHandle
	closed bool
	logger logging.Logger
}

// Open creates an engine rooted at dir. Each table lives in its own
// subdirectory.
func Open(dir string, opts lsm.Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create dir %s: %w", dir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
		opts.Logger = logger
	}

	logger.Info("engine opened", logging.Path(dir))
	return &Engine{
		dir:    dir,
		opts:   opts,
		tables: make(map[uint64]*TableHandle),
		logger: logger.With(logging.Component("engine")),
	}, nil
}

func (e *Engine) tableDir(name string) string {
	return filepath.Join(e.dir, name)
}

// OpenTable opens (or creates) a table and returns its handle.
// Reopening a live table returns the existing handle.
func (e *Engine) OpenTable(name string) (*TableHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	id := NewTableID(name)
	if h, ok := e.tables[id]; ok {
		return h, nil
	}

	table, err := lsm.OpenTable(e.tableDir(name), name, id, e.opts)
	if err != nil {
		return nil, err
	}

	h := &TableHandle{table: table}
	e.tables[id] = h

	if e.opts.Metrics != nil {
		e.opts.Metrics.OpenTables.Set(float64(len(e.tables)))
	}
	return h, nil
}

// CloseTable finishes a table's background work, persists its state
// and removes it from the registry.
func (e *Engine) CloseTable(h *TableHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeTableLocked(h)
}

func (e *Engine) closeTableLocked(h *TableHandle) error {
	h.iterMu.Lock()
	if h.iter != nil {
		h.iter.Close()
		h.iter = nil
	}
	h.iterMu.Unlock()

	err := h.table.Close()
	delete(e.tables, h.table.ID())

	if e.opts.Metrics != nil {
		e.opts.Metrics.OpenTables.Set(float64(len(e.tables)))
	}
	return err
}

// DeleteTable closes the table if open, then removes its directory.
func (e *Engine) DeleteTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	if h, ok := e.tables[NewTableID(name)]; ok {
		if err := e.closeTableLocked(h); err != nil {
			return err
		}
	}

	e.logger.Info("deleting table", logging.Table(name))
	return os.RemoveAll(e.tableDir(name))
}

// Close closes every open table and shuts the engine down.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for _, h := range e.tables {
		if err := e.closeTableLocked(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Info("engine closed")
	return firstErr
}
