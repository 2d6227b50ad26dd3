package lsm

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// IOHandler is a bounded file handle. The mutex serializes access to
// the file offset; it is never held across run-boundary work.
type IOHandler struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewIOHandler opens (or creates) the file at path for read/write.
func NewIOHandler(path string) (*IOHandler, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &IOHandler{path: path, file: file}, nil
}

// Path returns the underlying file path.
func (h *IOHandler) Path() string {
	return h.path
}

// Size returns the current file size in bytes.
func (h *IOHandler) Size() (int64, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// With runs fn with exclusive access to the file.
func (h *IOHandler) With(fn func(f *os.File) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.file)
}

// Checksum computes the CRC32 of the whole file.
func (h *IOHandler) Checksum() (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	hasher := crc32.NewIEEE()
	if _, err := io.Copy(hasher, h.file); err != nil {
		return 0, err
	}
	return hasher.Sum32(), nil
}

// Close releases the file handle.
func (h *IOHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// Delete closes and unlinks the file.
func (h *IOHandler) Delete() error {
	if err := h.Close(); err != nil {
		return err
	}
	return os.Remove(h.path)
}

// IOHandlerFactory creates handles rooted at a table directory.
type IOHandlerFactory struct {
	baseDir string
}

// NewIOHandlerFactory creates a factory for the table directory.
func NewIOHandlerFactory(baseDir string) *IOHandlerFactory {
	return &IOHandlerFactory{baseDir: baseDir}
}

// BaseDir returns the table directory.
func (f *IOHandlerFactory) BaseDir() string {
	return f.baseDir
}

// RunPath returns the final path for a run file.
func (f *IOHandlerFactory) RunPath(key SSTableKey) string {
	return filepath.Join(f.baseDir, key.FileName())
}

// TempPath returns a unique scratch path inside the table directory.
// Archive writes land here first and are renamed into place so a
// failed write never leaves a half-written run under a run name.
func (f *IOHandlerFactory) TempPath() string {
	return filepath.Join(f.baseDir, uuid.NewString()+".tmp")
}

// Create opens a handle for the run file.
func (f *IOHandlerFactory) Create(key SSTableKey) (*IOHandler, error) {
	return NewIOHandler(f.RunPath(key))
}
