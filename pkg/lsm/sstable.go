package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
)

// RunMagicNumber marks a run file ("YYST").
const RunMagicNumber uint32 = 0x59595354

// RunHeaderSize is the exact byte length of a run header. A file
// shorter than this is treated as empty.
const RunHeaderSize = 36

// RunHeader is the fixed-width header at the front of every run file.
type RunHeader struct {
	RawChecksum        uint32
	CompressedChecksum uint32
	EntryCount         uint32
	TombstoneCount     uint32
	MinKey             uint64
	MaxKey             uint64
}

func (h RunHeader) encode() [RunHeaderSize]byte {
	var buf [RunHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], RunMagicNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.RawChecksum)
	binary.BigEndian.PutUint32(buf[8:12], h.CompressedChecksum)
	binary.BigEndian.PutUint32(buf[12:16], h.EntryCount)
	binary.BigEndian.PutUint32(buf[16:20], h.TombstoneCount)
	binary.BigEndian.PutUint64(buf[20:28], h.MinKey)
	binary.BigEndian.PutUint64(buf[28:36], h.MaxKey)
	return buf
}

// DecodeRunHeader parses and validates a run header.
func DecodeRunHeader(b []byte) (RunHeader, error) {
	if len(b) < RunHeaderSize {
		return RunHeader{}, ErrEmptyFile
	}
	if binary.BigEndian.Uint32(b[0:4]) != RunMagicNumber {
		return RunHeader{}, ErrInvalidMagic
	}
	return RunHeader{
		RawChecksum:        binary.BigEndian.Uint32(b[4:8]),
		CompressedChecksum: binary.BigEndian.Uint32(b[8:12]),
		EntryCount:         binary.BigEndian.Uint32(b[12:16]),
		TombstoneCount:     binary.BigEndian.Uint32(b[16:20]),
		MinKey:             binary.BigEndian.Uint64(b[20:28]),
		MaxKey:             binary.BigEndian.Uint64(b[28:36]),
	}, nil
}

// SSTableMeta is the manifest-resident metadata for one run.
type SSTableMeta struct {
	Key        SSTableKey
	Level      uint32
	EntryCount uint32
	Filter     *Filter
}

// NewSSTableMeta creates metadata for a run being built.
func NewSSTableMeta(key SSTableKey, memBlockNum, mergeFactor int) *SSTableMeta {
	return &SSTableMeta{
		Key:    key,
		Level:  key.Level(),
		Filter: NewRunFilter(key.Level(), memBlockNum, mergeFactor),
	}
}

// Marshal encodes the metadata record body (the run key is written
// separately by the manifest).
func (m *SSTableMeta) Marshal() ([]byte, error) {
	filterBytes, err := m.Filter.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 12+len(filterBytes))
	buf = binary.BigEndian.AppendUint32(buf, m.Level)
	buf = binary.BigEndian.AppendUint32(buf, m.EntryCount)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(filterBytes)))
	buf = append(buf, filterBytes...)
	return buf, nil
}

// UnmarshalSSTableMeta decodes a metadata record body.
func UnmarshalSSTableMeta(key SSTableKey, data []byte) (*SSTableMeta, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("run metadata %s: %w", key, ErrEmptyFile)
	}
	level := binary.BigEndian.Uint32(data[0:4])
	count := binary.BigEndian.Uint32(data[4:8])
	filterLen := binary.BigEndian.Uint32(data[8:12])
	if len(data) < 12+int(filterLen) {
		return nil, fmt.Errorf("run metadata %s: truncated filter", key)
	}

	filter, err := UnmarshalFilter(data[12 : 12+filterLen])
	if err != nil {
		return nil, fmt.Errorf("run metadata %s: %w", key, err)
	}

	return &SSTableMeta{
		Key:        key,
		Level:      level,
		EntryCount: count,
		Filter:     filter,
	}, nil
}

// SSTable is one immutable on-disk sorted run.
type SSTable struct {
	meta *SSTableMeta
	path string
	io   *IOHandler

	// resident iterator for point reads; scans create their own.
	iterMu sync.Mutex
	iter   *SSTableIter

	// locked guards compaction selection: a run may be input to at
	// most one compaction.
	locked atomic.Bool

	logger logging.Logger
}

// OpenSSTable attaches run metadata to its file and verifies the
// header.
func OpenSSTable(meta *SSTableMeta, factory *IOHandlerFactory, logger logging.Logger) (*SSTable, error) {
	path := factory.RunPath(meta.Key)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open run %s: %w", meta.Key, err)
	}
	iter, err := NewSSTableIter(path)
	if err != nil {
		return nil, fmt.Errorf("open run %s: %w", meta.Key, err)
	}
	handle, err := factory.Create(meta.Key)
	if err != nil {
		iter.Close()
		return nil, fmt.Errorf("open run %s: %w", meta.Key, err)
	}
	return &SSTable{
		meta:   meta,
		path:   path,
		io:     handle,
		iter:   iter,
		logger: logger.With(logging.RunKey(uint64(meta.Key))),
	}, nil
}

// Meta returns the run's metadata.
func (t *SSTable) Meta() *SSTableMeta {
	return t.meta
}

// Header returns the run file header.
func (t *SSTable) Header() RunHeader {
	return t.iter.Header()
}

// Path returns the run file path.
func (t *SSTable) Path() string {
	return t.path
}

// Get scans the resident iterator forward to the earliest key >= the
// target. The second result is false when the run does not contain
// the key.
func (t *SSTable) Get(key uint64) (codec.Entry, bool, error) {
	t.iterMu.Lock()
	defer t.iterMu.Unlock()

	if t.iter == nil {
		return codec.Entry{}, false, fmt.Errorf("run %s is closed", t.meta.Key)
	}

	header := t.iter.Header()
	if header.EntryCount == 0 || key < header.MinKey || key > header.MaxKey {
		return codec.Entry{}, false, nil
	}

	if err := t.iter.InitFromKey(key); err != nil {
		return codec.Entry{}, false, err
	}

	for {
		e, ok, err := t.iter.Next()
		if err != nil {
			return codec.Entry{}, false, err
		}
		if !ok {
			return codec.Entry{}, false, nil
		}
		if e.Key < key {
			continue
		}
		if e.Key == key {
			return e, true, nil
		}
		return codec.Entry{}, false, nil
	}
}

// NewIter creates a fresh forward iterator for a scan.
func (t *SSTable) NewIter() (*SSTableIter, error) {
	it, err := NewSSTableIter(t.path)
	if err != nil {
		return nil, err
	}
	if err := it.InitFromKey(0); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

// SizeOnDisk returns the run file size.
func (t *SSTable) SizeOnDisk() (int64, error) {
	return t.io.Size()
}

// VerifyCompressedChecksum re-reads the payload bytes and compares
// their CRC32 against the header.
func (t *SSTable) VerifyCompressedChecksum() error {
	var sum uint32
	err := t.io.With(func(f *os.File) error {
		if _, err := f.Seek(RunHeaderSize, io.SeekStart); err != nil {
			return err
		}
		hasher := crc32.NewIEEE()
		if _, err := io.Copy(hasher, f); err != nil {
			return err
		}
		sum = hasher.Sum32()
		return nil
	})
	if err != nil {
		return err
	}

	if want := t.iter.Header().CompressedChecksum; sum != want {
		return fmt.Errorf("%w: compressed payload of %s: expected %08x, got %08x",
			ErrChecksumMismatch, t.meta.Key, want, sum)
	}
	return nil
}

// TryLock claims the run as a compaction input.
func (t *SSTable) TryLock() bool {
	return t.locked.CompareAndSwap(false, true)
}

// Unlock releases a compaction claim.
func (t *SSTable) Unlock() {
	t.locked.Store(false)
}

// IsLocked reports whether a compaction currently owns the run.
func (t *SSTable) IsLocked() bool {
	return t.locked.Load()
}

// Close releases the resident iterator and the file handle.
func (t *SSTable) Close() error {
	t.iterMu.Lock()
	defer t.iterMu.Unlock()
	if t.iter != nil {
		t.iter.Close()
		t.iter = nil
	}
	return t.io.Close()
}

// Remove closes the run and unlinks its file.
func (t *SSTable) Remove() error {
	t.iterMu.Lock()
	if t.iter != nil {
		t.iter.Close()
		t.iter = nil
	}
	t.iterMu.Unlock()
	return t.io.Delete()
}

// ArchiveRun writes a sorted, duplicate-free entry sequence as a new
// run file and returns the opened run. The payload lands under a temp
// name and is renamed once fully durable.
func ArchiveRun(factory *IOHandlerFactory, key SSTableKey, entries []codec.Entry, opts Options) (*SSTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive run %s: no entries", key)
	}
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key }) {
		return nil, fmt.Errorf("archive run %s: entries out of order", key)
	}

	meta := NewSSTableMeta(key, opts.MemBlockNum, opts.MergeFactor)

	var raw []byte
	var tombstones uint32
	var err error
	for i, e := range entries {
		if i > 0 && entries[i-1].Key == e.Key {
			return nil, fmt.Errorf("archive run %s: duplicate key %d", key, e.Key)
		}
		if e.IsTombstone() {
			tombstones++
		}
		meta.Filter.Add(e.Key)
		if raw, err = codec.AppendEntry(raw, e); err != nil {
			return nil, fmt.Errorf("archive run %s: %w", key, err)
		}
	}
	meta.EntryCount = uint32(len(entries))

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, opts.FlateLevel)
	if err != nil {
		return nil, fmt.Errorf("archive run %s: compressor: %w", key, err)
	}
	if _, err := writer.Write(raw); err != nil {
		return nil, fmt.Errorf("archive run %s: compress: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("archive run %s: compress: %w", key, err)
	}

	header := RunHeader{
		RawChecksum:        crc32.ChecksumIEEE(raw),
		CompressedChecksum: crc32.ChecksumIEEE(compressed.Bytes()),
		EntryCount:         uint32(len(entries)),
		TombstoneCount:     tombstones,
		MinKey:             entries[0].Key,
		MaxKey:             entries[len(entries)-1].Key,
	}

	tmpPath := factory.TempPath()
	if err := writeRunFile(tmpPath, header, compressed.Bytes()); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("archive run %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, factory.RunPath(key)); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("archive run %s: %w", key, err)
	}

	return OpenSSTable(meta, factory, opts.Logger)
}

func writeRunFile(path string, header RunHeader, payload []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	headerBytes := header.encode()
	if _, err := file.Write(headerBytes[:]); err != nil {
		file.Close()
		return err
	}
	if _, err := file.Write(payload); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
