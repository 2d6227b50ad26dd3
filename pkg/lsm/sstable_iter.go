package lsm

import (
	"bufio"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
)

// IterBufSize is the decode buffer refill threshold.
const IterBufSize = 0x800

// SSTableIter streams the entries of one run file in key order. It is
// single-owner; scans over many runs chain separate iterators.
type SSTableIter struct {
	path   string
	header RunHeader

	file   *os.File
	reader io.ReadCloser
	hasher hash.Hash32

	buf       []byte
	bytesRead int
	entryCur  uint32
	lastKey   uint64
	started   bool
	eof       bool
	finished  bool
}

// NewSSTableIter opens a run file and verifies its header. A file
// shorter than the header is treated as an empty run.
func NewSSTableIter(path string) (*SSTableIter, error) {
	it := &SSTableIter{path: path}

	headerBytes := make([]byte, RunHeaderSize)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return it, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	_, err = io.ReadFull(file, headerBytes)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Shorter than a header: empty run.
		return it, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run header %s: %w", path, err)
	}

	header, err := DecodeRunHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", path, err)
	}
	it.header = header
	return it, nil
}

// Header returns the run header read at open time.
func (it *SSTableIter) Header() RunHeader {
	return it.header
}

// BytesRead returns the decompressed byte count consumed so far.
func (it *SSTableIter) BytesRead() int {
	return it.bytesRead
}

// InitFromKey positions the iterator so that scanning forward will
// reach the earliest entry with key >= target. If the iterator has
// already emitted the target or a key past it, it restarts from the payload
// start; otherwise it continues from where it stands.
func (it *SSTableIter) InitFromKey(target uint64) error {
	if it.header.EntryCount == 0 {
		return nil
	}
	if it.reader != nil {
		if !it.started || it.lastKey < target {
			return nil
		}
	}
	return it.restart()
}

func (it *SSTableIter) restart() error {
	it.closeReader()

	file, err := os.Open(it.path)
	if err != nil {
		return fmt.Errorf("reopen run %s: %w", it.path, err)
	}
	if _, err := file.Seek(RunHeaderSize, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("seek run payload %s: %w", it.path, err)
	}

	it.file = file
	it.reader = flate.NewReader(bufio.NewReader(file))
	it.hasher = crc32.NewIEEE()
	it.buf = it.buf[:0]
	it.bytesRead = 0
	it.entryCur = 0
	it.started = false
	it.eof = false
	it.finished = false
	return nil
}

// Next decodes one entry. The second result is false at the end of
// the run; at that point the running checksum has been compared with
// the header and a mismatch logged.
func (it *SSTableIter) Next() (codec.Entry, bool, error) {
	if it.entryCur >= it.header.EntryCount {
		it.finishChecksum()
		return codec.Entry{}, false, nil
	}
	if it.reader == nil {
		if err := it.restart(); err != nil {
			return codec.Entry{}, false, err
		}
	}

	if err := it.refill(IterBufSize); err != nil {
		return codec.Entry{}, false, err
	}

	for {
		e, n, err := codec.DecodeEntry(it.buf)
		if err == nil {
			it.buf = it.buf[n:]
			it.entryCur++
			it.lastKey = e.Key
			it.started = true
			return e, true, nil
		}
		if !errors.Is(err, codec.ErrShortBuffer) {
			return codec.Entry{}, false, fmt.Errorf("run %s entry %d: %w", it.path, it.entryCur, err)
		}
		if it.eof {
			return codec.Entry{}, false, fmt.Errorf("run %s: payload ends mid-entry at %d/%d: %w",
				it.path, it.entryCur, it.header.EntryCount, io.ErrUnexpectedEOF)
		}
		// An entry larger than the buffered bytes: grow past the
		// threshold until it decodes.
		if err := it.refill(len(it.buf) + IterBufSize); err != nil {
			return codec.Entry{}, false, err
		}
	}
}

// refill tops the decode buffer up to the wanted length, feeding the
// running checksum with every byte consumed from the reader.
func (it *SSTableIter) refill(want int) error {
	for len(it.buf) < want && !it.eof {
		chunk := make([]byte, IterBufSize)
		n, err := it.reader.Read(chunk)
		if n > 0 {
			it.hasher.Write(chunk[:n])
			it.buf = append(it.buf, chunk[:n]...)
			it.bytesRead += n
		}
		if err == io.EOF {
			it.eof = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read run payload %s: %w", it.path, err)
		}
	}
	return nil
}

func (it *SSTableIter) finishChecksum() {
	if it.finished || it.hasher == nil {
		return
	}
	it.finished = true

	if sum := it.hasher.Sum32(); sum != it.header.RawChecksum {
		logging.ErrorLog("run payload checksum mismatch",
			logging.Path(it.path),
			logging.String("expected", fmt.Sprintf("%08x", it.header.RawChecksum)),
			logging.String("actual", fmt.Sprintf("%08x", sum)))
	}
}

// Close releases the reader and file.
func (it *SSTableIter) Close() error {
	it.closeReader()
	return nil
}

func (it *SSTableIter) closeReader() {
	if it.reader != nil {
		it.reader.Close()
		it.reader = nil
	}
	if it.file != nil {
		it.file.Close()
		it.file = nil
	}
	it.hasher = nil
}
