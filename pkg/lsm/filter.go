package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

// Bloom sizing targets: 1% false positives per run, 5% for the
// table-scoped ever-seen filter. Expected cardinality grows with the
// level and is capped to bound memory.
const (
	runFalsePositiveRate    = 0.01
	globalFalsePositiveRate = 0.05

	// MaxExpectNum caps the expected item count for any filter.
	MaxExpectNum = 0xff000
)

// Filter wraps a bloom filter keyed by u64.
type Filter struct {
	inner *bloom.BloomFilter
}

// bloomSize estimates the entry count for a run at the given level.
func bloomSize(level uint32, memBlockNum, mergeFactor int) uint {
	num := memBlockNum
	for i := uint32(0); i < level; i++ {
		num *= mergeFactor
		if num > MaxExpectNum {
			return MaxExpectNum
		}
	}
	return uint(num)
}

// NewRunFilter creates a filter sized for a run at the given level.
func NewRunFilter(level uint32, memBlockNum, mergeFactor int) *Filter {
	return &Filter{
		inner: bloom.NewWithEstimates(bloomSize(level, memBlockNum, mergeFactor), runFalsePositiveRate),
	}
}

// NewGlobalFilter creates the table-scoped ever-seen filter.
func NewGlobalFilter() *Filter {
	return &Filter{
		inner: bloom.NewWithEstimates(MaxExpectNum, globalFalsePositiveRate),
	}
}

// Add inserts a key.
func (f *Filter) Add(key uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	f.inner.Add(buf[:])
}

// Contains tests a key. False means the key was never added.
func (f *Filter) Contains(key uint64) bool {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return f.inner.Test(buf[:])
}

// WriteTo serializes the filter.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	return f.inner.WriteTo(w)
}

// ReadFrom deserializes a filter written by WriteTo.
func (f *Filter) ReadFrom(r io.Reader) (int64, error) {
	if f.inner == nil {
		f.inner = &bloom.BloomFilter{}
	}
	return f.inner.ReadFrom(r)
}

// Marshal returns the serialized filter bytes.
func (f *Filter) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("marshal bloom filter: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalFilter rebuilds a filter from Marshal output.
func UnmarshalFilter(data []byte) (*Filter, error) {
	f := &Filter{inner: &bloom.BloomFilter{}}
	if _, err := f.inner.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("unmarshal bloom filter: %w", err)
	}
	return f, nil
}
