// Package codec implements the self-delimiting binary encoding for
// storage entries. Entries are written back-to-back in run files with
// no framing between them; decoding advances by the consumed length.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind tags the state of an entry on the wire.
type Kind byte

const (
	// KindValue is a live value with a length-prefixed byte blob.
	KindValue Kind = 0
	// KindTombstone records a deletion. It carries no payload.
	KindTombstone Kind = 1
	// KindNotFound is reserved and must never appear in run files.
	KindNotFound Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "Value"
	case KindTombstone:
		return "Tombstone"
	case KindNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// Entry is a single (key, state) record.
type Entry struct {
	Key   uint64
	Kind  Kind
	Value []byte
}

// IsTombstone reports whether the entry records a deletion.
func (e Entry) IsTombstone() bool {
	return e.Kind == KindTombstone
}

// MaxValueLen bounds a single value blob. Guards the decoder against
// garbage length prefixes on corrupted input.
const MaxValueLen = 1 << 30

var (
	// ErrShortBuffer means the buffer ends mid-entry; the caller should
	// refill and retry.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrInvalidTag means the state tag byte is not a valid Kind.
	ErrInvalidTag = errors.New("codec: invalid state tag")
	// ErrValueTooLarge means a length prefix exceeds MaxValueLen.
	ErrValueTooLarge = errors.New("codec: value length exceeds limit")
)

// AppendEntry appends the wire form of e to dst and returns the
// extended slice. Layout: key (8 bytes big-endian), tag (1 byte),
// then for KindValue a uvarint length followed by the blob.
func AppendEntry(dst []byte, e Entry) ([]byte, error) {
	if e.Kind == KindNotFound {
		return dst, fmt.Errorf("%w: %s is not storable", ErrInvalidTag, e.Kind)
	}
	if e.Kind != KindValue && e.Kind != KindTombstone {
		return dst, fmt.Errorf("%w: %d", ErrInvalidTag, byte(e.Kind))
	}

	dst = binary.BigEndian.AppendUint64(dst, e.Key)
	dst = append(dst, byte(e.Kind))

	if e.Kind == KindValue {
		if len(e.Value) > MaxValueLen {
			return dst, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(e.Value))
		}
		dst = binary.AppendUvarint(dst, uint64(len(e.Value)))
		dst = append(dst, e.Value...)
	}

	return dst, nil
}

// EncodedLen returns the exact wire size of e.
func EncodedLen(e Entry) int {
	n := 8 + 1
	if e.Kind == KindValue {
		var lenBuf [binary.MaxVarintLen64]byte
		n += binary.PutUvarint(lenBuf[:], uint64(len(e.Value)))
		n += len(e.Value)
	}
	return n
}

// DecodeEntry decodes one entry from the front of b and returns it
// with the number of bytes consumed. ErrShortBuffer signals that b
// ends mid-entry and more input is needed; any other error is a
// corruption.
func DecodeEntry(b []byte) (Entry, int, error) {
	if len(b) < 9 {
		return Entry{}, 0, ErrShortBuffer
	}

	e := Entry{
		Key:  binary.BigEndian.Uint64(b[:8]),
		Kind: Kind(b[8]),
	}
	n := 9

	switch e.Kind {
	case KindTombstone:
		return e, n, nil
	case KindValue:
	default:
		return Entry{}, 0, fmt.Errorf("%w: %d at key %d", ErrInvalidTag, b[8], e.Key)
	}

	vlen, vn := binary.Uvarint(b[n:])
	if vn == 0 {
		return Entry{}, 0, ErrShortBuffer
	}
	if vn < 0 || vlen > MaxValueLen {
		return Entry{}, 0, fmt.Errorf("%w: key %d", ErrValueTooLarge, e.Key)
	}
	n += vn

	if len(b) < n+int(vlen) {
		return Entry{}, 0, ErrShortBuffer
	}

	e.Value = make([]byte, vlen)
	copy(e.Value, b[n:n+int(vlen)])
	n += int(vlen)

	return e, n, nil
}
