package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: 0, Kind: KindValue, Value: []byte{}},
		{Key: 7, Kind: KindValue, Value: []byte{0xAA, 0xBB}},
		{Key: 1<<64 - 1, Kind: KindValue, Value: bytes.Repeat([]byte{0x5A}, 300)},
		{Key: 5, Kind: KindTombstone},
	}

	for _, want := range entries {
		buf, err := AppendEntry(nil, want)
		if err != nil {
			t.Fatalf("AppendEntry(%v): %v", want, err)
		}
		if len(buf) != EncodedLen(want) {
			t.Errorf("EncodedLen(%v) = %d, wire is %d bytes", want, EncodedLen(want), len(buf))
		}

		got, n, err := DecodeEntry(buf)
		if err != nil {
			t.Fatalf("DecodeEntry: %v", err)
		}
		if n != len(buf) {
			t.Errorf("consumed %d of %d bytes", n, len(buf))
		}
		if got.Key != want.Key || got.Kind != want.Kind || !bytes.Equal(got.Value, want.Value) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeBackToBack(t *testing.T) {
	var buf []byte
	var err error
	for i := uint64(0); i < 10; i++ {
		e := Entry{Key: i, Kind: KindValue, Value: []byte{byte(i)}}
		if i%3 == 0 {
			e = Entry{Key: i, Kind: KindTombstone}
		}
		buf, err = AppendEntry(buf, e)
		if err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}

	var keys []uint64
	for len(buf) > 0 {
		e, n, err := DecodeEntry(buf)
		if err != nil {
			t.Fatalf("DecodeEntry: %v", err)
		}
		keys = append(keys, e.Key)
		buf = buf[n:]
	}

	if len(keys) != 10 {
		t.Fatalf("decoded %d entries, want 10", len(keys))
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Errorf("keys[%d] = %d", i, k)
		}
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	full, err := AppendEntry(nil, Entry{Key: 99, Kind: KindValue, Value: bytes.Repeat([]byte{1}, 50)})
	if err != nil {
		t.Fatal(err)
	}

	for cut := 0; cut < len(full); cut++ {
		_, _, err := DecodeEntry(full[:cut])
		if !errors.Is(err, ErrShortBuffer) {
			t.Fatalf("DecodeEntry with %d/%d bytes: got %v, want ErrShortBuffer", cut, len(full), err)
		}
	}
}

func TestDecodeInvalidTag(t *testing.T) {
	buf := make([]byte, 9)
	buf[8] = 7

	if _, _, err := DecodeEntry(buf); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("got %v, want ErrInvalidTag", err)
	}

	// Reserved NotFound tag is corruption on the wire, not a short read.
	buf[8] = byte(KindNotFound)
	if _, _, err := DecodeEntry(buf); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("got %v, want ErrInvalidTag for reserved tag", err)
	}
}

func TestEncodeRejectsNotFound(t *testing.T) {
	if _, err := AppendEntry(nil, Entry{Key: 1, Kind: KindNotFound}); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("got %v, want ErrInvalidTag", err)
	}
}

func TestEntryProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("value entries survive a round trip", prop.ForAll(
		func(key uint64, value []byte) bool {
			e := Entry{Key: key, Kind: KindValue, Value: value}
			buf, err := AppendEntry(nil, e)
			if err != nil {
				return false
			}
			got, n, err := DecodeEntry(buf)
			return err == nil && n == len(buf) &&
				got.Key == key && got.Kind == KindValue && bytes.Equal(got.Value, value)
		},
		gen.UInt64(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("decoding a concatenation never crosses entry boundaries", prop.ForAll(
		func(keys []uint64) bool {
			var buf []byte
			for _, k := range keys {
				buf, _ = AppendEntry(buf, Entry{Key: k, Kind: KindValue, Value: []byte{byte(k)}})
			}
			for _, k := range keys {
				e, n, err := DecodeEntry(buf)
				if err != nil || e.Key != k {
					return false
				}
				buf = buf[n:]
			}
			return len(buf) == 0
		},
		gen.SliceOf(gen.UInt64()),
	))

	properties.TestingRun(t)
}
