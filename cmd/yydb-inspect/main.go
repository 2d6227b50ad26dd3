// yydb-inspect dumps and validates YYDB on-disk files: runs (.l*),
// manifests (.meta) and memtable snapshots (.cache).
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
	"github.com/GZTimeWalker/YYDB/pkg/lsm"
)

var verbose = flag.Bool("v", false, "dump every entry")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: yydb-inspect [-v] <file>\n")
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if len(data) < 4 {
		log.Fatalf("%s: file too short", path)
	}

	switch binary.BigEndian.Uint32(data[:4]) {
	case lsm.RunMagicNumber:
		inspectRun(path, data)
	case lsm.MetaMagicNumber:
		inspectManifest(data)
	case lsm.CacheMagicNumber:
		inspectCache(data)
	default:
		log.Fatalf("%s: unknown magic %08x", path, binary.BigEndian.Uint32(data[:4]))
	}
}

func inspectRun(path string, data []byte) {
	header, err := lsm.DecodeRunHeader(data)
	if err != nil {
		log.Fatalf("decode header: %v", err)
	}

	fmt.Printf("run file            : %s\n", path)
	fmt.Printf("entries             : %d (%d tombstones)\n", header.EntryCount, header.TombstoneCount)
	fmt.Printf("key range           : [%d, %d]\n", header.MinKey, header.MaxKey)
	fmt.Printf("raw checksum        : %08x\n", header.RawChecksum)
	fmt.Printf("compressed checksum : %08x\n", header.CompressedChecksum)

	payload := data[lsm.RunHeaderSize:]
	if got := crc32.ChecksumIEEE(payload); got != header.CompressedChecksum {
		log.Fatalf("compressed checksum MISMATCH: computed %08x", got)
	}
	fmt.Println("compressed checksum : OK")

	raw, err := io.ReadAll(flate.NewReader(bytes.NewReader(payload)))
	if err != nil {
		log.Fatalf("decompress payload: %v", err)
	}
	if got := crc32.ChecksumIEEE(raw); got != header.RawChecksum {
		log.Fatalf("raw checksum MISMATCH: computed %08x", got)
	}
	fmt.Println("raw checksum        : OK")

	var count, tombstones int
	var prev uint64
	for len(raw) > 0 {
		e, n, err := codec.DecodeEntry(raw)
		if err != nil {
			log.Fatalf("decode entry %d: %v\n%s", count, err, logging.HexView(firstBytes(raw, 64)))
		}
		if count > 0 && e.Key <= prev {
			log.Fatalf("keys out of order: %d after %d", e.Key, prev)
		}
		if e.IsTombstone() {
			tombstones++
		}
		if *verbose {
			fmt.Printf("  [%d] %s (%d bytes)\n", e.Key, e.Kind, len(e.Value))
			if len(e.Value) > 0 {
				fmt.Print(logging.HexView(firstBytes(e.Value, 64)))
			}
		}
		prev = e.Key
		count++
		raw = raw[n:]
	}

	if count != int(header.EntryCount) || tombstones != int(header.TombstoneCount) {
		log.Fatalf("decoded %d entries (%d tombstones), header says %d (%d)",
			count, tombstones, header.EntryCount, header.TombstoneCount)
	}
	fmt.Printf("decoded             : %d entries, all consistent\n", count)
}

func inspectManifest(data []byte) {
	if len(data) < 20 {
		log.Fatal("manifest too short")
	}

	fmt.Printf("table id   : %016x\n", binary.BigEndian.Uint64(data[4:12]))
	fmt.Printf("row size   : %d\n", binary.BigEndian.Uint32(data[12:16]))

	rest := data[16:]
	globalLen := binary.BigEndian.Uint32(rest[:4])
	if len(rest) < 4+int(globalLen) {
		log.Fatal("manifest truncated inside global bloom filter")
	}
	rest = rest[4+int(globalLen):]
	fmt.Printf("global bloom: %d bytes (compressed)\n", globalLen)

	count := 0
	for len(rest) >= 12 {
		key := lsm.SSTableKey(binary.BigEndian.Uint64(rest[:8]))
		recordLen := binary.BigEndian.Uint32(rest[8:12])
		rest = rest[12:]
		if len(rest) < int(recordLen) {
			log.Fatalf("manifest ends mid-record at run %d", count)
		}
		rest = rest[recordLen:]

		valid := ""
		if !key.Valid() {
			valid = "  INVALID"
		}
		fmt.Printf("  run %s  meta %d bytes%s\n", key, recordLen, valid)
		count++
	}
	fmt.Printf("runs       : %d\n", count)
}

func inspectCache(data []byte) {
	if len(data) < 8 {
		log.Fatal("snapshot too short")
	}

	payload := data[8:]
	if got := crc32.ChecksumIEEE(payload); got != binary.BigEndian.Uint32(data[4:8]) {
		log.Fatalf("snapshot checksum MISMATCH: computed %08x", got)
	}
	fmt.Println("checksum : OK")

	raw, err := io.ReadAll(flate.NewReader(bytes.NewReader(payload)))
	if err != nil {
		log.Fatalf("decompress snapshot: %v", err)
	}

	count := 0
	for len(raw) > 0 {
		e, n, err := codec.DecodeEntry(raw)
		if err != nil {
			log.Fatalf("decode entry %d: %v", count, err)
		}
		if *verbose {
			fmt.Printf("  [%d] %s (%d bytes)\n", e.Key, e.Kind, len(e.Value))
		}
		count++
		raw = raw[n:]
	}
	fmt.Printf("entries  : %d\n", count)
}

func firstBytes(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
