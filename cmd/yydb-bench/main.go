// yydb-bench drives the storage engine through a seeded write, update,
// delete, point-read and scan workload and reports timings.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/GZTimeWalker/YYDB/pkg/engine"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
	"github.com/GZTimeWalker/YYDB/pkg/lsm"
)

var (
	dir      = flag.String("dir", "./data/yydb-bench", "engine directory (wiped first)")
	numKeys  = flag.Uint64("n", 16000, "number of keys")
	dataSize = flag.Int("size", 240, "value size in bytes")
	seed     = flag.Int64("seed", 42, "workload seed")
)

func value(rng *rand.Rand, key uint64, size int) []byte {
	buf := make([]byte, size)
	buf[0] = byte(key%57 + 65)
	rng.Read(buf[1:])
	return buf
}

func main() {
	flag.Parse()
	os.RemoveAll(*dir)

	opts := lsm.DefaultOptions()
	opts.Logger = logging.NewJSONLogger(os.Stderr, logging.WarnLevel)

	eng, err := engine.Open(*dir, opts)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer eng.Close()

	h, err := eng.OpenTable("bench")
	if err != nil {
		log.Fatalf("open table: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))

	// Load phase: writes, a sweep of deletes, then updates.
	start := time.Now()
	for k := uint64(0); k < *numKeys; k++ {
		if err := h.Set(k, value(rng, k, *dataSize)); err != nil {
			log.Fatalf("set %d: %v", k, err)
		}
	}
	for k := uint64(0); k < *numKeys; k += 5 {
		if err := h.Delete(k); err != nil {
			log.Fatalf("delete %d: %v", k, err)
		}
	}
	for k := uint64(0); k < *numKeys; k += 13 {
		if err := h.Set(k, value(rng, k*2, *dataSize)); err != nil {
			log.Fatalf("update %d: %v", k, err)
		}
	}
	h.WaitBackground()
	loadElapsed := time.Since(start)

	// Sequential point reads.
	start = time.Now()
	var live, deleted int
	for k := uint64(0); k < *numKeys; k++ {
		res, err := h.Get(k)
		if err != nil {
			log.Fatalf("get %d: %v", k, err)
		}
		switch {
		case res.IsValue():
			live++
		case res.IsTombstone():
			deleted++
		}
	}
	seqElapsed := time.Since(start)

	// Random point reads.
	start = time.Now()
	const randomReads = 2000
	for i := 0; i < randomReads; i++ {
		if _, err := h.Get(rng.Uint64() % (*numKeys * 2)); err != nil {
			log.Fatalf("random get: %v", err)
		}
	}
	randElapsed := time.Since(start)

	// Full scan.
	start = time.Now()
	if err := h.IterBegin(); err != nil {
		log.Fatalf("iter begin: %v", err)
	}
	scanned := 0
	for {
		_, _, ok, err := h.IterNext()
		if err != nil {
			log.Fatalf("iter next: %v", err)
		}
		if !ok {
			break
		}
		scanned++
	}
	h.IterEnd()
	scanElapsed := time.Since(start)

	size, err := h.SizeOnDisk()
	if err != nil {
		log.Fatalf("size on disk: %v", err)
	}

	fmt.Printf("keys          : %d (%d live, %d tombstones)\n", *numKeys, live, deleted)
	fmt.Printf("load          : %v (%.0f ops/s)\n", loadElapsed,
		float64(*numKeys)/loadElapsed.Seconds())
	fmt.Printf("seq reads     : %v (%.0f ops/s)\n", seqElapsed,
		float64(*numKeys)/seqElapsed.Seconds())
	fmt.Printf("random reads  : %v (%.0f ops/s)\n", randElapsed,
		float64(randomReads)/randElapsed.Seconds())
	fmt.Printf("scan          : %v (%d entries)\n", scanElapsed, scanned)
	fmt.Printf("size on disk  : %s\n", engine.HumanReadSize(size))
}
