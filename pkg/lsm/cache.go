package lsm

import (
	"container/list"
	"sync"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
)

// ReadCache is an LRU cache for hot point reads served from the run
// hierarchy. Memtable hits never enter it; set/delete invalidate.
type ReadCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[uint64]*list.Element
	lru      *list.List

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	key   uint64
	entry codec.Entry
}

// NewReadCache creates an LRU read cache. Capacity 0 disables it.
func NewReadCache(capacity int) *ReadCache {
	return &ReadCache{
		capacity: capacity,
		cache:    make(map[uint64]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a cached entry
func (rc *ReadCache) Get(key uint64) (codec.Entry, bool) {
	if rc.capacity <= 0 {
		return codec.Entry{}, false
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if elem, ok := rc.cache[key]; ok {
		// Move to front (most recently used)
		rc.lru.MoveToFront(elem)
		rc.hits++
		return elem.Value.(*cacheEntry).entry, true
	}

	rc.misses++
	return codec.Entry{}, false
}

// Put adds an entry to the cache
func (rc *ReadCache) Put(key uint64, entry codec.Entry) {
	if rc.capacity <= 0 {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if elem, ok := rc.cache[key]; ok {
		// Update value and move to front
		rc.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).entry = entry
		return
	}

	elem := rc.lru.PushFront(&cacheEntry{key: key, entry: entry})
	rc.cache[key] = elem

	// Evict if over capacity
	if rc.lru.Len() > rc.capacity {
		rc.evict()
	}
}

// Delete invalidates a key (called on every write to that key)
func (rc *ReadCache) Delete(key uint64) {
	if rc.capacity <= 0 {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if elem, ok := rc.cache[key]; ok {
		rc.lru.Remove(elem)
		delete(rc.cache, key)
	}
}

// evict removes the least recently used entry
func (rc *ReadCache) evict() {
	elem := rc.lru.Back()
	if elem != nil {
		rc.lru.Remove(elem)
		delete(rc.cache, elem.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries
func (rc *ReadCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lru.Len()
}

// Stats returns hit/miss counters
func (rc *ReadCache) Stats() (hits, misses int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.hits, rc.misses
}
