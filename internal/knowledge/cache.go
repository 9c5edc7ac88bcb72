package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
)

// EmbeddingCache keeps query embeddings in memory under a fixed capacity
// with least-frequently-used eviction. Hits on distinct keys only take the
// read lock, so concurrent lookups do not serialize.
type EmbeddingCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*cacheEntry

	// insertSeq orders entries by arrival; it breaks frequency ties so
	// eviction picks the oldest of the least-used entries.
	insertSeq uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	vec      []float32
	accesses atomic.Uint64
	inserted uint64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// NewEmbeddingCache creates a cache holding at most capacity embeddings.
// A non-positive capacity disables caching: every Get misses.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
	}
}

// CacheKey derives the lookup key for a query text. Leading and trailing
// whitespace and case differences map to the same key.
func CacheKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for key, or nil and false on a miss.
// The returned slice is shared and must not be modified.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	if c.capacity <= 0 {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e.accesses.Add(1)
	c.hits.Add(1)
	return e.vec, true
}

// Put stores an embedding, evicting the least frequently used entry when
// the cache is full. Storing an existing key refreshes its vector without
// resetting its access count.
func (c *EmbeddingCache) Put(key string, vec []float32) {
	if c.capacity <= 0 || len(vec) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.vec = vec
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictLocked()
	}

	c.insertSeq++
	c.entries[key] = &cacheEntry{vec: vec, inserted: c.insertSeq}
}

// evictLocked removes the entry with the fewest accesses, oldest first on
// ties. Caller holds the write lock.
func (c *EmbeddingCache) evictLocked() {
	var (
		victim    string
		minUses   uint64
		minInsert uint64
		found     bool
	)
	for key, e := range c.entries {
		uses := e.accesses.Load()
		if !found || uses < minUses || (uses == minUses && e.inserted < minInsert) {
			victim, minUses, minInsert, found = key, uses, e.inserted, true
		}
	}
	if found {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Len reports the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats snapshots the cache counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
		Capacity:  c.capacity,
	}
}

// Clear drops every entry while keeping the counters.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
