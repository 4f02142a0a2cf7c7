// Package cache provides a result cache for vector similarity searches.
//
// Repeated searches with the same query vector and k are answered from
// memory until the vector index changes. Any mutation of the index must
// call Invalidate; entries also expire after a TTL.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Usage:
//
//	cache := NewSearchCache(1000, 5*time.Minute)
//
//	key := SearchKey(query, k)
//	if results, ok := cache.Get(key); ok {
//		return results
//	}
//	results := idx.Search(ctx, query, k)
//	cache.Put(key, results)
package cache

import (
	"container/list"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ocentra/TabAgentServer-sub005/pkg/vector"
)

// DefaultSize is used when a non-positive size is requested.
const DefaultSize = 1000

// SearchCache is a thread-safe LRU cache of search results.
//
// Cached result slices are owned by the cache: Put stores a copy and Get
// returns a copy, so callers may modify what they hold.
type SearchCache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[uint64]*list.Element
	gen   uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

type cacheEntry struct {
	key       uint64
	results   []vector.Result
	expiresAt time.Time
}

// NewSearchCache creates a cache holding at most maxSize result sets, each
// for at most ttl (0 means no expiration).
func NewSearchCache(maxSize int, ttl time.Duration) *SearchCache {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	return &SearchCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// SearchKey hashes a query vector and result count. Vectors that differ
// in any bit produce different keys with overwhelming probability.
func SearchKey(query []float32, k int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	d.Write(buf[:])
	for _, f := range query {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
		d.Write(buf[:4])
	}
	return d.Sum64()
}

// Get returns the cached results for key if present and not expired.
// A hit moves the entry to the front of the LRU list.
func (c *SearchCache) Get(key uint64) ([]vector.Result, bool) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	out := append([]vector.Result(nil), entry.results...)
	c.mu.Unlock()

	c.hits.Add(1)
	return out, true
}

// Put stores results under key, evicting the least recently used entry
// when full. An existing entry is replaced.
func (c *SearchCache) Put(key uint64, results []vector.Result) {
	c.store(key, results, nil)
}

// store inserts under the lock when current (if given) still holds.
func (c *SearchCache) store(key uint64, results []vector.Result, current func() bool) bool {
	owned := append([]vector.Result(nil), results...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || (current != nil && !current()) {
		return false
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.results = owned
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return true
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	entry := &cacheEntry{key: key, results: owned}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
	return true
}

// Generation returns the invalidation generation. Read it before running
// a search and pass it to PutAt so results computed across an invalidation
// are never cached.
func (c *SearchCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutAt is Put, skipped when the cache was invalidated after gen was read.
// It reports whether the results were stored.
func (c *SearchCache) PutAt(gen, key uint64, results []vector.Result) bool {
	return c.store(key, results, func() bool { return c.gen == gen })
}

// Invalidate drops every entry. Call it after any change to the index the
// results were computed from.
func (c *SearchCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.list.Len() > 0 {
		c.invalidations.Add(1)
	}
	c.list.Init()
	clear(c.items)
}

// Len returns the number of cached result sets.
func (c *SearchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// SetEnabled enables or disables the cache. Disabling drops all entries.
func (c *SearchCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		clear(c.items)
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size          int     // Current number of entries
	MaxSize       int     // Maximum capacity
	Hits          uint64  // Number of cache hits
	Misses        uint64  // Number of cache misses
	Invalidations uint64  // Invalidations that dropped at least one entry
	HitRate       float64 // Hit rate percentage (0-100)
}

// Stats returns cache statistics.
func (c *SearchCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:          c.Len(),
		MaxSize:       c.maxSize,
		Hits:          hits,
		Misses:        misses,
		Invalidations: c.invalidations.Load(),
		HitRate:       hitRate,
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *SearchCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *SearchCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
