package agent

import (
	"sync"
	"time"
)

const evictFraction = 10 // evict 1/10 of entries when over the ceiling

type cacheEntry struct {
	value      []byte
	insertedAt time.Time
	size       int
}

// Cache is the node-local response cache, keyed by method plus serialized
// params. Entries expire by per-method TTL on lookup; memory is bounded by
// dropping the oldest tenth of entries once the ceiling is crossed, which is
// O(1) amortized per insert instead of a per-entry TTL sweep.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // original insertion order, oldest first
	maxEntries int

	now func() time.Time
}

func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    map[string]*cacheEntry{},
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(method string, params []byte) string {
	return method + "|" + string(params)
}

// Lookup returns the cached value for method+params if one exists and is
// still inside the method's TTL window.
func (c *Cache) Lookup(method string, params []byte) ([]byte, bool) {
	if !Cacheable(method) {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(method, params)]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= TTLFor(method) {
		return nil, false
	}
	return entry.value, true
}

// Store caches a successful upstream response. Callers must not pass error
// responses; only clean results populate the cache.
func (c *Cache) Store(method string, params, value []byte) {
	if !Cacheable(method) {
		return
	}
	key := cacheKey(method, params)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.insertedAt = c.now()
		existing.size = len(value)
		return
	}
	c.entries[key] = &cacheEntry{value: value, insertedAt: c.now(), size: len(value)}
	c.order = append(c.order, key)
	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// evictLocked removes the oldest tenth of entries by insertion order.
func (c *Cache) evictLocked() {
	toEvict := len(c.entries) / evictFraction
	if toEvict < 1 {
		toEvict = 1
	}
	evicted := 0
	kept := 0
	for _, key := range c.order {
		if evicted >= toEvict {
			break
		}
		kept++
		if _, ok := c.entries[key]; !ok {
			continue
		}
		delete(c.entries, key)
		evicted++
	}
	c.order = c.order[kept:]
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
