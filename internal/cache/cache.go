// Package cache provides a small generic LRU cache with a soft limit.
//
//	c := cache.New[string, []uint32](32)
//	words, err := c.Load(source, func() ([]uint32, error) {
//		return compile(source)
//	})
package cache

import (
	"slices"
	"sync"
)

// Cache is a thread-safe LRU cache. When it grows past the soft limit the
// least recently used quarter of the entries is evicted.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[V]
	softLimit int
	tick      int64 // monotonic access counter

	hits   uint64
	misses uint64
}

type entry[V any] struct {
	value V
	atime int64
}

// Stats contains cache statistics.
type Stats struct {
	Len      int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// New creates a cache. A softLimit of 0 means unlimited.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*entry[V]),
		softLimit: softLimit,
	}
}

// Get returns the value for key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// Set stores value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// Load returns the cached value for key or stores the result of create.
// Errors are returned and not cached. create runs under the cache lock,
// so concurrent loads of one key create it once.
func (c *Cache[K, V]) Load(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.getLocked(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.setLocked(key, v)
	return v, nil
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes all entries. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Len: len(c.entries), Capacity: c.softLimit, Hits: c.hits, Misses: c.misses}
}

func (c *Cache[K, V]) getLocked(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.tick++
	e.atime = c.tick
	return e.value, true
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictLocked()
	}
}

// evictLocked drops the oldest entries until a quarter of the soft limit
// is free. Caller must hold c.mu.
func (c *Cache[K, V]) evictLocked() {
	target := max(c.softLimit*3/4, 1)
	n := len(c.entries) - target
	if n <= 0 {
		return
	}

	type aged struct {
		key   K
		atime int64
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.atime})
	}
	slices.SortFunc(all, func(a, b aged) int {
		switch {
		case a.atime < b.atime:
			return -1
		case a.atime > b.atime:
			return 1
		}
		return 0
	})
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}
