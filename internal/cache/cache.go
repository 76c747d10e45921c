package cache

import (
	"strings"
	"sync"
	"time"

	"insight-backend/internal/shared/metrics"
)

const (
	// DefaultMaxEntries bounds the table size when no capacity is configured.
	DefaultMaxEntries = 256
	// DefaultTTL is the expiry window when no TTL is configured.
	DefaultTTL = 5 * time.Minute
)

type entry struct {
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a process-scoped, size-bounded, time-expiring cache fronting the
// key-value store and remote calls. When full, the entry with the oldest
// insertion time is evicted. Instances are constructor-injected so tests can
// run isolated copies.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
}

// New constructs a Cache. Non-positive arguments fall back to the defaults.
func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached value for key. An entry past its TTL is evicted and
// reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.IncCacheMiss()
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > e.ttl {
		delete(c.entries, key)
		metrics.IncCacheMiss()
		return nil, false
	}
	metrics.IncCacheHit()
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value []byte) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL. At capacity, the entry
// with the smallest insertion timestamp is evicted first.
func (c *Cache) SetTTL(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, insertedAt: c.now(), ttl: ttl}
}

// Invalidate removes every entry whose key has the given prefix and returns
// how many were removed. Callers invalidate by prefix whenever the resource a
// cached entry fronts is mutated.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of live entries, sweeping out any that have expired
// but were never touched by a Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) > e.ttl {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
