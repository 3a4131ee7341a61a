// Package cache provides an in-memory TTL cache for classification results.
//
// Eviction is oldest-by-insertion when capacity is reached, entries expire
// lazily on read and eagerly via a background sweep.
package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// entry is a single cached value with its lifecycle metadata.
type entry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
	hits      int64
}

// Stats describes the current state of a cache.
type Stats struct {
	Size        int       `json:"size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	OldestEntry time.Time `json:"oldest_entry,omitempty"`
	NewestEntry time.Time `json:"newest_entry,omitempty"`
}

// Cache is a bounded in-memory cache with per-entry TTLs.
// All methods are safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	capacity   int
	defaultTTL time.Duration

	hits   int64
	misses int64

	stop chan struct{}
	once sync.Once
	log  *logrus.Entry
}

// New creates a cache holding at most capacity entries, each living for
// defaultTTL unless Set is called with an explicit TTL.
func New[V any](capacity int, defaultTTL time.Duration) *Cache[V] {
	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
		log:        logrus.WithField("component", "cache"),
	}
}

// Get returns the cached value for key. Expired entries are removed and
// reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if time.Since(e.createdAt) > e.ttl {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}

	e.hits++
	c.hits++
	return e.value, true
}

// Set stores value under key. A ttl of zero uses the cache default.
// When the cache is at capacity the oldest entry by insertion is evicted.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = &entry[V]{
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	}
}

// Has reports whether key is present and not expired. Expired entries
// are removed as a side effect.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Since(e.createdAt) > e.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

// Delete removes key from the cache. It reports whether an entry was removed.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear removes all entries and resets hit/miss counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[V])
	c.hits = 0
	c.misses = 0
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}

	for _, e := range c.entries {
		if s.OldestEntry.IsZero() || e.createdAt.Before(s.OldestEntry) {
			s.OldestEntry = e.createdAt
		}
		if e.createdAt.After(s.NewestEntry) {
			s.NewestEntry = e.createdAt
		}
	}
	return s
}

// StartSweeper launches a background goroutine that removes expired entries
// every interval. Call Stop to terminate it.
func (c *Cache[V]) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.sweep(); n > 0 {
					c.log.WithField("removed", n).Debug("swept expired cache entries")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// sweep removes all expired entries and returns how many were removed.
func (c *Cache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > e.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// evictOldestLocked removes the entry with the earliest insertion time.
// Caller must hold c.mu.
func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
