package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/listcrawl/extractor"
)

// entry holds a cached detail with its creation timestamp.
type entry struct {
	detail    extractor.Detail
	createdAt time.Time
}

// Cache is a simple in-memory cache of article details keyed by URL.
// It is shared by all crawl runs of a process and safe for concurrent use.
// A nil *Cache is valid and never hits.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	stop       chan struct{}
	closeOnce  sync.Once
}

// New creates a new Cache with the given maximum number of entries and TTL.
// A background goroutine evicts expired entries until Close is called.
// Returns nil when maxEntries <= 0, which disables caching.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval(ttl))
	return c
}

// Key generates a cache key from the article URL.
func Key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Get retrieves the cached detail for url if it exists and has not expired.
// The returned tags are a copy.
func (c *Cache) Get(url string) (extractor.Detail, bool) {
	if c == nil {
		return extractor.Detail{}, false
	}

	c.mu.RLock()
	e, ok := c.store[Key(url)]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > c.ttl {
		return extractor.Detail{}, false
	}

	d := e.detail
	d.Tags = append([]string{}, e.detail.Tags...)
	return d, true
}

// Set stores a detail in the cache. If the cache is at capacity,
// a random entry is evicted to make room.
func (c *Cache) Set(url string, d extractor.Detail) {
	if c == nil {
		return
	}
	d.Tags = append([]string{}, d.Tags...)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(url)
	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		detail:    d,
		createdAt: time.Now(),
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.stop) })
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if iv := ttl / 12; iv > time.Second {
		return iv
	}
	return time.Second
}

// cleanupLoop evicts entries older than the TTL on every tick.
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *Cache) evictExpired(now time.Time) {
	cutoff := now.Add(-c.ttl)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
