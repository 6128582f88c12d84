package categorizer

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Clock abstracts time for the response cache so expiry is testable
// with a fake clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ResponseCache memoizes classifier responses keyed by endpoint, method
// and request-body hash. Entries expire after a fixed TTL and are
// evicted lazily on read. Safe for concurrent use by multiple jobs.
type ResponseCache struct {
	ttl     time.Duration
	clock   Clock
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewResponseCache creates a cache with the given TTL. A nil clock uses
// the system clock.
func NewResponseCache(ttl time.Duration, clock Clock) *ResponseCache {
	if clock == nil {
		clock = SystemClock{}
	}

	return &ResponseCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// CacheKey derives the cache key for one request.
func CacheKey(endpoint, method string, body []byte) string {
	sum := sha256.Sum256(body)
	return endpoint + "|" + method + "|" + hex.EncodeToString(sum[:])
}

// Get returns the cached response body for the key, if present and not
// expired. Expired entries are removed on the way out.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.clock.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}

	return entry.value, true
}

// Put stores a response body under the key.
func (c *ResponseCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
