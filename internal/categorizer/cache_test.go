package categorizer

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestResponseCacheHit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewResponseCache(5*time.Minute, clock)

	key := CacheKey("/v1/classify", "POST", []byte(`{"a":1}`))
	cache.Put(key, []byte("response"))

	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != "response" {
		t.Errorf("unexpected cached value: %s", got)
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewResponseCache(5*time.Minute, clock)

	key := CacheKey("/v1/classify", "POST", []byte(`{"a":1}`))
	cache.Put(key, []byte("response"))

	clock.Advance(4 * time.Minute)
	if _, ok := cache.Get(key); !ok {
		t.Error("entry expired before TTL")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := cache.Get(key); ok {
		t.Error("entry survived past TTL")
	}

	// Lazy eviction removes the expired entry on read.
	if cache.Len() != 0 {
		t.Errorf("expected expired entry evicted, %d entries remain", cache.Len())
	}
}

func TestCacheKeyDistinguishesBodies(t *testing.T) {
	a := CacheKey("/v1/classify", "POST", []byte(`{"a":1}`))
	b := CacheKey("/v1/classify", "POST", []byte(`{"a":2}`))
	c := CacheKey("/v1/other", "POST", []byte(`{"a":1}`))

	if a == b || a == c {
		t.Error("cache keys must differ per endpoint and body")
	}
	if a != CacheKey("/v1/classify", "POST", []byte(`{"a":1}`)) {
		t.Error("cache key must be stable for identical requests")
	}
}
