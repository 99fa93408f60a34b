package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/geosuggest/geosuggest/internal/place"
)

type memoryEntry struct {
	value     []place.Suggestion
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache. The LRU reaps entries after the
// default TTL; a shorter per-entry TTL is enforced when the entry is read.
type MemoryCache struct {
	lru        *expirable.LRU[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a memory cache holding at most size entries.
func NewMemoryCache(size int, defaultTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	return &MemoryCache{
		lru:        expirable.NewLRU[string, memoryEntry](size, nil, defaultTTL),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Name implements Cache.
func (mc *MemoryCache) Name() string { return "memory" }

// Get implements Cache.
func (mc *MemoryCache) Get(_ context.Context, key string) ([]place.Suggestion, bool) {
	e, ok := mc.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !mc.now().Before(e.expiresAt) {
		mc.lru.Remove(key)
		return nil, false
	}
	return cloneSuggestions(e.value), true
}

// Set implements Cache. TTLs longer than the default are capped by the LRU.
func (mc *MemoryCache) Set(_ context.Context, key string, value []place.Suggestion, ttl time.Duration) {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	if value == nil {
		value = []place.Suggestion{}
	}
	mc.lru.Add(key, memoryEntry{
		value:     cloneSuggestions(value),
		expiresAt: mc.now().Add(ttl),
	})
}

// Len returns the number of entries, including ones not yet lazily expired.
func (mc *MemoryCache) Len() int {
	return mc.lru.Len()
}

// Close implements Cache.
func (mc *MemoryCache) Close() error {
	mc.lru.Purge()
	return nil
}
