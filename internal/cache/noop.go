package cache

import (
	"context"
	"time"

	"github.com/geosuggest/geosuggest/internal/place"
)

// NoopCache is always empty. It stands in when caching is disabled or the
// configured backend is unreachable.
type NoopCache struct{}

// NewNoopCache returns a cache that stores nothing.
func NewNoopCache() *NoopCache { return &NoopCache{} }

// Name implements Cache.
func (NoopCache) Name() string { return "none" }

// Get implements Cache.
func (NoopCache) Get(context.Context, string) ([]place.Suggestion, bool) { return nil, false }

// Set implements Cache.
func (NoopCache) Set(context.Context, string, []place.Suggestion, time.Duration) {}

// Close implements Cache.
func (NoopCache) Close() error { return nil }
