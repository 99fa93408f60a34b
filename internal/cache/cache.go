// Package cache provides the short-lived result cache for ranked autocomplete
// responses.
//
// Every backend absorbs its own failures: a backend that cannot be reached
// behaves as a permanently empty cache and never returns an error to callers.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/geosuggest/geosuggest/internal/config"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/place"
)

// Cache stores ranked suggestions by normalized query.
type Cache interface {
	// Get returns the cached suggestions for key. A miss, an expired entry
	// and a backend failure all report false.
	Get(ctx context.Context, key string) ([]place.Suggestion, bool)

	// Set overwrites the entry for key and restarts its TTL.
	Set(ctx context.Context, key string, value []place.Suggestion, ttl time.Duration)

	// Name identifies the backend in logs, metrics and health output.
	Name() string

	Close() error
}

// Metrics is the interface for recording cache metrics.
// This allows the cache to be decoupled from the metrics package.
type Metrics interface {
	RecordCacheHit(backend string)
	RecordCacheMiss(backend string)
}

// Key returns the cache key for a query.
func Key(query string) string {
	return strings.ToLower(query)
}

// New builds the backend selected by cfg. If Redis cannot be reached the
// service runs without a cache rather than failing to start.
func New(cfg config.CacheConfig, log *logger.Logger) Cache {
	log = log.WithComponent("cache")

	switch cfg.Type {
	case "redis":
		rc, err := NewRedisCache(cfg.RedisURL, log)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, result caching disabled")
			return NewNoopCache()
		}
		log.Info("Using Redis result cache", "url", redactURL(cfg.RedisURL))
		return rc
	case "memory":
		log.Info("Using in-memory result cache", "size", cfg.Size, "ttl", cfg.TTL)
		return NewMemoryCache(cfg.Size, cfg.TTL)
	default:
		log.Info("Result caching disabled")
		return NewNoopCache()
	}
}

// WithMetrics wraps c so that every Get records a hit or a miss.
func WithMetrics(c Cache, m Metrics) Cache {
	if m == nil {
		return c
	}
	return &instrumented{Cache: c, metrics: m}
}

type instrumented struct {
	Cache
	metrics Metrics
}

func (i *instrumented) Get(ctx context.Context, key string) ([]place.Suggestion, bool) {
	v, ok := i.Cache.Get(ctx, key)
	if ok {
		i.metrics.RecordCacheHit(i.Cache.Name())
	} else {
		i.metrics.RecordCacheMiss(i.Cache.Name())
	}
	return v, ok
}

// Ping forwards to the wrapped backend when it supports connectivity checks.
func (i *instrumented) Ping(ctx context.Context) error {
	if p, ok := i.Cache.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func cloneSuggestions(in []place.Suggestion) []place.Suggestion {
	if in == nil {
		return nil
	}
	out := make([]place.Suggestion, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// redactURL strips credentials from a connection URL before logging.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
