package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/place"
)

const (
	redisKeyPrefix = "geosuggest:ac:"
	connectTimeout = time.Second
)

// RedisCache stores JSON-encoded suggestion lists in Redis with SET EX.
type RedisCache struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisCache creates a Redis-backed cache.
// Returns error if the URL is invalid or the server does not answer a ping.
func NewRedisCache(url string, log *logger.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	opts.DialTimeout = connectTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: redisKeyPrefix,
		log:    log,
	}, nil
}

// Name implements Cache.
func (rc *RedisCache) Name() string { return "redis" }

// Get implements Cache.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]place.Suggestion, bool) {
	data, err := rc.client.Get(ctx, rc.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rc.log.WithContext(ctx).WithError(err).Warn("Redis get failed", "key", key)
		}
		return nil, false
	}

	var out []place.Suggestion
	if err := json.Unmarshal(data, &out); err != nil {
		rc.log.WithContext(ctx).WithError(err).Warn("Discarding undecodable cache entry", "key", key)
		return nil, false
	}
	return out, true
}

// Set implements Cache.
func (rc *RedisCache) Set(ctx context.Context, key string, value []place.Suggestion, ttl time.Duration) {
	if value == nil {
		value = []place.Suggestion{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		rc.log.WithContext(ctx).WithError(err).Warn("Encoding cache entry failed", "key", key)
		return
	}

	if err := rc.client.Set(ctx, rc.prefix+key, data, ttl).Err(); err != nil {
		rc.log.WithContext(ctx).WithError(err).Warn("Redis set failed", "key", key)
	}
}

// Ping checks the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
