package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"walkingbus/internal/domain"
)

const DefaultCacheTTL = 15 * time.Minute

// Cache stores raw values by key. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisCache connects to the server named by a redis:// URL.
func NewRedisCache(rawURL string, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "walkingbus:",
		logger: logger.With("component", "redis_cache"),
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.logger.Debug("cache hit", "key", key, "size_bytes", len(val))
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Cached serves repeated lookups of one city from a Cache. Cache errors
// fall through to the wrapped Lookup.
type Cached struct {
	next   Lookup
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Lookup, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger.With("component", "weather_cache")}
}

// CacheKey is the cache key of one city, case-insensitive.
func CacheKey(city string) string {
	return "weather:" + strings.ToLower(strings.TrimSpace(city))
}

func (c *Cached) Current(ctx context.Context, city string) (*domain.Weather, error) {
	key := CacheKey(city)
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if raw != nil {
		var w domain.Weather
		if err := json.Unmarshal(raw, &w); err == nil {
			return &w, nil
		}
		c.logger.Warn("discarding unreadable cache entry", "key", key)
	}

	w, err := c.next.Current(ctx, city)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return w, nil
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
	return w, nil
}
