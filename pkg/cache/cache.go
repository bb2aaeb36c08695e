package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
)

// ErrMiss is returned when a key is absent or Redis is unreachable. Callers
// treat both identically: fetch from the source of truth.
var ErrMiss = errors.New("cache miss")

// Cache wraps Redis with the scoped-key discipline and fail-open semantics:
// on any Redis fault, reads miss and writes are dropped with a warning. The
// cache never serves stale data to preserve correctness during outages.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration // default per-op deadline
}

// New connects a cache to the Redis instance at url.
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Cache{rdb: redis.NewClient(opts), ttl: config.RedisTimeout}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, ttl: config.RedisTimeout}
}

// Ping checks connectivity for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Client exposes the raw client for subsystems sharing the connection
// (blacklist, rate limiter).
func (c *Cache) Client() *redis.Client {
	return c.rdb
}

// GetJSON loads key into dst. Any failure, including absence, is ErrMiss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		}
		metrics.CacheMisses.WithLabelValues(keyFamily(key)).Inc()
		return ErrMiss
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Logger.Warn().Err(err).Str("key", key).Msg("Cache entry corrupt, treating as miss")
		metrics.CacheMisses.WithLabelValues(keyFamily(key)).Inc()
		return ErrMiss
	}
	metrics.CacheHits.WithLabelValues(keyFamily(key)).Inc()
	return nil
}

// keyFamily is the metric label for a key: its first segment.
func keyFamily(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// SetJSON stores value under key with the given TTL. Failures are logged and
// swallowed; a cold cache is not an error.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Logger.Warn().Err(err).Str("key", key).Msg("Cache marshal failed")
		return
	}

	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Delete removes exact keys. Failures are logged and swallowed; the entries
// expire by TTL at worst.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Logger.Warn().Err(err).Strs("keys", keys).Msg("Cache delete failed")
	}
}

// DeletePattern removes every key matching pattern via SCAN. Used for
// list-key invalidation where filters and pagination fan out the key space.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Logger.Warn().Err(err).Str("pattern", pattern).Msg("Cache scan failed during invalidation")
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				log.Logger.Warn().Err(err).Str("pattern", pattern).Msg("Cache pattern delete failed")
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func (c *Cache) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.ttl)
}
