package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/berthcare/berthcare/pkg/log"
)

// Blacklist records revoked access tokens until their natural expiry. Backed
// by Redis with TTL equal to the token's remaining life, so the set cleans
// itself and never grows past the number of live revoked tokens.
type Blacklist struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBlacklist builds a blacklist sharing the cache's Redis connection.
func NewBlacklist(c *Cache) *Blacklist {
	return &Blacklist{rdb: c.rdb, ttl: c.ttl}
}

func blacklistKey(token string) string {
	return "blacklist:" + token
}

// Revoke blacklists an access token for its remaining life. TTLs below one
// second are clamped up so a token revoked at the edge of expiry still lands.
func (b *Blacklist) Revoke(ctx context.Context, token string, remaining time.Duration) error {
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, b.ttl)
	defer cancel()
	if err := b.rdb.Set(ctx, blacklistKey(token), "1", remaining).Err(); err != nil {
		return err
	}
	return nil
}

// IsRevoked reports whether the token has been blacklisted. On Redis outage
// the check is skipped (degraded, fail-open) and the error logged: availability
// of authentication wins over revocation freshness.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.ttl)
	defer cancel()

	err := b.rdb.Get(ctx, blacklistKey(token)).Err()
	if err == nil {
		return true
	}
	if !errors.Is(err, redis.Nil) {
		log.Logger.Error().Err(err).Msg("Blacklist check failed, skipping (degraded)")
	}
	return false
}
