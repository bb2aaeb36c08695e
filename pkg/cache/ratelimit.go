package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
)

// Policy is a fixed-window rate limit: Limit requests per Window per IP.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Endpoint policies. Registration and login are tight to blunt credential
// stuffing; the generic auth window covers refresh and logout.
var (
	PolicyRegister = Policy{Name: "register", Limit: 5, Window: time.Hour}
	PolicyLogin    = Policy{Name: "login", Limit: 10, Window: time.Hour}
	PolicyAuth     = Policy{Name: "auth", Limit: 60, Window: time.Minute}
)

// Decision is the outcome of one rate-limit check, including the header
// values advertised to clients.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// RateLimiter counts requests in Redis fixed windows keyed by endpoint + IP.
type RateLimiter struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRateLimiter builds a limiter sharing the cache's Redis connection.
func NewRateLimiter(c *Cache) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, ttl: c.ttl, now: time.Now}
}

// Allow atomically increments the window counter for (policy, ip) and
// decides. The first increment in a window sets the TTL. On Redis outage the
// limiter is advisory: the request is admitted and a warning logged, because
// failing closed would take authentication down with Redis.
func (rl *RateLimiter) Allow(ctx context.Context, policy Policy, ip string) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", policy.Name, ip)

	ctx, cancel := context.WithTimeout(ctx, rl.ttl)
	defer cancel()

	count64, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Logger.Warn().Err(err).Str("policy", policy.Name).Msg("Rate limiter unavailable, admitting request")
		return Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit, Reset: rl.now().Add(policy.Window)}
	}
	count := int(count64)

	// First hit in a window owns setting the TTL.
	if count == 1 {
		if err := rl.rdb.Expire(ctx, key, policy.Window).Err(); err != nil {
			log.Logger.Warn().Err(err).Str("policy", policy.Name).Msg("Rate limiter failed to set window TTL")
		}
	}

	window, err := rl.rdb.TTL(ctx, key).Result()
	if err != nil || window < 0 {
		window = policy.Window
	}
	reset := rl.now().Add(window)

	remaining := policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	if count > policy.Limit {
		metrics.RateLimited.WithLabelValues(policy.Name).Inc()
		return Decision{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: window,
		}
	}
	return Decision{Allowed: true, Limit: policy.Limit, Remaining: remaining, Reset: reset}
}
