package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRateLimiterAllowWithinLimit tests counting below the ceiling
func TestRateLimiterAllowWithinLimit(t *testing.T) {
	c, _ := testCache(t)
	rl := NewRateLimiter(c)
	policy := Policy{Name: "test", Limit: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := rl.Allow(ctx, policy, "10.0.0.1")
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 3-i, d.Remaining)
	}
}

// TestRateLimiterRejectsOverLimit tests the deny decision and retry hint
func TestRateLimiterRejectsOverLimit(t *testing.T) {
	c, _ := testCache(t)
	rl := NewRateLimiter(c)
	policy := Policy{Name: "test", Limit: 2, Window: time.Minute}
	ctx := context.Background()

	rl.Allow(ctx, policy, "10.0.0.1")
	rl.Allow(ctx, policy, "10.0.0.1")

	d := rl.Allow(ctx, policy, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

// TestRateLimiterIsolatesClients tests per-IP and per-policy key isolation
func TestRateLimiterIsolatesClients(t *testing.T) {
	c, _ := testCache(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	tight := Policy{Name: "tight", Limit: 1, Window: time.Minute}
	rl.Allow(ctx, tight, "10.0.0.1")
	assert.False(t, rl.Allow(ctx, tight, "10.0.0.1").Allowed)

	// Other IPs and other policies are unaffected.
	assert.True(t, rl.Allow(ctx, tight, "10.0.0.2").Allowed)
	other := Policy{Name: "other", Limit: 1, Window: time.Minute}
	assert.True(t, rl.Allow(ctx, other, "10.0.0.1").Allowed)
}

// TestRateLimiterWindowResets tests that the fixed window expires
func TestRateLimiterWindowResets(t *testing.T) {
	c, srv := testCache(t)
	rl := NewRateLimiter(c)
	policy := Policy{Name: "test", Limit: 1, Window: time.Minute}
	ctx := context.Background()

	rl.Allow(ctx, policy, "10.0.0.1")
	assert.False(t, rl.Allow(ctx, policy, "10.0.0.1").Allowed)

	srv.FastForward(61 * time.Second)
	assert.True(t, rl.Allow(ctx, policy, "10.0.0.1").Allowed)
}

// TestRateLimiterFailOpen tests that a Redis outage admits requests; failing
// closed would take authentication down with Redis
func TestRateLimiterFailOpen(t *testing.T) {
	c, srv := testCache(t)
	rl := NewRateLimiter(c)
	policy := Policy{Name: "test", Limit: 1, Window: time.Minute}
	srv.Close()

	d := rl.Allow(context.Background(), policy, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, policy.Limit, d.Remaining)
}

// TestEndpointPolicies tests the published per-endpoint limits
func TestEndpointPolicies(t *testing.T) {
	assert.Equal(t, 5, PolicyRegister.Limit)
	assert.Equal(t, time.Hour, PolicyRegister.Window)
	assert.Equal(t, 10, PolicyLogin.Limit)
	assert.Equal(t, time.Hour, PolicyLogin.Window)
	assert.Equal(t, 60, PolicyAuth.Limit)
	assert.Equal(t, time.Minute, PolicyAuth.Window)
}
