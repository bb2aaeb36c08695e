package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/types"
)

func mustUUID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

// TestSetAndGetJSON tests the JSON round trip
func TestSetAndGetJSON(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	zone := types.Zone{Name: "North Shore", CenterLat: 49.3, CenterLng: -123.1}
	c.SetJSON(ctx, "zones:test", zone, time.Minute)

	var got types.Zone
	require.NoError(t, c.GetJSON(ctx, "zones:test", &got))
	assert.Equal(t, zone, got)
}

// TestGetJSONMiss tests that absence and corruption both read as a miss
func TestGetJSONMiss(t *testing.T) {
	c, srv := testCache(t)
	ctx := context.Background()

	var dst types.Zone
	assert.ErrorIs(t, c.GetJSON(ctx, "absent", &dst), ErrMiss)

	// Corrupt entries miss instead of failing the request.
	require.NoError(t, srv.Set("corrupt", "{not json"))
	assert.ErrorIs(t, c.GetJSON(ctx, "corrupt", &dst), ErrMiss)
}

// TestGetJSONFailOpen tests that a Redis outage reads as a miss
func TestGetJSONFailOpen(t *testing.T) {
	c, srv := testCache(t)
	srv.Close()

	var dst types.Zone
	assert.ErrorIs(t, c.GetJSON(context.Background(), "any", &dst), ErrMiss)

	// Writes during the outage are dropped without error.
	c.SetJSON(context.Background(), "any", dst, time.Minute)
}

// TestSetJSONHonorsTTL tests entry expiry
func TestSetJSONHonorsTTL(t *testing.T) {
	c, srv := testCache(t)
	ctx := context.Background()

	c.SetJSON(ctx, "ttl-key", "value", 5*time.Minute)
	ttl := srv.TTL("ttl-key")
	assert.Equal(t, 5*time.Minute, ttl)

	srv.FastForward(6 * time.Minute)
	var dst string
	assert.ErrorIs(t, c.GetJSON(ctx, "ttl-key", &dst), ErrMiss)
}

// TestDelete tests exact-key invalidation
func TestDelete(t *testing.T) {
	c, srv := testCache(t)
	ctx := context.Background()

	c.SetJSON(ctx, "a", 1, time.Minute)
	c.SetJSON(ctx, "b", 2, time.Minute)
	c.Delete(ctx, "a", "b")

	assert.False(t, srv.Exists("a"))
	assert.False(t, srv.Exists("b"))

	// Deleting nothing is a no-op.
	c.Delete(ctx)
}

// TestDeletePattern tests SCAN-based list invalidation
func TestDeletePattern(t *testing.T) {
	c, srv := testCache(t)
	ctx := context.Background()

	zone := "11111111-1111-1111-1111-111111111111"
	c.SetJSON(ctx, ClientListKey(zone, "none", 1, 20), "page1", time.Minute)
	c.SetJSON(ctx, ClientListKey(zone, "none", 2, 20), "page2", time.Minute)
	c.SetJSON(ctx, ClientListKey("all", "none", 1, 20), "admin", time.Minute)

	c.DeletePattern(ctx, ClientListPattern(zone))

	assert.False(t, srv.Exists(ClientListKey(zone, "none", 1, 20)))
	assert.False(t, srv.Exists(ClientListKey(zone, "none", 2, 20)))
	assert.True(t, srv.Exists(ClientListKey("all", "none", 1, 20)))
}

// TestKeyFamily tests the metric label derivation
func TestKeyFamily(t *testing.T) {
	assert.Equal(t, "client", keyFamily("client:detail:abc"))
	assert.Equal(t, "zones", keyFamily("zones:all"))
	assert.Equal(t, "bare", keyFamily("bare"))
}

// TestPrincipalScopedKeys tests that differently scoped queries never share
// a key
func TestPrincipalScopedKeys(t *testing.T) {
	caregiver := VisitListScopeCaregiver(mustUUID("22222222-2222-2222-2222-222222222222"))
	zone := VisitListScopeZone(mustUUID("33333333-3333-3333-3333-333333333333"))

	assert.NotEqual(t,
		VisitListKey(caregiver, "none", 1, 20),
		VisitListKey(zone, "none", 1, 20))
	assert.NotEqual(t,
		VisitListKey(caregiver, "none", 1, 20),
		VisitListKey(caregiver, "none", 2, 20))

	// Geocode keys canonicalize formatting, so variants share one entry.
	assert.Equal(t, GeocodeKey("123 Main St"), GeocodeKey("  123 MAIN ST "))
}
