package geocode

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

// seedZones bypasses the zone store by priming the cache the assigner reads
// through.
func seedZones(t *testing.T, c *cache.Cache, zones []*types.Zone) {
	t.Helper()
	c.SetJSON(context.Background(), cache.ZonesKey, zones, time.Minute)
}

// TestNearest tests nearest-center zone assignment
func TestNearest(t *testing.T) {
	c := testRedis(t)
	vancouver := &types.Zone{ID: uuid.New(), Name: "Vancouver", CenterLat: 49.2827, CenterLng: -123.1207}
	calgary := &types.Zone{ID: uuid.New(), Name: "Calgary", CenterLat: 51.0447, CenterLng: -114.0719}
	toronto := &types.Zone{ID: uuid.New(), Name: "Toronto", CenterLat: 43.6532, CenterLng: -79.3832}
	seedZones(t, c, []*types.Zone{vancouver, calgary, toronto})

	a := NewZoneAssigner(nil, c)
	ctx := context.Background()

	// Burnaby is a Vancouver suburb.
	zone, err := a.Nearest(ctx, 49.2488, -122.9805)
	require.NoError(t, err)
	assert.Equal(t, vancouver.ID, zone.ID)

	// Mississauga sits beside Toronto.
	zone, err = a.Nearest(ctx, 43.589, -79.644)
	require.NoError(t, err)
	assert.Equal(t, toronto.ID, zone.ID)

	// Red Deer is between Calgary and Edmonton; Calgary is the closest
	// configured center.
	zone, err = a.Nearest(ctx, 52.2681, -113.8112)
	require.NoError(t, err)
	assert.Equal(t, calgary.ID, zone.ID)
}

// TestNearestNoZones tests the empty-table failure
func TestNearestNoZones(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectQuery("SELECT id, name, center_lat, center_lng FROM zones").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "center_lat", "center_lng"}))

	store := storage.NewZoneStore(&storage.DB{DB: sqlx.NewDb(mockDB, "sqlmock")})
	a := NewZoneAssigner(store, testRedis(t))

	_, err = a.Nearest(context.Background(), 49.0, -123.0)
	assert.ErrorContains(t, err, "no zones configured")
}

// TestZonesServedFromCache tests that the cached table short-circuits the
// store read
func TestZonesServedFromCache(t *testing.T) {
	c := testRedis(t)
	zone := &types.Zone{ID: uuid.New(), Name: "North"}
	seedZones(t, c, []*types.Zone{zone})

	// A nil store would panic on any store read; serving from cache proves
	// none happens.
	a := NewZoneAssigner(nil, c)
	zones, err := a.Zones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, zone.ID, zones[0].ID)
}
