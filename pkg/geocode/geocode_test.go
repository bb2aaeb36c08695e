package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
)

func testRedis(t *testing.T) *cache.Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestInServiceArea tests the Canadian bounding box
func TestInServiceArea(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		want     bool
	}{
		{"Vancouver", 49.28, -123.12, true},
		{"Toronto", 43.65, -79.38, true},
		{"St. John's", 47.56, -52.71, true},
		{"Whitehorse", 60.72, -135.05, true},
		{"Seattle, inside the box despite being US", 47.61, -122.33, true},
		{"Mexico City", 19.43, -99.13, false},
		{"London", 51.51, -0.13, false},
		{"north of the box", 84.0, -90.0, false},
		{"east of the box", 47.0, -50.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InServiceArea(tt.lat, tt.lng))
		})
	}
}

// TestHaversine tests great-circle distances against known city pairs
func TestHaversine(t *testing.T) {
	// Toronto to Montreal is roughly 504 km.
	d := Haversine(43.6532, -79.3832, 45.5017, -73.5673)
	assert.InDelta(t, 504, d, 10)

	// Zero distance to self.
	assert.InDelta(t, 0, Haversine(49.28, -123.12, 49.28, -123.12), 0.001)

	// Symmetry.
	assert.InDelta(t,
		Haversine(49.28, -123.12, 53.55, -113.49),
		Haversine(53.55, -113.49, 49.28, -123.12), 0.001)
}

func geocodeServer(t *testing.T, lat, lng string, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "ca", r.URL.Query().Get("countrycodes"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"display_name":"123 Main St, Vancouver, BC","lat":%q,"lon":%q}]`, lat, lng)
	}))
}

// TestGeocode tests a successful lookup
func TestGeocode(t *testing.T) {
	var hits int
	srv := geocodeServer(t, "49.2827", "-123.1207", &hits)
	defer srv.Close()

	g := New(srv.URL, "", testRedis(t))
	result, err := g.Geocode(context.Background(), "123 Main St")
	require.NoError(t, err)

	assert.Equal(t, "123 Main St, Vancouver, BC", result.Address)
	assert.InDelta(t, 49.2827, result.Latitude, 0.0001)
	assert.InDelta(t, -123.1207, result.Longitude, 0.0001)
	assert.Equal(t, 1, hits)
}

// TestGeocodeCaches tests that repeat lookups hit the 24-hour cache
func TestGeocodeCaches(t *testing.T) {
	var hits int
	srv := geocodeServer(t, "49.2827", "-123.1207", &hits)
	defer srv.Close()

	g := New(srv.URL, "", testRedis(t))
	ctx := context.Background()

	_, err := g.Geocode(ctx, "123 Main St")
	require.NoError(t, err)

	// Formatting differences share the canonicalized cache entry.
	cached, err := g.Geocode(ctx, "  123 MAIN ST")
	require.NoError(t, err)
	assert.Equal(t, "123 Main St, Vancouver, BC", cached.Address)
	assert.Equal(t, 1, hits)
}

// TestGeocodeOutsideServiceArea tests the service-area rejection
func TestGeocodeOutsideServiceArea(t *testing.T) {
	srv := geocodeServer(t, "19.4326", "-99.1332", nil)
	defer srv.Close()

	g := New(srv.URL, "", testRedis(t))
	_, err := g.Geocode(context.Background(), "Av. Reforma, Mexico City")
	assert.True(t, errs.IsCode(err, errs.CodeOutsideServiceArea))
}

// TestGeocodeFailures tests provider-error mapping
func TestGeocodeFailures(t *testing.T) {
	t.Run("empty address", func(t *testing.T) {
		g := New("http://unused", "", testRedis(t))
		_, err := g.Geocode(context.Background(), "   ")
		assert.True(t, errs.IsCode(err, errs.CodeValidation))
	})

	t.Run("no match", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`)
		}))
		defer srv.Close()

		g := New(srv.URL, "", testRedis(t))
		_, err := g.Geocode(context.Background(), "nowhere at all")
		assert.True(t, errs.IsCode(err, errs.CodeGeocoding))
	})

	t.Run("provider error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		g := New(srv.URL, "", testRedis(t))
		_, err := g.Geocode(context.Background(), "123 Main St")
		assert.True(t, errs.IsCode(err, errs.CodeGeocoding))
	})

	t.Run("unreachable provider", func(t *testing.T) {
		g := New("http://127.0.0.1:1", "", testRedis(t))
		_, err := g.Geocode(context.Background(), "123 Main St")
		assert.True(t, errs.IsCode(err, errs.CodeGeocoding))
	})

	t.Run("invalid coordinates in response", func(t *testing.T) {
		srv := geocodeServer(t, "not-a-number", "-123.1", nil)
		defer srv.Close()

		g := New(srv.URL, "", testRedis(t))
		_, err := g.Geocode(context.Background(), "123 Main St")
		assert.True(t, errs.IsCode(err, errs.CodeGeocoding))
	})
}

// TestGeocodeSendsAPIKey tests key propagation to the provider
func TestGeocodeSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
		fmt.Fprint(w, `[{"display_name":"x","lat":"49.0","lon":"-123.0"}]`)
	}))
	defer srv.Close()

	g := New(srv.URL, "secret-key", testRedis(t))
	_, err := g.Geocode(context.Background(), "123 Main St")
	require.NoError(t, err)
}
