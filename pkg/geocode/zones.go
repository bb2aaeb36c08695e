package geocode

import (
	"context"
	"fmt"
	"math"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

const earthRadiusKm = 6371.0

// ZoneAssigner picks the service zone nearest to a coordinate. The zones
// table is tiny and changes only through operations tooling, so it is read
// through a one-hour cache and scanned linearly.
type ZoneAssigner struct {
	zones *storage.ZoneStore
	cache *cache.Cache
}

// NewZoneAssigner creates an assigner over the zone store.
func NewZoneAssigner(zones *storage.ZoneStore, c *cache.Cache) *ZoneAssigner {
	return &ZoneAssigner{zones: zones, cache: c}
}

// Zones returns all zones, cache-first.
func (a *ZoneAssigner) Zones(ctx context.Context) ([]*types.Zone, error) {
	var cached []*types.Zone
	if err := a.cache.GetJSON(ctx, cache.ZonesKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	zones, err := a.zones.List(ctx)
	if err != nil {
		return nil, err
	}
	a.cache.SetJSON(ctx, cache.ZonesKey, zones, cache.ZonesTTL)
	return zones, nil
}

// Nearest returns the zone whose center is closest to the coordinate.
func (a *ZoneAssigner) Nearest(ctx context.Context, lat, lng float64) (*types.Zone, error) {
	zones, err := a.Zones(ctx)
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("no zones configured")
	}

	best := zones[0]
	bestDist := Haversine(lat, lng, best.CenterLat, best.CenterLng)
	for _, zone := range zones[1:] {
		if d := Haversine(lat, lng, zone.CenterLat, zone.CenterLng); d < bestDist {
			best, bestDist = zone, d
		}
	}
	return best, nil
}

// Haversine returns the great-circle distance between two coordinates in
// kilometers.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
