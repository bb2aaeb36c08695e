package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/config"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
)

// Result is a geocoded address.
type Result struct {
	Address   string  `json:"address"` // canonicalized display form
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Canadian service-area bounding box. Coordinates outside it are rejected
// with OUTSIDE_SERVICE_AREA before any row is written.
const (
	canadaMinLat = 41.6
	canadaMaxLat = 83.2
	canadaMinLng = -141.1
	canadaMaxLng = -52.5
)

// Geocoder resolves street addresses to coordinates through an external
// geocoding API, with a 24-hour Redis cache in front. Geocode results carry
// no principal data, so the cache is shared.
type Geocoder struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *cache.Cache
}

// New creates a geocoder against the configured API.
func New(baseURL, apiKey string, c *cache.Cache) *Geocoder {
	return &Geocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: config.GeocodeTimeout},
		cache:   c,
	}
}

// geocodeResponse is the subset of the provider response we read.
type geocodeResponse []struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Geocode resolves an address. Failures map to GEOCODING_ERROR; coordinates
// outside the service area map to OUTSIDE_SERVICE_AREA.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errs.New(errs.CodeValidation, "address is required")
	}

	key := cache.GeocodeKey(address)
	var cached Result
	if err := g.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	result, err := g.lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	if !InServiceArea(result.Latitude, result.Longitude) {
		return nil, errs.New(errs.CodeOutsideServiceArea, "address is outside the service area")
	}

	g.cache.SetJSON(ctx, key, result, cache.GeocodeTTL)
	return result, nil
}

func (g *Geocoder) lookup(ctx context.Context, address string) (*Result, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "ca")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeGeocoding, "failed to build geocoding request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.CodeGeocoding, "geocoding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Newf(errs.CodeGeocoding, "geocoding service returned status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.CodeGeocoding, "failed to decode geocoding response", err)
	}
	if len(body) == 0 {
		return nil, errs.New(errs.CodeGeocoding, "address could not be geocoded")
	}

	lat, err := strconv.ParseFloat(body[0].Lat, 64)
	if err != nil {
		return nil, errs.Wrap(errs.CodeGeocoding, "geocoding response carried invalid latitude", err)
	}
	lng, err := strconv.ParseFloat(body[0].Lon, 64)
	if err != nil {
		return nil, errs.Wrap(errs.CodeGeocoding, "geocoding response carried invalid longitude", err)
	}

	canonical := body[0].DisplayName
	if canonical == "" {
		canonical = address
	}

	log.Logger.Debug().
		Str("component", "geocode").
		Str("address", address).
		Float64("lat", lat).
		Float64("lng", lng).
		Msg("Address geocoded")

	return &Result{Address: canonical, Latitude: lat, Longitude: lng}, nil
}

// InServiceArea reports whether coordinates fall inside the Canadian
// bounding box.
func InServiceArea(lat, lng float64) bool {
	return lat >= canadaMinLat && lat <= canadaMaxLat &&
		lng >= canadaMinLng && lng <= canadaMaxLng
}
