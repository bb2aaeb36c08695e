package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cache TTLs per key family.
const (
	DetailTTL  = 5 * time.Minute
	ListTTL    = 5 * time.Minute
	GeocodeTTL = 24 * time.Hour
	ZonesTTL   = time.Hour
)

// Keys are principal-scoped: a key must never span principals whose
// authorized subsets of the same logical query differ. Detail keys are
// shared across principals but re-authorized on every hit.

// ClientDetailKey caches one client row.
func ClientDetailKey(id uuid.UUID) string {
	return "client:detail:" + id.String()
}

// ClientListKey caches one page of a zone-scoped client list. zone is the
// zone UUID or "all" for admin unfiltered lists.
func ClientListKey(zone, filters string, page, limit int) string {
	return fmt.Sprintf("clients:list:zone=%s:%s:%d:%d", zone, filters, page, limit)
}

// ClientListPattern matches every cached client list page for a zone.
func ClientListPattern(zone string) string {
	return fmt.Sprintf("clients:list:zone=%s:*", zone)
}

// VisitDetailKey caches one aggregated visit detail.
func VisitDetailKey(id uuid.UUID) string {
	return "visit:detail:" + id.String()
}

// VisitListScope builds the principal scope segment for visit list keys:
// caregivers see only their own visits, coordinators/admins see a zone.
func VisitListScopeCaregiver(userID uuid.UUID) string {
	return "caregiver:" + userID.String()
}

func VisitListScopeZone(zoneID uuid.UUID) string {
	return "zone:" + zoneID.String()
}

// VisitListKey caches one page of a principal-scoped visit list.
func VisitListKey(scope, filters string, page, limit int) string {
	return fmt.Sprintf("visits:list:%s:%s:%d:%d", scope, filters, page, limit)
}

// VisitListPattern matches every cached visit list page for a scope.
func VisitListPattern(scope string) string {
	return fmt.Sprintf("visits:list:%s:*", scope)
}

// GeocodeKey caches one geocoding result. The address is lowercased and
// trimmed so formatting differences share an entry; geocode results carry no
// principal data and are safe to share.
func GeocodeKey(address string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(address))
}

// ZonesKey caches the full zones table.
const ZonesKey = "zones:all"
