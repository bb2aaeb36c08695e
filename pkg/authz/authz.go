package authz

import (
	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/types"
)

// RequireRole rejects principals whose role is not in the allowed set.
func RequireRole(p types.Principal, allowed ...types.Role) error {
	for _, role := range allowed {
		if p.Role == role {
			return nil
		}
	}
	return errs.New(errs.CodeUnauthorized, "role not permitted for this operation")
}

// CanAccessZone applies the zone predicate: coordinators and caregivers must
// match the entity's zone; admins are unrestricted.
func CanAccessZone(p types.Principal, zoneID uuid.UUID) bool {
	if p.Role == types.RoleAdmin {
		return true
	}
	return p.ZoneID != uuid.Nil && p.ZoneID == zoneID
}

// CanReadVisit applies the caregiver-ownership predicate: a caregiver may
// read only visits assigned to them; coordinators and admins fall back to
// the zone predicate on the visit's client.
func CanReadVisit(p types.Principal, visit *types.Visit, clientZoneID uuid.UUID) bool {
	switch p.Role {
	case types.RoleCaregiver:
		return visit.StaffID == p.UserID
	case types.RoleCoordinator:
		return CanAccessZone(p, clientZoneID)
	case types.RoleAdmin:
		return true
	}
	return false
}

// RequireVisitRead is CanReadVisit as an error.
func RequireVisitRead(p types.Principal, visit *types.Visit, clientZoneID uuid.UUID) error {
	if !CanReadVisit(p, visit, clientZoneID) {
		return errs.Forbidden()
	}
	return nil
}
