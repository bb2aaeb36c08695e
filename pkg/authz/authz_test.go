package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/types"
)

// TestRequireRole tests the role predicate
func TestRequireRole(t *testing.T) {
	coordinator := types.Principal{Role: types.RoleCoordinator}

	assert.NoError(t, RequireRole(coordinator, types.RoleCoordinator))
	assert.NoError(t, RequireRole(coordinator, types.RoleCoordinator, types.RoleAdmin))

	err := RequireRole(coordinator, types.RoleAdmin)
	assert.True(t, errs.IsCode(err, errs.CodeUnauthorized))

	err = RequireRole(types.Principal{Role: types.RoleCaregiver}, types.RoleCoordinator, types.RoleAdmin)
	assert.True(t, errs.IsCode(err, errs.CodeUnauthorized))
}

// TestCanAccessZone tests the zone predicate
func TestCanAccessZone(t *testing.T) {
	zoneA := uuid.New()
	zoneB := uuid.New()

	tests := []struct {
		name string
		p    types.Principal
		zone uuid.UUID
		want bool
	}{
		{"caregiver in zone", types.Principal{Role: types.RoleCaregiver, ZoneID: zoneA}, zoneA, true},
		{"caregiver other zone", types.Principal{Role: types.RoleCaregiver, ZoneID: zoneA}, zoneB, false},
		{"coordinator in zone", types.Principal{Role: types.RoleCoordinator, ZoneID: zoneA}, zoneA, true},
		{"coordinator other zone", types.Principal{Role: types.RoleCoordinator, ZoneID: zoneA}, zoneB, false},
		{"admin without zone", types.Principal{Role: types.RoleAdmin}, zoneB, true},
		{"admin with zone set", types.Principal{Role: types.RoleAdmin, ZoneID: zoneA}, zoneB, true},
		{"zoneless non-admin denied everywhere", types.Principal{Role: types.RoleCaregiver}, zoneA, false},
		{"nil zone never matches nil zone", types.Principal{Role: types.RoleCaregiver}, uuid.Nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccessZone(tt.p, tt.zone))
		})
	}
}

// TestCanReadVisit tests caregiver ownership against coordinator zone scope
func TestCanReadVisit(t *testing.T) {
	caregiverID := uuid.New()
	zone := uuid.New()
	visit := &types.Visit{StaffID: caregiverID}

	tests := []struct {
		name string
		p    types.Principal
		want bool
	}{
		{"assigned caregiver", types.Principal{Role: types.RoleCaregiver, UserID: caregiverID, ZoneID: zone}, true},
		{"other caregiver same zone", types.Principal{Role: types.RoleCaregiver, UserID: uuid.New(), ZoneID: zone}, false},
		{"coordinator in zone", types.Principal{Role: types.RoleCoordinator, UserID: uuid.New(), ZoneID: zone}, true},
		{"coordinator other zone", types.Principal{Role: types.RoleCoordinator, UserID: uuid.New(), ZoneID: uuid.New()}, false},
		{"admin", types.Principal{Role: types.RoleAdmin, UserID: uuid.New()}, true},
		{"unknown role", types.Principal{Role: types.Role("guest"), UserID: caregiverID, ZoneID: zone}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanReadVisit(tt.p, visit, zone))
		})
	}
}

// TestRequireVisitRead tests the error form of the visit predicate
func TestRequireVisitRead(t *testing.T) {
	visit := &types.Visit{StaffID: uuid.New()}
	zone := uuid.New()

	err := RequireVisitRead(types.Principal{Role: types.RoleCaregiver, UserID: uuid.New(), ZoneID: zone}, visit, zone)
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))

	assert.NoError(t, RequireVisitRead(types.Principal{Role: types.RoleAdmin}, visit, zone))
}
