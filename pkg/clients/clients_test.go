package clients

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/types"
)

// TestDiffClients tests the audited field diff
func TestDiffClients(t *testing.T) {
	zoneA := uuid.New()
	zoneB := uuid.New()
	before := &types.Client{
		FirstName:   "Margaret",
		LastName:    "Chen",
		DateOfBirth: time.Date(1942, 3, 15, 0, 0, 0, 0, time.UTC),
		Address:     "123 Main St",
		Phone:       "+15551234567",
		ZoneID:      zoneA,
		EmergencyContact: types.EmergencyContact{
			Name: "Joan", Phone: "+15557654321", Relationship: "daughter",
		},
	}

	after := *before
	after.Address = "456 Oak Ave"
	after.ZoneID = zoneB

	diff := diffClients(before, &after)
	assert.Contains(t, diff, "address")
	assert.Contains(t, diff, "zoneId")
	assert.NotContains(t, diff, "firstName")
	assert.NotContains(t, diff, "phone")
	assert.NotContains(t, diff, "emergencyContact")

	// Identical rows produce an empty diff.
	assert.Empty(t, diffClients(before, before))
}

// TestNullSentinel tests that the PATCH null marker is not forgeable by an
// arbitrary empty struct
func TestNullSentinel(t *testing.T) {
	assert.Equal(t, Null, Null)
	assert.NotEqual(t, Null, struct{}{})
	assert.NotEqual(t, Null, nil)
}

// TestCreateRequiresAdmin tests that onboarding is closed to coordinators
func TestCreateRequiresAdmin(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)

	for _, role := range []types.Role{types.RoleCoordinator, types.RoleCaregiver} {
		meta := Meta{Principal: types.Principal{Role: role, UserID: uuid.New(), ZoneID: uuid.New()}}
		_, _, err := svc.Create(context.Background(), meta, CreateInput{
			FirstName: "Margaret", LastName: "Chen",
		})
		assert.True(t, errs.IsCode(err, errs.CodeUnauthorized), "role %s", role)
	}
}

// TestUpdateZoneChangeNeedsAdmin tests that a coordinator cannot move a
// client between zones, while other fields remain open to them
func TestUpdateZoneChangeNeedsAdmin(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil)
	coordinator := Meta{Principal: types.Principal{
		Role: types.RoleCoordinator, UserID: uuid.New(), ZoneID: uuid.New()}}

	_, err := svc.Update(context.Background(), coordinator, uuid.New(),
		map[string]any{"zoneId": uuid.New()})
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))

	// An explicit null zone is the same request in disguise.
	_, err = svc.Update(context.Background(), coordinator, uuid.New(),
		map[string]any{"zoneId": Null})
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))
}
