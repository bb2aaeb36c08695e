package visits

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

func newMockStores(t *testing.T) (*storage.VisitStore, *storage.ClientStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := &storage.DB{DB: sqlx.NewDb(mockDB, "sqlmock")}
	return storage.NewVisitStore(db), storage.NewClientStore(db), mock
}

var visitColumns = []string{
	"id", "client_id", "staff_id", "scheduled_start_time",
	"check_in_time", "check_in_lat", "check_in_lng",
	"check_out_time", "check_out_lat", "check_out_lng",
	"status", "duration_minutes", "copied_from_visit_id", "created_at", "updated_at",
}

func visitRow(id, clientID, staffID uuid.UUID, status types.VisitStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(visitColumns).AddRow(
		id, clientID, staffID, nil,
		now, nil, nil,
		nil, nil, nil,
		status, nil, nil, now, now)
}

func clientRow(id, zoneID uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "date_of_birth", "address", "latitude",
		"longitude", "phone", "emergency_contact", "zone_id", "created_at", "updated_at",
	}).AddRow(id, "Margaret", "Thompson", time.Date(1942, 3, 14, 0, 0, 0, 0, time.UTC),
		"12 Main St, Toronto, ON", 43.65, -79.38, "+15551234567",
		[]byte(`{"name":"Jean","phone":"+15557654321","relationship":"daughter"}`),
		zoneID, now, now)
}

// TestFilterFingerprint tests cache-key derivation from list filters
func TestFilterFingerprint(t *testing.T) {
	assert.Equal(t, "none", filterFingerprint(ListInput{}))

	clientID := uuid.New()
	staffID := uuid.New()
	status := types.VisitInProgress
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	full := filterFingerprint(ListInput{
		ClientID:  &clientID,
		StaffID:   &staffID,
		Status:    &status,
		StartDate: &start,
		EndDate:   &end,
	})
	assert.Contains(t, full, "c="+clientID.String())
	assert.Contains(t, full, "u="+staffID.String())
	assert.Contains(t, full, "s=in_progress")

	// A staffId filter produces its own cache entry.
	assert.NotEqual(t,
		filterFingerprint(ListInput{StaffID: &staffID}),
		filterFingerprint(ListInput{}))
	assert.Contains(t, full, "f=2026-08-01")
	assert.Contains(t, full, "t=2026-08-31")

	// Different filters never share a fingerprint.
	other := types.VisitCompleted
	assert.NotEqual(t, full, filterFingerprint(ListInput{
		ClientID:  &clientID,
		Status:    &other,
		StartDate: &start,
		EndDate:   &end,
	}))

	// Pagination is not part of the fingerprint; the key builder carries it.
	assert.Equal(t,
		filterFingerprint(ListInput{Status: &status, Page: 1}),
		filterFingerprint(ListInput{Status: &status, Page: 2}))
}

// TestDocumentationDiff tests that the audit diff names sections without
// recording clinical content
func TestDocumentationDiff(t *testing.T) {
	obs := "client alert and oriented"
	diff := documentationDiff(DocumentationInput{
		VitalSigns:   types.JSONMap{"bloodPressure": "120/80"},
		Observations: &obs,
	})

	assert.Contains(t, diff, "vitalSigns")
	assert.Contains(t, diff, "observations")
	assert.NotContains(t, diff, "activities")
	assert.NotContains(t, diff, "concerns")

	// Section names only; never values.
	serialized, err := json.Marshal(diff)
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), "120/80")
	assert.NotContains(t, string(serialized), "alert and oriented")

	assert.Empty(t, documentationDiff(DocumentationInput{}))
}

// TestDurationMinutes tests that visit length truncates to whole minutes
func TestDurationMinutes(t *testing.T) {
	checkIn := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 10, durationMinutes(checkIn, checkIn.Add(10*time.Minute)))
	assert.Equal(t, 10, durationMinutes(checkIn, checkIn.Add(10*time.Minute+30*time.Second)))
	assert.Equal(t, 10, durationMinutes(checkIn, checkIn.Add(10*time.Minute+59*time.Second)))
	assert.Equal(t, 0, durationMinutes(checkIn, checkIn.Add(59*time.Second)))
	assert.Equal(t, 0, durationMinutes(checkIn, checkIn))
}

// TestGetAuthorizesCacheHits tests that a cached detail is no more readable
// than a fresh one
func TestGetAuthorizesCacheHits(t *testing.T) {
	srv := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	svc := NewService(nil, nil, nil, c, nil)
	ctx := context.Background()

	staffID := uuid.New()
	zoneID := uuid.New()
	visitID := uuid.New()
	c.SetJSON(ctx, cache.VisitDetailKey(visitID), &Detail{
		Visit:        &types.Visit{ID: visitID, StaffID: staffID, Status: types.VisitInProgress},
		ClientZoneID: zoneID,
	}, time.Minute)

	_, err := svc.Get(ctx, types.Principal{
		Role: types.RoleCaregiver, UserID: uuid.New(), ZoneID: zoneID}, visitID)
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))

	_, err = svc.Get(ctx, types.Principal{
		Role: types.RoleCoordinator, UserID: uuid.New(), ZoneID: uuid.New()}, visitID)
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))

	detail, err := svc.Get(ctx, types.Principal{
		Role: types.RoleCaregiver, UserID: staffID, ZoneID: zoneID}, visitID)
	require.NoError(t, err)
	assert.Equal(t, visitID, detail.Visit.ID)
}

// TestSmartCopyCrossClientForbidden tests that documentation never seeds
// across clients, regardless of the caller's role
func TestSmartCopyCrossClientForbidden(t *testing.T) {
	visitStore, clientStore, mock := newMockStores(t)
	svc := NewService(visitStore, clientStore, nil, nil, nil)

	clientID := uuid.New()
	caregiverID := uuid.New()
	sourceID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs(sourceID).
		WillReturnRows(visitRow(sourceID, uuid.New(), caregiverID, types.VisitCompleted))

	doc := &types.VisitDocumentation{Activities: types.Activities{}}
	err := svc.seedFromSource(context.Background(),
		types.Principal{Role: types.RoleCaregiver, UserID: caregiverID},
		clientID, sourceID, doc)
	assert.True(t, errs.IsCode(err, errs.CodeForbidden))
	assert.Empty(t, doc.Activities)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSmartCopySeedsVerbatim tests that the copied activity list keeps
// completion marks and times exactly as the source recorded them
func TestSmartCopySeedsVerbatim(t *testing.T) {
	visitStore, clientStore, mock := newMockStores(t)
	svc := NewService(visitStore, clientStore, nil, nil, nil)

	clientID := uuid.New()
	caregiverID := uuid.New()
	zoneID := uuid.New()
	sourceID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM visits").
		WithArgs(sourceID).
		WillReturnRows(visitRow(sourceID, clientID, caregiverID, types.VisitCompleted))
	mock.ExpectQuery("SELECT (.+) FROM clients").
		WithArgs(clientID).
		WillReturnRows(clientRow(clientID, zoneID))
	mock.ExpectQuery("SELECT (.+) FROM visit_documentation").
		WithArgs(sourceID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "visit_id", "vital_signs", "activities", "observations",
			"concerns", "signature_url", "created_at", "updated_at",
		}).AddRow(uuid.New(), sourceID, []byte(`{"bloodPressure":"130/85"}`),
			[]byte(`[{"activity":"Bathing","completed":true,"time":"09:15"},{"activity":"Medication","completed":false}]`),
			"resting comfortably", "", "", now, now))

	doc := &types.VisitDocumentation{VitalSigns: types.JSONMap{}, Activities: types.Activities{}}
	err := svc.seedFromSource(context.Background(),
		types.Principal{Role: types.RoleCaregiver, UserID: caregiverID, ZoneID: zoneID},
		clientID, sourceID, doc)
	require.NoError(t, err)

	require.Len(t, doc.Activities, 2)
	assert.Equal(t, "Bathing", doc.Activities[0].Activity)
	assert.True(t, doc.Activities[0].Completed)
	assert.Equal(t, "09:15", doc.Activities[0].Time)
	assert.False(t, doc.Activities[1].Completed)
	assert.Equal(t, "resting comfortably", doc.Observations)

	// Vitals are always recorded fresh.
	assert.Empty(t, doc.VitalSigns)
	assert.NoError(t, mock.ExpectationsWereMet())
}
