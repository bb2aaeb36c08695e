package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/storage"
)

// TestRegisterRequiresBearer tests that registration sits behind bearer
// authentication like every other admin operation
func TestRegisterRequiresBearer(t *testing.T) {
	s, _ := authTestServer(t)
	router := s.publicRouter()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/register",
		httpBody(`{"email":"new@berthcare.ca","password":"SecurePass1","firstName":"Sam","lastName":"Park","role":"caregiver","deviceId":"device-1"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_TOKEN")
}

// TestHealthBody tests the health payload shape and the degraded response
func TestHealthBody(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	srv := miniredis.RunT(t)
	s := &Server{
		db:    &storage.DB{DB: sqlx.NewDb(mockDB, "sqlmock")},
		cache: cache.NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()})),
	}

	mock.ExpectPing()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"services"`)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, w.Body.String(), `"redis":"ok"`)

	// Redis loss degrades the whole service.
	mock.ExpectPing()
	srv.Close()
	w = httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unreachable")
}
