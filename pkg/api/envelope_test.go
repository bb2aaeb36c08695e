package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthcare/berthcare/pkg/errs"
)

func requestWithID(method, target, reqID string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
	return r.WithContext(ctx)
}

// TestRespond tests the success envelope
func TestRespond(t *testing.T) {
	w := httptest.NewRecorder()
	respond(w, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"id": "abc"}, body["data"])
	assert.NotContains(t, body, "error")
}

// TestRespondError tests the error envelope shape
func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	r := requestWithID(http.MethodGet, "/v1/clients/x", "req-123")

	respondError(w, r, errs.NotFound("client"))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, "client not found", body.Error.Message)
	assert.Equal(t, "req-123", body.Error.RequestID)

	ts, err := time.Parse(time.RFC3339, body.Error.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

// TestRespondErrorHidesInternals tests that plain errors never leak their
// message to clients
func TestRespondErrorHidesInternals(t *testing.T) {
	w := httptest.NewRecorder()
	r := requestWithID(http.MethodGet, "/v1/visits", "req-456")

	respondError(w, r, assertableError("pq: relation visits does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation visits")
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, w.Body.String(), "internal server error")
}

type assertableError string

func (e assertableError) Error() string { return string(e) }

// TestRespondErrorDetails tests structured detail passthrough
func TestRespondErrorDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := requestWithID(http.MethodPost, "/v1/auth/login", "req-789")

	respondError(w, r, errs.New(errs.CodeRateLimitExceeded, "too many requests").
		WithDetails(map[string]any{"retryAfter": 42}))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Error struct {
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(42), body.Error.Details["retryAfter"])
}

// TestDecodeJSON tests strict body decoding
func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.ca"}`))
	var p payload
	require.NoError(t, decodeJSON(r, &p))
	assert.Equal(t, "a@b.ca", p.Email)

	// Unknown fields are rejected, not silently dropped.
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.ca","rogue":true}`))
	err := decodeJSON(r, &p)
	assert.True(t, errs.IsCode(err, errs.CodeValidation))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	err = decodeJSON(r, &p)
	assert.True(t, errs.IsCode(err, errs.CodeValidation))
}
