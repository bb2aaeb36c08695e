package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatusByCode tests that every code maps to a stable HTTP status
func TestStatusByCode(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidEmail, http.StatusBadRequest},
		{CodeWeakPassword, http.StatusBadRequest},
		{CodeInvalidTransition, http.StatusBadRequest},
		{CodeInvalidCredentials, http.StatusUnauthorized},
		{CodeMissingToken, http.StatusUnauthorized},
		{CodeInvalidTokenFormat, http.StatusUnauthorized},
		{CodeInvalidToken, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeTokenRevoked, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeUnauthorized, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeEmailExists, http.StatusConflict},
		{CodeDuplicateClient, http.StatusConflict},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeGeocoding, http.StatusBadRequest},
		{CodeOutsideServiceArea, http.StatusBadRequest},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, New(tt.code, "x").Status())
		})
	}

	// Unknown codes never escape as anything but 500.
	assert.Equal(t, http.StatusInternalServerError, New(Code("MYSTERY"), "x").Status())
}

// TestFrom tests extraction and the internal-error fallback
func TestFrom(t *testing.T) {
	typed := New(CodeNotFound, "client not found")
	assert.Equal(t, typed, From(typed))

	// Wrapped typed errors unwrap to the original.
	wrapped := fmt.Errorf("loading client: %w", typed)
	assert.Equal(t, typed, From(wrapped))

	// Plain errors become INTERNAL_ERROR and keep the cause for logging.
	plain := errors.New("pq: connection refused")
	got := From(plain)
	assert.Equal(t, CodeInternal, got.Code)
	assert.Equal(t, "internal server error", got.Message)
	assert.ErrorIs(t, got, plain)
}

// TestIsCode tests code matching through wrap chains
func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "no"))
	assert.True(t, IsCode(err, CodeForbidden))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), CodeForbidden))
	assert.False(t, IsCode(nil, CodeForbidden))
}

// TestWithDetails tests that details attach to a copy, not the original
func TestWithDetails(t *testing.T) {
	base := New(CodeValidation, "bad request")
	detailed := base.WithDetails(map[string]any{"field": "email"})

	assert.Nil(t, base.Details)
	require.NotNil(t, detailed.Details)
	assert.Equal(t, base.Code, detailed.Code)
	assert.Equal(t, base.Message, detailed.Message)
}

// TestWrapPreservesCause tests cause propagation into errors.Is
func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := Wrap(CodeGeocoding, "geocoding request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "GEOCODING_ERROR")
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

// TestSentinelConstructors tests the shared constructors keep their exact
// messages; enumeration resistance depends on them being identical everywhere
func TestSentinelConstructors(t *testing.T) {
	assert.Equal(t, "invalid email or password", InvalidCredentials().Message)
	assert.Equal(t, CodeInvalidCredentials, InvalidCredentials().Code)

	assert.Equal(t, "invalid or expired token", InvalidToken().Message)
	assert.Equal(t, CodeInvalidToken, InvalidToken().Code)

	assert.Equal(t, "client not found", NotFound("client").Message)
	assert.Equal(t, CodeForbidden, Forbidden().Code)
}
