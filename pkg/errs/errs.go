package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one member of the closed error-code set exposed by the API.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidEmail       Code = "INVALID_EMAIL"
	CodeWeakPassword       Code = "WEAK_PASSWORD"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeMissingToken       Code = "MISSING_TOKEN"
	CodeInvalidTokenFormat Code = "INVALID_TOKEN_FORMAT"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenRevoked       Code = "TOKEN_REVOKED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeEmailExists        Code = "EMAIL_EXISTS"
	CodeDuplicateClient    Code = "DUPLICATE_CLIENT"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeGeocoding          Code = "GEOCODING_ERROR"
	CodeOutsideServiceArea Code = "OUTSIDE_SERVICE_AREA"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeUnavailable        Code = "SERVICE_UNAVAILABLE"
)

// statusByCode maps every code to its stable HTTP status.
var statusByCode = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeInvalidEmail:       http.StatusBadRequest,
	CodeWeakPassword:       http.StatusBadRequest,
	CodeInvalidTransition:  http.StatusBadRequest,
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeMissingToken:       http.StatusUnauthorized,
	CodeInvalidTokenFormat: http.StatusUnauthorized,
	CodeInvalidToken:       http.StatusUnauthorized,
	CodeTokenExpired:       http.StatusUnauthorized,
	CodeTokenRevoked:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeUnauthorized:       http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeEmailExists:        http.StatusConflict,
	CodeDuplicateClient:    http.StatusConflict,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeGeocoding:          http.StatusBadRequest,
	CodeOutsideServiceArea: http.StatusBadRequest,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusServiceUnavailable,
}

// Error is the typed error returned by services. The HTTP layer is the only
// translator from Error to the response envelope; nothing below it writes
// status codes.
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a new Error. The cause is logged
// server-side and never serialized to clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy carrying structured details (field errors,
// retry hints) serialized into the envelope's details object.
func (e *Error) WithDetails(details any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the stable HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// From extracts a typed Error from err, mapping unknown errors to
// INTERNAL_ERROR so internals never leak into responses.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeInternal, "internal server error", err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// Common sentinel constructors used across services.

// NotFound returns a generic 404. Used both for genuinely missing rows and
// rows the principal is not allowed to know exist.
func NotFound(what string) *Error {
	return Newf(CodeNotFound, "%s not found", what)
}

// Forbidden returns a generic 403 without describing the target.
func Forbidden() *Error {
	return New(CodeForbidden, "access denied")
}

// InvalidCredentials is the single response for unknown email, wrong
// password, and disabled accounts. Enumeration resistance depends on all
// three paths returning this exact value.
func InvalidCredentials() *Error {
	return New(CodeInvalidCredentials, "invalid email or password")
}

// InvalidToken is the single response for every refresh-token failure cause.
func InvalidToken() *Error {
	return New(CodeInvalidToken, "invalid or expired token")
}
