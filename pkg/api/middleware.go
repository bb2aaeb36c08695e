package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
	"github.com/berthcare/berthcare/pkg/token"
	"github.com/berthcare/berthcare/pkg/types"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	accessKey    contextKey = "accessToken"
	expiryKey    contextKey = "accessExpiry"
)

// principalFrom returns the authenticated principal stored by requireAuth.
func principalFrom(ctx context.Context) types.Principal {
	p, _ := ctx.Value(principalKey).(types.Principal)
	return p
}

// requestLogger emits one structured completion entry per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		event := log.Logger.Info()
		if ww.Status() >= 500 {
			event = log.Logger.Error()
		}
		entry := event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("remote_ip", r.RemoteAddr)
		if p := principalFrom(r.Context()); p.UserID != uuid.Nil {
			entry = entry.Str("user_id", p.UserID.String())
		}
		entry.Msg("Request completed")

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(duration.Seconds())
	})
}

// requireAuth verifies the bearer token, rejects blacklisted tokens, and
// attaches the principal to the request context. Missing, malformed,
// expired, and revoked tokens each map to their own code from the closed
// set.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondError(w, r, errs.New(errs.CodeMissingToken, "authorization header is required"))
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			respondError(w, r, errs.New(errs.CodeInvalidTokenFormat, "authorization header must be a bearer token"))
			return
		}

		claims, err := s.tokens.VerifyAccess(raw)
		if err != nil {
			respondError(w, r, mapTokenError(err))
			return
		}
		if s.blacklist.IsRevoked(r.Context(), raw) {
			respondError(w, r, errs.New(errs.CodeTokenRevoked, "token has been revoked"))
			return
		}

		principal := types.Principal{
			UserID:   claims.UserID,
			Role:     claims.Role,
			Email:    claims.Email,
			DeviceID: claims.DeviceID,
		}
		if claims.ZoneID != "" {
			if zoneID, err := uuid.Parse(claims.ZoneID); err == nil {
				principal.ZoneID = zoneID
			}
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = context.WithValue(ctx, accessKey, raw)
		if claims.ExpiresAt != nil {
			ctx = context.WithValue(ctx, expiryKey, claims.ExpiresAt.Time)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return errs.New(errs.CodeTokenExpired, "token has expired")
	case errors.Is(err, token.ErrMalformed):
		return errs.New(errs.CodeInvalidTokenFormat, "token is malformed")
	default:
		return errs.New(errs.CodeInvalidToken, "token is not valid")
	}
}

// rateLimit applies a fixed-window policy keyed by client IP, advertising
// the window state in X-RateLimit headers.
func (s *Server) rateLimit(policy cache.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := s.limiter.Allow(r.Context(), policy, clientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondError(w, r, errs.New(errs.CodeRateLimitExceeded, "too many requests").
					WithDetails(map[string]any{"retryAfter": retryAfter}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr from the
// forwarding headers.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return host
}

// bodyLimit caps request bodies. Uploads never pass through this server, so
// the ceiling is generous for documentation payloads and nothing else.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// recoverPanic converts handler panics into INTERNAL_ERROR envelopes.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Logger.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Msg("Handler panicked")
				respondError(w, r, errs.Wrap(errs.CodeInternal, "internal server error",
					fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
