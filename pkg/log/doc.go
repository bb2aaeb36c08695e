/*
Package log provides structured logging for BerthCare using zerolog.

The log package configures a single global zerolog logger with JSON or
console output and a configurable level. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Str("visit_id", visitID).
		Int("photo_count", 3).
		Msg("Visit completed")

Callers tag lines with a component field, and request-scoped events carry
request_id and user_id so a single request can be traced across the
middleware chain, services, and side effects:

	log.Logger.Warn().
		Str("component", "identity").
		Str("request_id", requestID).
		Msg("Login failed")

# Security

Never log passwords, password hashes, raw tokens, or pre-signed URLs. Token
validation failures are logged with a reason field for operators while the
HTTP response collapses them into a single generic code.
*/
package log
