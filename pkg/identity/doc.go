/*
Package identity implements account registration, login, token refresh, and
logout.

Sessions are a pair of RS256 JWTs: a 1-hour access token and a 30-day
refresh token bound to the requesting device. The server persists only the
SHA-256 of each refresh token, one live row per (user, device); issuing a new
pair replaces the device's row. Logout revokes the refresh row and pushes the
access token onto the Redis blacklist for its remaining lifetime.

Enumeration resistance is a hard rule here: unknown email, wrong password,
and disabled accounts all return INVALID_CREDENTIALS, with a decoy bcrypt
comparison on the unknown-email path so timing matches; every refresh-token
failure cause returns INVALID_TOKEN.
*/
package identity
