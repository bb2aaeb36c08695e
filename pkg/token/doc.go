/*
Package token mints and verifies BerthCare's RS256 bearer tokens.

Two token kinds share the signing key set from pkg/security:

  - Access tokens: 1-hour TTL, carry the principal (userId, role, zoneId,
    deviceId, email). Verified on every protected request.
  - Refresh tokens: 30-day TTL, carry a tokenId for revocation bookkeeping.
    The raw token is handed to the client once; the server persists only its
    SHA-256 (token.Hash) so a database leak cannot replay sessions.

Signing always uses the active key and stamps its kid in the header.
Verification resolves the header kid against the key set and falls back to
trying every known public key when the kid is missing or unknown, which keeps
tokens minted before a key rotation valid until they expire.

Failures map to four typed errors (ErrMalformed, ErrSignatureInvalid,
ErrExpired, ErrUnknownKid). Callers log the specific cause and return a
collapsed generic code to the client.
*/
package token
