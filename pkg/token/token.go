package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/security"
	"github.com/berthcare/berthcare/pkg/types"
)

const (
	Issuer   = "berthcare-api"
	Audience = "berthcare-app"

	AccessTTL  = time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

var (
	// ErrMalformed means the token is not a parseable JWT.
	ErrMalformed = errors.New("malformed token")
	// ErrSignatureInvalid means no known key verifies the signature, or the
	// issuer/audience do not match.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired means the token was valid but is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrUnknownKid means the token names a kid this server has never held.
	ErrUnknownKid = errors.New("unknown signing key id")
)

// AccessClaims is the access-token claim set. Verified claims become the
// request principal.
type AccessClaims struct {
	UserID   uuid.UUID  `json:"userId"`
	Role     types.Role `json:"role"`
	ZoneID   string     `json:"zoneId,omitempty"`
	DeviceID string     `json:"deviceId"`
	Email    string     `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token claim set. TokenID identifies the
// server-side row for revocation bookkeeping; the row lookup key is the
// SHA-256 of the raw token, not the claim.
type RefreshClaims struct {
	UserID   uuid.UUID  `json:"userId"`
	Role     types.Role `json:"role"`
	ZoneID   string     `json:"zoneId,omitempty"`
	DeviceID string     `json:"deviceId"`
	TokenID  uuid.UUID  `json:"tokenId"`
	jwt.RegisteredClaims
}

// Service mints and verifies RS256 access and refresh tokens.
type Service struct {
	keys       *security.KeySet
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService creates a token service over the given key set.
func NewService(keys *security.KeySet) *Service {
	return &Service{
		keys:       keys,
		accessTTL:  AccessTTL,
		refreshTTL: RefreshTTL,
		now:        time.Now,
	}
}

// MintAccess issues a 1-hour access token for the user on the given device.
// Claims are taken from the user row passed in, never from a prior token.
func (s *Service) MintAccess(user *types.User, deviceID string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)

	claims := &AccessClaims{
		UserID:   user.ID,
		Role:     user.Role,
		ZoneID:   zoneClaim(user.ZoneID),
		DeviceID: deviceID,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// MintRefresh issues a 30-day refresh token. The raw token is returned to the
// caller exactly once; persist only its SHA-256 (Hash).
func (s *Service) MintRefresh(user *types.User, deviceID string) (raw string, tokenID uuid.UUID, expiresAt time.Time, err error) {
	now := s.now().UTC()
	tokenID = uuid.New()
	expiresAt = now.Add(s.refreshTTL)

	claims := &RefreshClaims{
		UserID:   user.ID,
		Role:     user.Role,
		ZoneID:   zoneClaim(user.ZoneID),
		DeviceID: deviceID,
		TokenID:  tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err = s.sign(claims)
	if err != nil {
		return "", uuid.Nil, time.Time{}, err
	}
	return raw, tokenID, expiresAt, nil
}

func (s *Service) sign(claims jwt.Claims) (string, error) {
	active := s.keys.Active()
	if active == nil {
		return "", fmt.Errorf("no active signing key")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = active.Kid

	signed, err := tok.SignedString(active.Private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, issuer, audience, and expiry of an access
// token and returns its claims.
func (s *Service) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.verify(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token's JWT layer. Callers must still
// check the stored hash before trusting it.
func (s *Service) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.verify(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) verify(raw string, claims jwt.Claims) error {
	parser := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}

	_, err := jwt.ParseWithClaims(raw, claims, s.keyFunc, parser...)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, ErrUnknownKid):
		// The header kid is unknown; try every key we hold. Covers tokens
		// minted before a rotation changed kids.
		return s.verifyWithFallback(raw, claims, parser)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}

func (s *Service) verifyWithFallback(raw string, claims jwt.Claims, opts []jwt.ParserOption) error {
	for _, pub := range s.keys.PublicKeys() {
		key := pub
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, opts...)
		if err == nil {
			return nil
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
	}
	return ErrUnknownKid
}

// keyFunc picks the public key named by the token header kid.
func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrUnknownKid
	}
	pub, ok := s.keys.Public(kid)
	if !ok {
		return nil, ErrUnknownKid
	}
	return pub, nil
}

// Hash returns the hex SHA-256 of a raw refresh token. Only this digest is
// ever persisted.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func zoneClaim(zoneID *uuid.UUID) string {
	if zoneID == nil {
		return ""
	}
	return zoneID.String()
}
