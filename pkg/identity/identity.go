package identity

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/authz"
	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/security"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/token"
	"github.com/berthcare/berthcare/pkg/types"
)

// Service implements registration, login, refresh, and logout. All failure
// paths that could reveal whether an account exists collapse into
// INVALID_CREDENTIALS or INVALID_TOKEN.
type Service struct {
	users     *storage.UserStore
	refresh   *storage.RefreshTokenStore
	zones     *storage.ZoneStore
	tokens    *token.Service
	hasher    *security.Hasher
	blacklist *cache.Blacklist
	now       func() time.Time
}

// NewService wires the identity service.
func NewService(users *storage.UserStore, refresh *storage.RefreshTokenStore, zones *storage.ZoneStore, tokens *token.Service, hasher *security.Hasher, blacklist *cache.Blacklist) *Service {
	return &Service{
		users:     users,
		refresh:   refresh,
		zones:     zones,
		tokens:    tokens,
		hasher:    hasher,
		blacklist: blacklist,
		now:       time.Now,
	}
}

// TokenPair is the credential set returned by register, login, and refresh.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RegisterInput carries a validated registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      types.Role
	ZoneID    *uuid.UUID
	DeviceID  string
}

// Register creates an account and signs the new user in on the requesting
// device. Only admins provision accounts; the issued pair belongs to the new
// user, not the admin who created it.
func (s *Service) Register(ctx context.Context, p types.Principal, in RegisterInput) (*types.User, *TokenPair, error) {
	if err := authz.RequireRole(p, types.RoleAdmin); err != nil {
		return nil, nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !validEmail(email) {
		return nil, nil, errs.New(errs.CodeInvalidEmail, "email address is not valid")
	}
	if err := checkPasswordStrength(in.Password); err != nil {
		return nil, nil, err
	}
	if !in.Role.Valid() {
		return nil, nil, errs.Newf(errs.CodeValidation, "unknown role %q", in.Role)
	}
	if in.Role.RequiresZone() {
		if in.ZoneID == nil {
			return nil, nil, errs.Newf(errs.CodeValidation, "role %s requires a zone", in.Role)
		}
		if _, err := s.zones.GetByID(ctx, *in.ZoneID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, errs.New(errs.CodeValidation, "zone does not exist")
			}
			return nil, nil, err
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &types.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         in.Role,
		ZoneID:       in.ZoneID,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, nil, errs.New(errs.CodeEmailExists, "an account with this email already exists")
		}
		return nil, nil, err
	}

	pair, err := s.issue(ctx, user, in.DeviceID)
	if err != nil {
		return nil, nil, err
	}

	log.Logger.Info().
		Str("component", "identity").
		Str("user_id", user.ID.String()).
		Str("role", string(user.Role)).
		Msg("User registered")
	return user, pair, nil
}

// Login verifies credentials and issues a token pair bound to the device.
// Unknown email, wrong password, and disabled accounts are indistinguishable
// to the caller; the bcrypt comparison runs on every path so timing does not
// distinguish them either.
func (s *Service) Login(ctx context.Context, email, password, deviceID string) (*types.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Verify(decoyHash, password)
			return nil, nil, errs.InvalidCredentials()
		}
		return nil, nil, err
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		return nil, nil, errs.InvalidCredentials()
	}
	if !user.IsActive {
		return nil, nil, errs.InvalidCredentials()
	}

	pair, err := s.issue(ctx, user, deviceID)
	if err != nil {
		return nil, nil, err
	}

	log.Logger.Info().
		Str("component", "identity").
		Str("user_id", user.ID.String()).
		Str("device_id", deviceID).
		Msg("User logged in")
	return user, pair, nil
}

// decoyHash is a valid bcrypt digest of a random string, compared against
// when the email is unknown so both login failure paths cost one bcrypt
// verification.
const decoyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Refresh exchanges a valid refresh token for a new access token. Every
// failure cause returns INVALID_TOKEN. The refresh token itself is not
// rotated; the device keeps it until logout or expiry.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, errs.InvalidToken()
	}

	row, err := s.refresh.GetByHash(ctx, token.Hash(rawRefresh))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.InvalidToken()
		}
		return nil, err
	}
	if row.RevokedAt != nil {
		return nil, errs.InvalidToken()
	}
	if s.now().UTC().After(row.ExpiresAt) {
		// The row is dead weight once its expiry has passed; drop it so the
		// table only holds live tokens.
		if err := s.refresh.DeleteByHash(ctx, row.TokenHash); err != nil {
			log.Logger.Warn().Err(err).
				Str("component", "identity").
				Msg("Failed to delete expired refresh token")
		}
		return nil, errs.InvalidToken()
	}
	if row.DeviceID != claims.DeviceID || row.UserID != claims.UserID {
		return nil, errs.InvalidToken()
	}

	// Claims for the new access token come from the current user row, so a
	// role or zone change takes effect at the next refresh.
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.InvalidToken()
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, errs.InvalidToken()
	}

	access, expiresAt, err := s.tokens.MintAccess(user, claims.DeviceID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, ExpiresAt: expiresAt}, nil
}

// Logout revokes the device's refresh token and blacklists the presented
// access token for its remaining lifetime. Safe to repeat.
func (s *Service) Logout(ctx context.Context, p types.Principal, rawAccess string, accessExpiresAt time.Time) error {
	if err := s.refresh.Revoke(ctx, p.UserID, p.DeviceID); err != nil {
		return err
	}

	if remaining := accessExpiresAt.Sub(s.now()); remaining > 0 {
		if err := s.blacklist.Revoke(ctx, rawAccess, remaining); err != nil {
			return err
		}
	}

	log.Logger.Info().
		Str("component", "identity").
		Str("user_id", p.UserID.String()).
		Str("device_id", p.DeviceID).
		Msg("User logged out")
	return nil
}

// Me returns the current user row for the principal.
func (s *Service) Me(ctx context.Context, p types.Principal) (*types.User, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("user")
		}
		return nil, err
	}
	return user, nil
}

// issue mints an access and refresh pair and replaces the device's
// server-side refresh row. One live refresh token per (user, device).
func (s *Service) issue(ctx context.Context, user *types.User, deviceID string) (*TokenPair, error) {
	access, accessExpiry, err := s.tokens.MintAccess(user, deviceID)
	if err != nil {
		return nil, err
	}
	rawRefresh, tokenID, refreshExpiry, err := s.tokens.MintRefresh(user, deviceID)
	if err != nil {
		return nil, err
	}

	if err := s.refresh.Replace(ctx, &types.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		TokenHash: token.Hash(rawRefresh),
		DeviceID:  deviceID,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		ExpiresAt:    accessExpiry,
	}, nil
}

// RunHousekeeping sweeps expired refresh tokens until the context ends.
// Expired rows presented at refresh are deleted inline; this catches the rows
// whose devices never came back.
func (s *Service) RunHousekeeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Service) sweepExpired(ctx context.Context) {
	n, err := s.refresh.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "identity").
			Msg("Failed to sweep expired refresh tokens")
		return
	}
	if n > 0 {
		log.Logger.Info().
			Str("component", "identity").
			Int64("deleted", n).
			Msg("Swept expired refresh tokens")
	}
}

// checkPasswordStrength enforces the registration password policy: at least
// eight characters with an upper-case letter, a lower-case letter, and a
// digit.
func checkPasswordStrength(password string) error {
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if len(password) < 8 || !hasUpper || !hasLower || !hasDigit {
		return errs.New(errs.CodeWeakPassword,
			"password must be at least 8 characters with upper case, lower case, and a digit")
	}
	return nil
}

// validEmail is a structural check, not RFC 5322: one @, non-empty local
// part, and a dot in the domain.
func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}
