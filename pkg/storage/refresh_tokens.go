package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/types"
)

// RefreshTokenStore persists hashed refresh tokens, one active per
// (user, device).
type RefreshTokenStore struct {
	db *DB
}

// NewRefreshTokenStore creates a refresh token store over the shared pool.
func NewRefreshTokenStore(db *DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

// Replace atomically installs a new token for (user, device), displacing any
// prior record in a single statement so there is never a window with two
// active tokens for the pair.
func (s *RefreshTokenStore) Replace(ctx context.Context, rt *types.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, device_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET id = EXCLUDED.id,
		    token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    revoked_at = NULL,
		    created_at = now()
		RETURNING created_at`
	err := s.db.QueryRowxContext(ctx, query,
		rt.ID, rt.UserID, rt.TokenHash, rt.DeviceID, rt.ExpiresAt,
	).Scan(&rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to replace refresh token: %w", err)
	}
	return nil
}

// GetByHash looks up a token record by the SHA-256 of the raw token.
func (s *RefreshTokenStore) GetByHash(ctx context.Context, hash string) (*types.RefreshToken, error) {
	var rt types.RefreshToken
	query := `SELECT id, user_id, token_hash, device_id, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token_hash = $1`
	if err := s.db.GetContext(ctx, &rt, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks the token for (user, device) revoked. Idempotent: revoking an
// already-revoked or absent token is not an error.
func (s *RefreshTokenStore) Revoke(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = now()
		 WHERE user_id = $1 AND device_id = $2 AND revoked_at IS NULL`,
		userID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// DeleteByHash removes a token row outright. Used when a presented token
// turns out to be expired: the row is dead weight and keeping it only grows
// the table.
func (s *RefreshTokenStore) DeleteByHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired clears tokens past their expiry. Run periodically from the
// server's housekeeping loop.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
