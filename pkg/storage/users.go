package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/types"
)

// UserStore persists user accounts.
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store over the shared pool.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, phone,
	zone_id, is_active, created_at, updated_at, deleted_at`

// Create inserts a new user. Email uniqueness among non-deleted rows is
// enforced by a partial unique index on lower(email).
func (s *UserStore) Create(ctx context.Context, user *types.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, phone, zone_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Role, user.Phone, user.ZoneID, user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", ErrConflict)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByEmail fetches a non-deleted user by case-folded email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	query := `SELECT ` + userColumns + ` FROM users
		WHERE lower(email) = lower($1) AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &user, query, strings.TrimSpace(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// GetByID fetches a non-deleted user.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	var user types.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListByZoneAndRole returns active users of one role in a zone, oldest
// first. The notification gateway uses this to pick coordinator targets.
func (s *UserStore) ListByZoneAndRole(ctx context.Context, zoneID uuid.UUID, role types.Role) ([]*types.User, error) {
	var users []*types.User
	query := `SELECT ` + userColumns + ` FROM users
		WHERE zone_id = $1 AND role = $2 AND is_active AND deleted_at IS NULL
		ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &users, query, zoneID, role); err != nil {
		return nil, fmt.Errorf("failed to list users by zone and role: %w", err)
	}
	return users, nil
}
