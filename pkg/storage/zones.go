package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/types"
)

// ZoneStore reads the zones table. Zones are reference data: written by
// migrations and operations tooling, never by request handlers.
type ZoneStore struct {
	db *DB
}

// NewZoneStore creates a zone store over the shared pool.
func NewZoneStore(db *DB) *ZoneStore {
	return &ZoneStore{db: db}
}

// List returns all zones ordered by name.
func (s *ZoneStore) List(ctx context.Context) ([]*types.Zone, error) {
	var zones []*types.Zone
	query := `SELECT id, name, center_lat, center_lng FROM zones ORDER BY name`
	if err := s.db.SelectContext(ctx, &zones, query); err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	return zones, nil
}

// GetByID fetches one zone.
func (s *ZoneStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Zone, error) {
	var zone types.Zone
	query := `SELECT id, name, center_lat, center_lng FROM zones WHERE id = $1`
	if err := s.db.GetContext(ctx, &zone, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return &zone, nil
}
