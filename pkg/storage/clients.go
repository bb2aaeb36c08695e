package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/berthcare/berthcare/pkg/types"
)

// ClientStore persists clients and their care plans.
type ClientStore struct {
	db *DB
}

// NewClientStore creates a client store over the shared pool.
func NewClientStore(db *DB) *ClientStore {
	return &ClientStore{db: db}
}

const clientColumns = `id, first_name, last_name, date_of_birth, address, latitude,
	longitude, phone, emergency_contact, zone_id, created_at, updated_at`

// Create inserts a client and its default care plan (version 1, empty lists)
// in one transaction, so a client row never exists without a plan.
func (s *ClientStore) Create(ctx context.Context, client *types.Client) (*types.CarePlan, error) {
	plan := &types.CarePlan{
		ID:          uuid.New(),
		ClientID:    client.ID,
		Medications: types.Medications{},
		Allergies:   types.Allergies{},
		Version:     1,
	}

	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		insertClient := `
			INSERT INTO clients (id, first_name, last_name, date_of_birth, address,
			                     latitude, longitude, phone, emergency_contact, zone_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`
		err := tx.QueryRowxContext(ctx, insertClient,
			client.ID, client.FirstName, client.LastName, client.DateOfBirth,
			client.Address, client.Latitude, client.Longitude, client.Phone,
			client.EmergencyContact, client.ZoneID,
		).Scan(&client.CreatedAt, &client.UpdatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("client already exists: %w", ErrConflict)
			}
			return fmt.Errorf("failed to insert client: %w", err)
		}

		insertPlan := `
			INSERT INTO care_plans (id, client_id, medications, allergies, version)
			VALUES ($1, $2, $3, $4, 1)
			RETURNING created_at, updated_at`
		err = tx.QueryRowxContext(ctx, insertPlan,
			plan.ID, plan.ClientID, plan.Medications, plan.Allergies,
		).Scan(&plan.CreatedAt, &plan.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert default care plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// GetByID fetches one client.
func (s *ClientStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Client, error) {
	var client types.Client
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	if err := s.db.GetContext(ctx, &client, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

// FindDuplicate applies the uniqueness heuristic: same case-folded name and
// date of birth. Returns ErrNotFound when no duplicate exists.
func (s *ClientStore) FindDuplicate(ctx context.Context, firstName, lastName string, dob time.Time) (*types.Client, error) {
	var client types.Client
	query := `SELECT ` + clientColumns + ` FROM clients
		WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
		  AND date_of_birth = $3`
	if err := s.db.GetContext(ctx, &client, query, firstName, lastName, dob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to check for duplicate client: %w", err)
	}
	return &client, nil
}

// ClientFilter narrows List.
type ClientFilter struct {
	ZoneID *uuid.UUID
	Search string // matches name prefix, case-insensitive
	Page   int
	Limit  int
}

// List returns one page of clients plus the total row count for pagination.
func (s *ClientStore) List(ctx context.Context, f ClientFilter) ([]*types.Client, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if f.ZoneID != nil {
		args = append(args, *f.ZoneID)
		where = append(where, fmt.Sprintf("zone_id = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, f.Search+"%")
		where = append(where, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT count(*) FROM clients WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count clients: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`SELECT %s FROM clients WHERE %s
		ORDER BY last_name, first_name
		LIMIT $%d OFFSET $%d`, clientColumns, cond, len(args)-1, len(args))

	var clients []*types.Client
	if err := s.db.SelectContext(ctx, &clients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, total, nil
}

// clientColumnWhitelist maps PATCH field names to columns for the dynamic
// UPDATE. Anything not listed here cannot be written through Update.
var clientColumnWhitelist = map[string]string{
	"firstName":        "first_name",
	"lastName":         "last_name",
	"dateOfBirth":      "date_of_birth",
	"address":          "address",
	"latitude":         "latitude",
	"longitude":        "longitude",
	"phone":            "phone",
	"emergencyContact": "emergency_contact",
	"zoneId":           "zone_id",
}

// Update builds a dynamic UPDATE from the provided field set. Column names
// come only from the whitelist; values are always bound parameters.
func (s *ClientStore) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	sets := make([]string, 0, len(fields)+1)
	args := []any{id}
	for name, value := range fields {
		col, ok := clientColumnWhitelist[name]
		if !ok {
			return fmt.Errorf("field %q is not updatable", name)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE clients SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("client already exists: %w", ErrConflict)
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCarePlan fetches the client's current care plan.
func (s *ClientStore) GetCarePlan(ctx context.Context, clientID uuid.UUID) (*types.CarePlan, error) {
	var plan types.CarePlan
	query := `SELECT id, client_id, summary, medications, allergies, special_instructions,
		version, created_at, updated_at
		FROM care_plans WHERE client_id = $1`
	if err := s.db.GetContext(ctx, &plan, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get care plan: %w", err)
	}
	return &plan, nil
}

// UpsertCarePlan replaces the client's care plan content and bumps version.
// Exactly one current plan per client is guaranteed by the unique client_id.
func (s *ClientStore) UpsertCarePlan(ctx context.Context, plan *types.CarePlan) error {
	query := `
		INSERT INTO care_plans (id, client_id, summary, medications, allergies, special_instructions, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (client_id) DO UPDATE
		SET summary = EXCLUDED.summary,
		    medications = EXCLUDED.medications,
		    allergies = EXCLUDED.allergies,
		    special_instructions = EXCLUDED.special_instructions,
		    version = care_plans.version + 1,
		    updated_at = now()
		RETURNING id, version, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		plan.ID, plan.ClientID, plan.Summary, plan.Medications, plan.Allergies,
		plan.SpecialInstructions,
	).Scan(&plan.ID, &plan.Version, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert care plan: %w", err)
	}
	return nil
}
