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

// VisitStore persists visits, their documentation, and photo links.
type VisitStore struct {
	db *DB
}

// NewVisitStore creates a visit store over the shared pool.
func NewVisitStore(db *DB) *VisitStore {
	return &VisitStore{db: db}
}

const visitColumns = `id, client_id, staff_id, scheduled_start_time,
	check_in_time, check_in_lat, check_in_lng,
	check_out_time, check_out_lat, check_out_lng,
	status, duration_minutes, copied_from_visit_id, created_at, updated_at`

// Create inserts a visit and its empty documentation row in one transaction.
// When seed documentation is provided (smart copy) it is written instead of
// the empty row.
func (s *VisitStore) Create(ctx context.Context, visit *types.Visit, doc *types.VisitDocumentation) error {
	return s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		insertVisit := `
			INSERT INTO visits (id, client_id, staff_id, scheduled_start_time,
			                    check_in_time, check_in_lat, check_in_lng,
			                    status, copied_from_visit_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at`
		err := tx.QueryRowxContext(ctx, insertVisit,
			visit.ID, visit.ClientID, visit.StaffID, visit.ScheduledStartTime,
			visit.CheckInTime, visit.CheckInLat, visit.CheckInLng,
			visit.Status, visit.CopiedFromVisitID,
		).Scan(&visit.CreatedAt, &visit.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert visit: %w", err)
		}

		insertDoc := `
			INSERT INTO visit_documentation (id, visit_id, vital_signs, activities, observations, concerns)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at`
		err = tx.QueryRowxContext(ctx, insertDoc,
			doc.ID, doc.VisitID, doc.VitalSigns, doc.Activities,
			doc.Observations, doc.Concerns,
		).Scan(&doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert visit documentation: %w", err)
		}
		return nil
	})
}

// GetByID fetches one visit.
func (s *VisitStore) GetByID(ctx context.Context, id uuid.UUID) (*types.Visit, error) {
	var visit types.Visit
	query := `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`
	if err := s.db.GetContext(ctx, &visit, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return &visit, nil
}

// VisitFilter narrows List.
type VisitFilter struct {
	ClientID  *uuid.UUID
	StaffID   *uuid.UUID
	ZoneID    *uuid.UUID // joins through clients
	Status    *types.VisitStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// List returns one page of visits plus the total count. Zone filtering joins
// through the client row, so the caller's zone predicate is enforced in SQL.
func (s *VisitStore) List(ctx context.Context, f VisitFilter) ([]*types.Visit, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ClientID != nil {
		add("v.client_id = $%d", *f.ClientID)
	}
	if f.StaffID != nil {
		add("v.staff_id = $%d", *f.StaffID)
	}
	if f.ZoneID != nil {
		add("c.zone_id = $%d", *f.ZoneID)
	}
	if f.Status != nil {
		add("v.status = $%d", *f.Status)
	}
	if f.StartDate != nil {
		add("v.created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("v.created_at < $%d", *f.EndDate)
	}
	cond := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT count(*) FROM visits v JOIN clients c ON c.id = v.client_id WHERE ` + cond
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count visits: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT v.* FROM visits v
			JOIN clients c ON c.id = v.client_id
			WHERE %s
			ORDER BY v.created_at DESC
			LIMIT $%d OFFSET $%d
		) AS visits`, visitColumns, cond, len(args)-1, len(args))

	var visits []*types.Visit
	if err := s.db.SelectContext(ctx, &visits, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, total, nil
}

// Transition moves a visit between statuses with the legal-predecessor guard
// in the WHERE clause. Zero rows affected means the transition was illegal
// (or the visit is gone); callers map that to InvalidTransition.
func (s *VisitStore) Transition(ctx context.Context, id uuid.UUID, to types.VisitStatus) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return fmt.Errorf("status %s has no legal predecessors", to)
	}

	args := []any{id, to}
	holders := make([]string, len(preds))
	for i, p := range preds {
		args = append(args, p)
		holders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := fmt.Sprintf(
		`UPDATE visits SET status = $2, updated_at = now()
		 WHERE id = $1 AND status IN (%s)`, strings.Join(holders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition visit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CompleteCheckOut finishes a visit in one transaction: the conditional move
// to completed, the check-out fields, and the optional signature commit all
// land together or not at all. ErrConflict means the visit was not in
// progress.
func (s *VisitStore) CompleteCheckOut(ctx context.Context, id uuid.UUID, at time.Time, lat, lng *float64, durationMinutes *int, signatureURL *string) error {
	return s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE visits
			 SET status = $2, check_out_time = $3, check_out_lat = $4,
			     check_out_lng = $5, duration_minutes = $6, updated_at = now()
			 WHERE id = $1 AND status = $7`,
			id, types.VisitCompleted, at, lat, lng, durationMinutes, types.VisitInProgress)
		if err != nil {
			return fmt.Errorf("failed to record check-out: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		if signatureURL != nil {
			return upsertDocumentation(ctx, tx, id, nil, nil, nil, nil, signatureURL)
		}
		return nil
	})
}

// GetDocumentation fetches a visit's documentation row.
func (s *VisitStore) GetDocumentation(ctx context.Context, visitID uuid.UUID) (*types.VisitDocumentation, error) {
	var doc types.VisitDocumentation
	query := `SELECT id, visit_id, vital_signs, activities, observations, concerns,
		signature_url, created_at, updated_at
		FROM visit_documentation WHERE visit_id = $1`
	if err := s.db.GetContext(ctx, &doc, query, visitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get visit documentation: %w", err)
	}
	return &doc, nil
}

// UpsertDocumentation merges provided documentation fields into the visit's
// row. Nil fields are left untouched (COALESCE), so partial PATCHes do not
// clobber earlier entries.
func (s *VisitStore) UpsertDocumentation(ctx context.Context, visitID uuid.UUID, vitals types.JSONMap, activities types.Activities, observations, concerns, signatureURL *string) error {
	return upsertDocumentation(ctx, s.db.DB, visitID, vitals, activities, observations, concerns, signatureURL)
}

func upsertDocumentation(ctx context.Context, db sqlx.ExtContext, visitID uuid.UUID, vitals types.JSONMap, activities types.Activities, observations, concerns, signatureURL *string) error {
	query := `
		INSERT INTO visit_documentation (id, visit_id, vital_signs, activities, observations, concerns, signature_url)
		VALUES ($1, $2, COALESCE($3, '{}'::jsonb), COALESCE($4, '[]'::jsonb),
		        COALESCE($5, ''), COALESCE($6, ''), COALESCE($7, ''))
		ON CONFLICT (visit_id) DO UPDATE
		SET vital_signs = COALESCE($3, visit_documentation.vital_signs),
		    activities = COALESCE($4, visit_documentation.activities),
		    observations = COALESCE($5, visit_documentation.observations),
		    concerns = COALESCE($6, visit_documentation.concerns),
		    signature_url = COALESCE($7, visit_documentation.signature_url),
		    updated_at = now()`

	var vitalsArg, activitiesArg any
	if vitals != nil {
		vitalsArg = vitals
	}
	if activities != nil {
		activitiesArg = activities
	}

	_, err := db.ExecContext(ctx, query,
		uuid.New(), visitID, vitalsArg, activitiesArg, observations, concerns, signatureURL)
	if err != nil {
		return fmt.Errorf("failed to upsert visit documentation: %w", err)
	}
	return nil
}

// AddPhoto appends a photo link to a visit. Photos are append-only.
func (s *VisitStore) AddPhoto(ctx context.Context, photo *types.VisitPhoto) error {
	query := `
		INSERT INTO visit_photos (id, visit_id, s3_key, s3_url, thumbnail_s3_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING uploaded_at`
	err := s.db.QueryRowxContext(ctx, query,
		photo.ID, photo.VisitID, photo.S3Key, photo.S3URL, photo.ThumbnailS3Key,
	).Scan(&photo.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to add visit photo: %w", err)
	}
	return nil
}

// ListPhotos returns a visit's photos in upload order.
func (s *VisitStore) ListPhotos(ctx context.Context, visitID uuid.UUID) ([]*types.VisitPhoto, error) {
	var photos []*types.VisitPhoto
	query := `SELECT id, visit_id, s3_key, s3_url, thumbnail_s3_key, uploaded_at
		FROM visit_photos WHERE visit_id = $1 ORDER BY uploaded_at`
	if err := s.db.SelectContext(ctx, &photos, query, visitID); err != nil {
		return nil, fmt.Errorf("failed to list visit photos: %w", err)
	}
	return photos, nil
}
