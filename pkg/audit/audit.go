package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

// Store writes append-only audit entries. Entries reference object IDs
// without foreign keys so they outlive their targets.
type Store struct {
	db *storage.DB
}

// NewStore creates an audit store over the shared pool.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// FieldChange captures one field's old and new value in a diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff builds the changed_fields map for Record.
func Diff(changes map[string]FieldChange) types.JSONMap {
	out := types.JSONMap{}
	for field, change := range changes {
		out[field] = map[string]any{"old": change.Old, "new": change.New}
	}
	return out
}

// Record persists an audit entry and mirrors it to the structured log.
// Audit failures are surfaced to the caller: a mutation that cannot be
// audited should not silently pass.
func (s *Store) Record(ctx context.Context, entry *types.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedFields == nil {
		entry.ChangedFields = types.JSONMap{}
	}

	query := `
		INSERT INTO audit_log (id, actor_user_id, actor_role, action, object_type,
		                       object_id, changed_fields, request_id, source_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	err := s.db.QueryRowxContext(ctx, query,
		entry.ID, entry.ActorUserID, entry.ActorRole, entry.Action,
		entry.ObjectType, entry.ObjectID, entry.ChangedFields,
		entry.RequestID, entry.SourceIP,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	log.Logger.Info().
		Str("component", "audit").
		Str("actor", entry.ActorUserID.String()).
		Str("action", entry.Action).
		Str("object_type", entry.ObjectType).
		Str("object_id", entry.ObjectID.String()).
		Str("request_id", entry.RequestID).
		Msg("Audit entry recorded")
	return nil
}

// ListForObject returns the audit trail for one object, newest first.
func (s *Store) ListForObject(ctx context.Context, objectType string, objectID uuid.UUID, limit int) ([]*types.AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var entries []*types.AuditEntry
	query := `SELECT id, created_at, actor_user_id, actor_role, action, object_type,
		object_id, changed_fields, request_id, source_ip
		FROM audit_log
		WHERE object_type = $1 AND object_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	if err := s.db.SelectContext(ctx, &entries, query, objectType, objectID, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
