package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/types"
)

// AlertStore persists voice-alert escalation records and the outbound
// delivery log.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates an alert store over the shared pool.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

const alertColumns = `id, client_id, raised_by_user_id, target_user_id, backup_user_id,
	zone_id, message, priority, status, created_at, updated_at, resolved_at,
	last_transition, delivery_attempt`

// CreateAlert inserts a new escalation record in state pending.
func (s *AlertStore) CreateAlert(ctx context.Context, alert *types.Alert) error {
	query := `
		INSERT INTO alerts (id, client_id, raised_by_user_id, target_user_id,
		                    backup_user_id, zone_id, message, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at, last_transition`
	err := s.db.QueryRowxContext(ctx, query,
		alert.ID, alert.ClientID, alert.RaisedByUserID, alert.TargetUserID,
		alert.BackupUserID, alert.ZoneID, alert.Message, alert.Priority, alert.Status,
	).Scan(&alert.CreatedAt, &alert.UpdatedAt, &alert.LastTransition)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert.
func (s *AlertStore) GetAlert(ctx context.Context, id uuid.UUID) (*types.Alert, error) {
	var alert types.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	if err := s.db.GetContext(ctx, &alert, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// TransitionAlert moves an alert between escalation states with a
// conditional UPDATE; zero rows means a concurrent worker got there first.
func (s *AlertStore) TransitionAlert(ctx context.Context, id uuid.UUID, from, to types.AlertStatus) error {
	query := `
		UPDATE alerts
		SET status = $3, last_transition = now(), updated_at = now(),
		    delivery_attempt = delivery_attempt + 1,
		    resolved_at = CASE WHEN $3 = 'resolved' THEN now() ELSE resolved_at END
		WHERE id = $1 AND status = $2`
	res, err := s.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ListStuckAlerts returns unresolved alerts whose last transition is older
// than the given interval, for the escalation tick.
func (s *AlertStore) ListStuckAlerts(ctx context.Context, olderThan string) ([]*types.Alert, error) {
	var alerts []*types.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status NOT IN ('resolved', 'failed')
		  AND last_transition < now() - $1::interval
		ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &alerts, query, olderThan); err != nil {
		return nil, fmt.Errorf("failed to list stuck alerts: %w", err)
	}
	return alerts, nil
}

// CountByStatus returns the number of alerts in each escalation state.
func (s *AlertStore) CountByStatus(ctx context.Context) (map[types.AlertStatus]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, count(*) AS n FROM alerts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.AlertStatus]int)
	for rows.Next() {
		var status types.AlertStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	return counts, nil
}

// CreateDelivery records one outbound call or SMS. The idempotency key makes
// retried dispatches collapse onto the original row; ErrConflict signals the
// send already happened.
func (s *AlertStore) CreateDelivery(ctx context.Context, d *types.Delivery) error {
	query := `
		INSERT INTO deliveries (id, alert_id, channel, to_phone, body, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		d.ID, d.AlertID, d.Channel, d.ToPhone, d.Body, d.IdempotencyKey, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("delivery already recorded: %w", ErrConflict)
		}
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

// SetDeliveryProviderSID stores the Twilio SID after dispatch so status
// callbacks can find the row.
func (s *AlertStore) SetDeliveryProviderSID(ctx context.Context, id uuid.UUID, sid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET provider_sid = $2, updated_at = now() WHERE id = $1`, id, sid)
	if err != nil {
		return fmt.Errorf("failed to set delivery provider sid: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus applies a Twilio status callback by provider SID.
func (s *AlertStore) UpdateDeliveryStatus(ctx context.Context, providerSID string, status types.DeliveryStatus) (*types.Delivery, error) {
	var d types.Delivery
	query := `
		UPDATE deliveries SET status = $2, updated_at = now()
		WHERE provider_sid = $1
		RETURNING id, alert_id, channel, to_phone, body, provider_sid,
		          idempotency_key, status, created_at, updated_at`
	if err := s.db.GetContext(ctx, &d, query, providerSID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update delivery status: %w", err)
	}
	return &d, nil
}
