package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/authz"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

// Escalation timers: a call unanswered for primaryWait falls through to SMS;
// an alert still unresolved smsWait after the SMS escalates to the backup
// coordinator or fails.
const (
	primaryWait = 5 * time.Minute
	smsWait     = 10 * time.Minute
)

// Service drives voice-alert escalation. State lives in the alerts table and
// advances only through conditional transitions, so concurrent webhook
// deliveries and escalation ticks race safely.
type Service struct {
	alerts      *storage.AlertStore
	users       *storage.UserStore
	clients     *storage.ClientStore
	sender      Sender
	dispatcher  *Dispatcher
	webhookBase string
	now         func() time.Time
}

// NewService wires the escalation service. webhookBase is the public origin
// Twilio posts callbacks to.
func NewService(alerts *storage.AlertStore, users *storage.UserStore, clients *storage.ClientStore, sender Sender, dispatcher *Dispatcher, webhookBase string) *Service {
	return &Service{
		alerts:      alerts,
		users:       users,
		clients:     clients,
		sender:      sender,
		dispatcher:  dispatcher,
		webhookBase: webhookBase,
		now:         time.Now,
	}
}

// RaiseInput carries a validated alert request.
type RaiseInput struct {
	ClientID uuid.UUID
	Message  string
	Priority string
}

// Raise creates an alert for the caller's zone and starts the escalation:
// the zone's senior coordinator is called first, the next one is the backup.
// The call itself is deferred to the dispatcher so the request returns fast.
func (s *Service) Raise(ctx context.Context, p types.Principal, in RaiseInput) (*types.Alert, error) {
	if err := authz.RequireRole(p, types.RoleCaregiver); err != nil {
		return nil, err
	}

	client, err := s.clients.GetByID(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("client")
		}
		return nil, err
	}
	if !authz.CanAccessZone(p, client.ZoneID) {
		return nil, errs.NotFound("client")
	}

	coordinators, err := s.users.ListByZoneAndRole(ctx, client.ZoneID, types.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	if len(coordinators) == 0 {
		return nil, errs.New(errs.CodeUnavailable, "no coordinator available for this zone")
	}

	alert := &types.Alert{
		ID:             uuid.New(),
		ClientID:       in.ClientID,
		RaisedByUserID: p.UserID,
		TargetUserID:   coordinators[0].ID,
		ZoneID:         client.ZoneID,
		Message:        in.Message,
		Priority:       in.Priority,
		Status:         types.AlertPending,
	}
	if len(coordinators) > 1 {
		alert.BackupUserID = &coordinators[1].ID
	}
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	alertID := alert.ID
	s.dispatcher.Enqueue(func(jobCtx context.Context) {
		s.callTarget(jobCtx, alertID, types.AlertPending, types.AlertPrimaryCalling)
	})

	log.Logger.Info().
		Str("component", "notify").
		Str("alert_id", alert.ID.String()).
		Str("zone_id", alert.ZoneID.String()).
		Str("priority", alert.Priority).
		Msg("Alert raised")
	return alert, nil
}

// Get returns one alert for coordinators and admins; zone scoping applies.
func (s *Service) Get(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Alert, error) {
	if err := authz.RequireRole(p, types.RoleCoordinator, types.RoleAdmin); err != nil {
		return nil, err
	}
	alert, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("alert")
		}
		return nil, err
	}
	if !authz.CanAccessZone(p, alert.ZoneID) {
		return nil, errs.NotFound("alert")
	}
	return alert, nil
}

// callTarget places the escalation call for the stage entered by the given
// transition. The conditional transition claims the work: the loser of a
// race sees ErrConflict and walks away.
func (s *Service) callTarget(ctx context.Context, alertID uuid.UUID, from, to types.AlertStatus) {
	if err := s.alerts.TransitionAlert(ctx, alertID, from, to); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Logger.Error().Err(err).
				Str("component", "notify").
				Str("alert_id", alertID.String()).
				Msg("Failed to claim alert for calling")
		}
		return
	}

	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("alert_id", alertID.String()).
			Msg("Failed to reload alert after claim")
		return
	}

	targetID := alert.TargetUserID
	if to == types.AlertBackupCalling && alert.BackupUserID != nil {
		targetID = *alert.BackupUserID
	}
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil || target.Phone == "" {
		s.fail(ctx, alertID, to, "call target has no phone number")
		return
	}

	delivery := &types.Delivery{
		ID:             uuid.New(),
		AlertID:        &alert.ID,
		Channel:        "voice",
		ToPhone:        target.Phone,
		Body:           alert.Message,
		IdempotencyKey: fmt.Sprintf("alert:%s:%s:%d", alert.ID, to, alert.DeliveryAttempt),
		Status:         types.DeliveryQueued,
	}
	if err := s.alerts.CreateDelivery(ctx, delivery); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return
		}
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("alert_id", alertID.String()).
			Msg("Failed to record delivery")
		return
	}

	sid, err := s.sender.Call(ctx, target.Phone, alertTwiML(alert.Message), s.webhookBase+"/v1/webhooks/twilio/voice")
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("alert_id", alertID.String()).
			Msg("Call dispatch failed")
		metrics.NotificationsDispatched.WithLabelValues("voice", "error").Inc()
		s.advanceAfterNoAnswer(ctx, alertID, to)
		return
	}
	metrics.NotificationsDispatched.WithLabelValues("voice", "sent").Inc()
	if err := s.alerts.SetDeliveryProviderSID(ctx, delivery.ID, sid); err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("delivery_id", delivery.ID.String()).
			Msg("Failed to store provider sid")
	}
}

// sendSMS notifies the primary coordinator by text after an unanswered call.
func (s *Service) sendSMS(ctx context.Context, alertID uuid.UUID) {
	if err := s.alerts.TransitionAlert(ctx, alertID, types.AlertPrimaryNoAnswer, types.AlertSMSSent); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Logger.Error().Err(err).
				Str("component", "notify").
				Str("alert_id", alertID.String()).
				Msg("Failed to claim alert for sms")
		}
		return
	}

	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return
	}
	target, err := s.users.GetByID(ctx, alert.TargetUserID)
	if err != nil || target.Phone == "" {
		s.fail(ctx, alertID, types.AlertSMSSent, "sms target has no phone number")
		return
	}

	delivery := &types.Delivery{
		ID:             uuid.New(),
		AlertID:        &alert.ID,
		Channel:        "sms",
		ToPhone:        target.Phone,
		Body:           fmt.Sprintf("BerthCare alert: %s", alert.Message),
		IdempotencyKey: fmt.Sprintf("alert:%s:sms:%d", alert.ID, alert.DeliveryAttempt),
		Status:         types.DeliveryQueued,
	}
	if err := s.alerts.CreateDelivery(ctx, delivery); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Logger.Error().Err(err).
				Str("component", "notify").
				Str("alert_id", alertID.String()).
				Msg("Failed to record sms delivery")
		}
		return
	}

	sid, err := s.sender.SendSMS(ctx, target.Phone, delivery.Body, s.webhookBase+"/v1/webhooks/twilio/sms")
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("alert_id", alertID.String()).
			Msg("SMS dispatch failed")
		metrics.NotificationsDispatched.WithLabelValues("sms", "error").Inc()
		return
	}
	metrics.NotificationsDispatched.WithLabelValues("sms", "sent").Inc()
	if err := s.alerts.SetDeliveryProviderSID(ctx, delivery.ID, sid); err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Str("delivery_id", delivery.ID.String()).
			Msg("Failed to store provider sid")
	}
}

// HandleVoiceStatus applies a Twilio voice status callback. An answered call
// resolves the alert; a dead call escalates the stage it belongs to. The
// handler only updates rows and enqueues, so it returns well inside the
// webhook deadline.
func (s *Service) HandleVoiceStatus(ctx context.Context, providerSID string, status types.DeliveryStatus) error {
	delivery, err := s.alerts.UpdateDeliveryStatus(ctx, providerSID, status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("delivery")
		}
		return err
	}
	if delivery.AlertID == nil {
		return nil
	}
	alertID := *delivery.AlertID

	switch status {
	case types.DeliveryAnswered, types.DeliveryCompleted:
		s.resolve(ctx, alertID)
	case types.DeliveryNoAnswer, types.DeliveryFailed:
		alert, err := s.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return nil
		}
		s.advanceAfterNoAnswer(ctx, alertID, alert.Status)
	}
	return nil
}

// HandleSMSStatus applies a Twilio SMS status callback. SMS outcomes update
// the delivery log only; escalation past sms_sent is timer-driven.
func (s *Service) HandleSMSStatus(ctx context.Context, providerSID string, status types.DeliveryStatus) error {
	_, err := s.alerts.UpdateDeliveryStatus(ctx, providerSID, status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("delivery")
		}
		return err
	}
	return nil
}

// advanceAfterNoAnswer escalates out of a dead calling stage: the primary
// call falls through to SMS, the backup call exhausts the chain.
func (s *Service) advanceAfterNoAnswer(ctx context.Context, alertID uuid.UUID, stage types.AlertStatus) {
	switch stage {
	case types.AlertPrimaryCalling:
		if err := s.alerts.TransitionAlert(ctx, alertID, types.AlertPrimaryCalling, types.AlertPrimaryNoAnswer); err != nil {
			return
		}
		s.dispatcher.Enqueue(func(jobCtx context.Context) {
			s.sendSMS(jobCtx, alertID)
		})
	case types.AlertBackupCalling:
		s.fail(ctx, alertID, types.AlertBackupCalling, "backup coordinator unreachable")
	}
}

// resolve closes the alert from whichever live stage it is in.
func (s *Service) resolve(ctx context.Context, alertID uuid.UUID) {
	for _, from := range []types.AlertStatus{
		types.AlertPrimaryCalling, types.AlertPrimaryNoAnswer,
		types.AlertSMSSent, types.AlertBackupCalling,
	} {
		if err := s.alerts.TransitionAlert(ctx, alertID, from, types.AlertResolved); err == nil {
			log.Logger.Info().
				Str("component", "notify").
				Str("alert_id", alertID.String()).
				Msg("Alert resolved")
			return
		}
	}
}

func (s *Service) fail(ctx context.Context, alertID uuid.UUID, from types.AlertStatus, reason string) {
	if err := s.alerts.TransitionAlert(ctx, alertID, from, types.AlertFailed); err != nil {
		return
	}
	log.Logger.Error().
		Str("component", "notify").
		Str("alert_id", alertID.String()).
		Str("reason", reason).
		Msg("Alert escalation failed")
}

// publishAlertCounts republishes alert counts to the status gauge. Every
// state is set, including the empty ones, so resolved alerts drain the
// gauge instead of freezing it.
func (s *Service) publishAlertCounts(ctx context.Context) {
	counts, err := s.alerts.CountByStatus(ctx)
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Msg("Failed to count alerts by status")
		return
	}
	for _, status := range types.AlertStatuses {
		metrics.AlertsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// RunEscalation ticks the timer-driven part of the FSM until the context
// ends. Each tick re-reads stuck alerts from the table, so a restarted
// server resumes escalations where the previous one left off.
func (s *Service) RunEscalation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick escalates every alert whose stage outlived its timer and refreshes
// the per-status gauge.
func (s *Service) tick(ctx context.Context) {
	s.publishAlertCounts(ctx)

	stuck, err := s.alerts.ListStuckAlerts(ctx, "1 minute")
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "notify").
			Msg("Failed to list stuck alerts")
		return
	}

	now := s.now()
	for _, alert := range stuck {
		age := now.Sub(alert.LastTransition)
		alertID := alert.ID

		switch alert.Status {
		case types.AlertPending:
			// The initial dispatch was lost (crash between insert and call).
			s.dispatcher.Enqueue(func(jobCtx context.Context) {
				s.callTarget(jobCtx, alertID, types.AlertPending, types.AlertPrimaryCalling)
			})
		case types.AlertPrimaryCalling:
			if age >= primaryWait {
				s.advanceAfterNoAnswer(ctx, alertID, types.AlertPrimaryCalling)
			}
		case types.AlertPrimaryNoAnswer:
			// The SMS job was lost; retry it.
			s.dispatcher.Enqueue(func(jobCtx context.Context) {
				s.sendSMS(jobCtx, alertID)
			})
		case types.AlertSMSSent:
			if age >= smsWait {
				if alert.BackupUserID == nil {
					s.fail(ctx, alertID, types.AlertSMSSent, "no backup coordinator")
					continue
				}
				s.dispatcher.Enqueue(func(jobCtx context.Context) {
					s.callTarget(jobCtx, alertID, types.AlertSMSSent, types.AlertBackupCalling)
				})
			}
		case types.AlertBackupCalling:
			if age >= primaryWait {
				s.fail(ctx, alertID, types.AlertBackupCalling, "backup call unanswered")
			}
		}
	}
}
