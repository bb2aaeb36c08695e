package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role defines the role of a user
type Role string

const (
	RoleCaregiver   Role = "caregiver"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCaregiver, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

// RequiresZone reports whether users with this role must belong to a zone.
// Admins operate across zones; everyone else is zone-bound.
func (r Role) RequiresZone() bool {
	return r != RoleAdmin
}

// VisitStatus represents the current state of a visit
type VisitStatus string

const (
	VisitScheduled  VisitStatus = "scheduled"
	VisitInProgress VisitStatus = "in_progress"
	VisitCompleted  VisitStatus = "completed"
	VisitCancelled  VisitStatus = "cancelled"
)

// Valid reports whether the status is one of the known visit states.
func (s VisitStatus) Valid() bool {
	switch s {
	case VisitScheduled, VisitInProgress, VisitCompleted, VisitCancelled:
		return true
	}
	return false
}

// legalTransitions is the visit lifecycle DAG: scheduled -> in_progress ->
// completed, with cancellation allowed from every other state. A completed
// visit may still be cancelled after the fact; cancelled is the only state
// with no way out.
var legalTransitions = map[VisitStatus][]VisitStatus{
	VisitScheduled:  {VisitInProgress, VisitCancelled},
	VisitInProgress: {VisitCompleted, VisitCancelled},
	VisitCompleted:  {VisitCancelled},
}

// CanTransition reports whether a visit may move from to the target status.
func (s VisitStatus) CanTransition(to VisitStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses from which the given status is reachable.
// Used to build conditional UPDATE guards.
func (s VisitStatus) Predecessors() []VisitStatus {
	var from []VisitStatus
	for prev, nexts := range legalTransitions {
		for _, next := range nexts {
			if next == s {
				from = append(from, prev)
			}
		}
	}
	return from
}

// Principal is the authenticated identity attached to each request context.
type Principal struct {
	UserID   uuid.UUID `json:"userId"`
	Role     Role      `json:"role"`
	ZoneID   uuid.UUID `json:"zoneId,omitempty"` // zero for admins without a zone
	Email    string    `json:"email,omitempty"`
	DeviceID string    `json:"deviceId,omitempty"`
}

// User represents a caregiver, coordinator, or admin account
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FirstName    string     `json:"firstName" db:"first_name"`
	LastName     string     `json:"lastName" db:"last_name"`
	Role         Role       `json:"role" db:"role"`
	Phone        string     `json:"phone,omitempty" db:"phone"`
	ZoneID       *uuid.UUID `json:"zoneId,omitempty" db:"zone_id"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
}

// RefreshToken is the server-side record of an issued refresh token.
// Only the SHA-256 of the raw token is stored; the raw form is returned to
// the client exactly once at issuance.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"userId" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	DeviceID  string     `json:"deviceId" db:"device_id"`
	ExpiresAt time.Time  `json:"expiresAt" db:"expires_at"`
	RevokedAt *time.Time `json:"revokedAt,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// EmergencyContact is embedded in a client record.
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// Value implements driver.Valuer for JSONB storage.
func (c EmergencyContact) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB storage.
func (c *EmergencyContact) Scan(src any) error {
	return scanJSON(src, c)
}

// Client represents a home-care client
type Client struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	FirstName        string           `json:"firstName" db:"first_name"`
	LastName         string           `json:"lastName" db:"last_name"`
	DateOfBirth      time.Time        `json:"dateOfBirth" db:"date_of_birth"`
	Address          string           `json:"address" db:"address"`
	Latitude         float64          `json:"latitude" db:"latitude"`
	Longitude        float64          `json:"longitude" db:"longitude"`
	Phone            string           `json:"phone,omitempty" db:"phone"`
	EmergencyContact EmergencyContact `json:"emergencyContact" db:"emergency_contact"`
	ZoneID           uuid.UUID        `json:"zoneId" db:"zone_id"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" db:"updated_at"`
}

// Medication is one entry in a care plan's medication list.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Allergy is one entry in a care plan's allergy list.
type Allergy struct {
	Allergen string `json:"allergen"`
	Severity string `json:"severity,omitempty"`
	Reaction string `json:"reaction,omitempty"`
}

// Medications is a JSONB-backed medication list.
type Medications []Medication

func (m Medications) Value() (driver.Value, error) {
	if m == nil {
		m = Medications{}
	}
	return json.Marshal(m)
}

func (m *Medications) Scan(src any) error {
	return scanJSON(src, m)
}

// Allergies is a JSONB-backed allergy list.
type Allergies []Allergy

func (a Allergies) Value() (driver.Value, error) {
	if a == nil {
		a = Allergies{}
	}
	return json.Marshal(a)
}

func (a *Allergies) Scan(src any) error {
	return scanJSON(src, a)
}

// CarePlan is the single current care plan for a client.
// Updates replace content and increment Version.
type CarePlan struct {
	ID                  uuid.UUID   `json:"id" db:"id"`
	ClientID            uuid.UUID   `json:"clientId" db:"client_id"`
	Summary             string      `json:"summary" db:"summary"`
	Medications         Medications `json:"medications" db:"medications"`
	Allergies           Allergies   `json:"allergies" db:"allergies"`
	SpecialInstructions string      `json:"specialInstructions,omitempty" db:"special_instructions"`
	Version             int         `json:"version" db:"version"`
	CreatedAt           time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time   `json:"updatedAt" db:"updated_at"`
}

// Visit represents one caregiver visit to a client
type Visit struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	ClientID           uuid.UUID   `json:"clientId" db:"client_id"`
	StaffID            uuid.UUID   `json:"staffId" db:"staff_id"`
	ScheduledStartTime *time.Time  `json:"scheduledStartTime,omitempty" db:"scheduled_start_time"`
	CheckInTime        *time.Time  `json:"checkInTime,omitempty" db:"check_in_time"`
	CheckInLat         *float64    `json:"checkInLat,omitempty" db:"check_in_lat"`
	CheckInLng         *float64    `json:"checkInLng,omitempty" db:"check_in_lng"`
	CheckOutTime       *time.Time  `json:"checkOutTime,omitempty" db:"check_out_time"`
	CheckOutLat        *float64    `json:"checkOutLat,omitempty" db:"check_out_lat"`
	CheckOutLng        *float64    `json:"checkOutLng,omitempty" db:"check_out_lng"`
	Status             VisitStatus `json:"status" db:"status"`
	DurationMinutes    *int        `json:"durationMinutes,omitempty" db:"duration_minutes"`
	CopiedFromVisitID  *uuid.UUID  `json:"copiedFromVisitId,omitempty" db:"copied_from_visit_id"`
	CreatedAt          time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time   `json:"updatedAt" db:"updated_at"`
}

// Activity is one entry in a visit's activity checklist.
type Activity struct {
	Activity  string `json:"activity"`
	Completed bool   `json:"completed"`
	Time      string `json:"time,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Activities is a JSONB-backed, ordered activity list.
type Activities []Activity

func (a Activities) Value() (driver.Value, error) {
	if a == nil {
		a = Activities{}
	}
	return json.Marshal(a)
}

func (a *Activities) Scan(src any) error {
	return scanJSON(src, a)
}

// JSONMap is a JSONB-backed string-keyed map (vital signs, audit diffs).
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		m = JSONMap{}
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m)
}

// VisitDocumentation holds the caregiver's notes for a visit.
// One row per visit, upserted by visit updates.
type VisitDocumentation struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	VisitID      uuid.UUID  `json:"visitId" db:"visit_id"`
	VitalSigns   JSONMap    `json:"vitalSigns" db:"vital_signs"`
	Activities   Activities `json:"activities" db:"activities"`
	Observations string     `json:"observations,omitempty" db:"observations"`
	Concerns     string     `json:"concerns,omitempty" db:"concerns"`
	SignatureURL string     `json:"signatureUrl,omitempty" db:"signature_url"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// VisitPhoto links an uploaded photo object to a visit. Append-only.
type VisitPhoto struct {
	ID             uuid.UUID `json:"id" db:"id"`
	VisitID        uuid.UUID `json:"visitId" db:"visit_id"`
	S3Key          string    `json:"s3Key" db:"s3_key"`
	S3URL          string    `json:"s3Url" db:"s3_url"`
	ThumbnailS3Key string    `json:"thumbnailS3Key,omitempty" db:"thumbnail_s3_key"`
	UploadedAt     time.Time `json:"uploadedAt" db:"uploaded_at"`
}

// AuditEntry is an append-only record of a mutating action.
type AuditEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	ActorUserID   uuid.UUID `json:"actorUserId" db:"actor_user_id"`
	ActorRole     Role      `json:"actorRole" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	ObjectType    string    `json:"objectType" db:"object_type"`
	ObjectID      uuid.UUID `json:"objectId" db:"object_id"`
	ChangedFields JSONMap   `json:"changedFields" db:"changed_fields"`
	RequestID     string    `json:"requestId" db:"request_id"`
	SourceIP      string    `json:"sourceIp" db:"source_ip"`
}

// Zone is a geographic assignment unit with a center point.
type Zone struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CenterLat float64   `json:"centerLat" db:"center_lat"`
	CenterLng float64   `json:"centerLng" db:"center_lng"`
}

// AlertStatus is the state of a voice-alert escalation.
type AlertStatus string

const (
	AlertPending         AlertStatus = "pending"
	AlertPrimaryCalling  AlertStatus = "primary_calling"
	AlertPrimaryNoAnswer AlertStatus = "primary_no_answer"
	AlertSMSSent         AlertStatus = "sms_sent"
	AlertBackupCalling   AlertStatus = "backup_calling"
	AlertResolved        AlertStatus = "resolved"
	AlertFailed          AlertStatus = "failed"
)

// AlertStatuses lists every escalation state.
var AlertStatuses = []AlertStatus{
	AlertPending, AlertPrimaryCalling, AlertPrimaryNoAnswer,
	AlertSMSSent, AlertBackupCalling, AlertResolved, AlertFailed,
}

// Alert is a per-alert escalation record.
type Alert struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	ClientID        uuid.UUID   `json:"clientId" db:"client_id"`
	RaisedByUserID  uuid.UUID   `json:"raisedByUserId" db:"raised_by_user_id"`
	TargetUserID    uuid.UUID   `json:"targetUserId" db:"target_user_id"`
	BackupUserID    *uuid.UUID  `json:"backupUserId,omitempty" db:"backup_user_id"`
	ZoneID          uuid.UUID   `json:"zoneId" db:"zone_id"`
	Message         string      `json:"message" db:"message"`
	Priority        string      `json:"priority" db:"priority"`
	Status          AlertStatus `json:"status" db:"status"`
	CreatedAt       time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time   `json:"updatedAt" db:"updated_at"`
	ResolvedAt      *time.Time  `json:"resolvedAt,omitempty" db:"resolved_at"`
	LastTransition  time.Time   `json:"lastTransition" db:"last_transition"`
	DeliveryAttempt int         `json:"deliveryAttempt" db:"delivery_attempt"`
}

// DeliveryStatus is the Twilio-reported state of an outbound message or call.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryInitiated DeliveryStatus = "initiated"
	DeliveryRinging   DeliveryStatus = "ringing"
	DeliveryAnswered  DeliveryStatus = "answered"
	DeliveryCompleted DeliveryStatus = "completed"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryNoAnswer  DeliveryStatus = "no-answer"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryUndelivrd DeliveryStatus = "undelivered"
)

// Delivery is one outbound voice call or SMS and its callback-updated status.
type Delivery struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	AlertID        *uuid.UUID     `json:"alertId,omitempty" db:"alert_id"`
	Channel        string         `json:"channel" db:"channel"` // "voice" or "sms"
	ToPhone        string         `json:"toPhone" db:"to_phone"`
	Body           string         `json:"body" db:"body"`
	ProviderSID    string         `json:"providerSid,omitempty" db:"provider_sid"`
	IdempotencyKey string         `json:"idempotencyKey" db:"idempotency_key"`
	Status         DeliveryStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

// scanJSON unmarshals a JSONB column into dst, tolerating NULL.
func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON value", src)
	}
}
