package visits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/audit"
	"github.com/berthcare/berthcare/pkg/authz"
	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/metrics"
	"github.com/berthcare/berthcare/pkg/objectstore"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

// Service implements the visit lifecycle: check-in creation, documentation,
// check-out, status transitions, and photo/signature attachment.
type Service struct {
	visits  *storage.VisitStore
	clients *storage.ClientStore
	objects *objectstore.Store
	cache   *cache.Cache
	audit   *audit.Store
	now     func() time.Time
}

// NewService wires the visit service.
func NewService(visits *storage.VisitStore, clients *storage.ClientStore, objects *objectstore.Store, c *cache.Cache, auditor *audit.Store) *Service {
	return &Service{
		visits:  visits,
		clients: clients,
		objects: objects,
		cache:   c,
		audit:   auditor,
		now:     time.Now,
	}
}

// Meta identifies the acting principal for audit purposes.
type Meta struct {
	Principal types.Principal
	RequestID string
	SourceIP  string
}

// CheckInInput carries a validated check-in request.
type CheckInInput struct {
	ClientID           uuid.UUID
	ScheduledStartTime *time.Time
	Latitude           *float64
	Longitude          *float64
	CopiedFromVisitID  *uuid.UUID
}

// CheckIn creates a visit in progress for the calling caregiver, with its
// documentation row. When CopiedFromVisitID is set, the source visit's
// activities, observations, and concerns seed the new documentation; vital
// signs are always recorded fresh. The source must belong to the same client
// and be readable by the caller.
func (s *Service) CheckIn(ctx context.Context, meta Meta, in CheckInInput) (*types.Visit, *types.VisitDocumentation, error) {
	p := meta.Principal
	if err := authz.RequireRole(p, types.RoleCaregiver); err != nil {
		return nil, nil, err
	}

	client, err := s.clients.GetByID(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errs.NotFound("client")
		}
		return nil, nil, err
	}
	if !authz.CanAccessZone(p, client.ZoneID) {
		return nil, nil, errs.NotFound("client")
	}

	doc := &types.VisitDocumentation{
		ID:         uuid.New(),
		VitalSigns: types.JSONMap{},
		Activities: types.Activities{},
	}
	if in.CopiedFromVisitID != nil {
		if err := s.seedFromSource(ctx, p, in.ClientID, *in.CopiedFromVisitID, doc); err != nil {
			return nil, nil, err
		}
	}

	checkIn := s.now().UTC()
	visit := &types.Visit{
		ID:                 uuid.New(),
		ClientID:           in.ClientID,
		StaffID:            p.UserID,
		ScheduledStartTime: in.ScheduledStartTime,
		CheckInTime:        &checkIn,
		CheckInLat:         in.Latitude,
		CheckInLng:         in.Longitude,
		Status:             types.VisitInProgress,
		CopiedFromVisitID:  in.CopiedFromVisitID,
	}
	doc.VisitID = visit.ID

	if err := s.visits.Create(ctx, visit, doc); err != nil {
		return nil, nil, err
	}

	s.invalidate(ctx, visit, client.ZoneID)
	s.recordAudit(ctx, meta, "visit.check_in", visit.ID, audit.Diff(map[string]audit.FieldChange{
		"status": {Old: nil, New: types.VisitInProgress},
	}))

	log.Logger.Info().
		Str("component", "visits").
		Str("visit_id", visit.ID.String()).
		Str("client_id", in.ClientID.String()).
		Str("staff_id", p.UserID.String()).
		Msg("Visit checked in")
	return visit, doc, nil
}

// seedFromSource copies forward the previous visit's documentation. The
// source must reference the same client; a cross-client copy is refused with
// FORBIDDEN even for admins so documentation never leaks between clients.
func (s *Service) seedFromSource(ctx context.Context, p types.Principal, clientID, sourceID uuid.UUID, doc *types.VisitDocumentation) error {
	source, err := s.visits.GetByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errs.NotFound("source visit")
		}
		return err
	}
	if source.ClientID != clientID {
		return errs.Forbidden()
	}

	sourceClient, err := s.clients.GetByID(ctx, source.ClientID)
	if err != nil {
		return err
	}
	if !authz.CanReadVisit(p, source, sourceClient.ZoneID) {
		return errs.Forbidden()
	}

	sourceDoc, err := s.visits.GetDocumentation(ctx, sourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	// The activity list carries over exactly as recorded, completion marks
	// and times included; the new visit starts from the prior one's plan.
	doc.Activities = append(types.Activities{}, sourceDoc.Activities...)
	doc.Observations = sourceDoc.Observations
	doc.Concerns = sourceDoc.Concerns
	return nil
}

// Detail is the aggregated visit view: the visit row, its documentation,
// photos with fresh download URLs, and the client's zone for re-running the
// ownership predicate on cache hits.
type Detail struct {
	Visit         *types.Visit              `json:"visit"`
	Documentation *types.VisitDocumentation `json:"documentation"`
	Photos        []*types.VisitPhoto       `json:"photos"`
	ClientZoneID  uuid.UUID                 `json:"clientZoneId"`
}

// Get returns the aggregated detail, cache-first. Authorization runs on
// cache hits exactly as on database reads, and photo download URLs are
// re-signed on every response so the cache never stores a grant.
func (s *Service) Get(ctx context.Context, p types.Principal, id uuid.UUID) (*Detail, error) {
	key := cache.VisitDetailKey(id)

	var detail Detail
	cached := s.cache.GetJSON(ctx, key, &detail) == nil
	if !cached {
		d, err := s.loadDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		detail = *d
	}

	if err := authz.RequireVisitRead(p, detail.Visit, detail.ClientZoneID); err != nil {
		return nil, err
	}
	if !cached {
		s.cache.SetJSON(ctx, key, &detail, cache.DetailTTL)
	}

	s.signPhotoURLs(ctx, detail.Photos)
	return &detail, nil
}

func (s *Service) loadDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	visit, err := s.visits.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("visit")
		}
		return nil, err
	}
	client, err := s.clients.GetByID(ctx, visit.ClientID)
	if err != nil {
		return nil, err
	}
	doc, err := s.visits.GetDocumentation(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	photos, err := s.visits.ListPhotos(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Visit:         visit,
		Documentation: doc,
		Photos:        photos,
		ClientZoneID:  client.ZoneID,
	}, nil
}

// signPhotoURLs fills each photo's URL with a fresh presigned GET. Signing
// failures leave the URL empty rather than failing the read.
func (s *Service) signPhotoURLs(ctx context.Context, photos []*types.VisitPhoto) {
	for _, photo := range photos {
		url, err := s.objects.PresignDownload(ctx, photo.S3Key, time.Hour)
		if err != nil {
			log.Logger.Warn().Err(err).
				Str("component", "visits").
				Str("s3_key", photo.S3Key).
				Msg("Failed to presign photo download")
			continue
		}
		photo.S3URL = url
	}
}

// ListInput narrows a visit list request.
type ListInput struct {
	ClientID  *uuid.UUID
	StaffID   *uuid.UUID
	Status    *types.VisitStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// Page is one page of a visit list.
type Page struct {
	Visits []*types.Visit `json:"visits"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// List returns visits scoped to the principal: caregivers see their own
// visits, coordinators their zone, admins everything. Cache keys embed the
// scope so pages are never shared across principals with different subsets.
func (s *Service) List(ctx context.Context, p types.Principal, in ListInput) (*Page, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit < 1 || in.Limit > 100 {
		in.Limit = 20
	}

	filter := storage.VisitFilter{
		ClientID:  in.ClientID,
		Status:    in.Status,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Page:      in.Page,
		Limit:     in.Limit,
	}

	var scope string
	switch p.Role {
	case types.RoleCaregiver:
		// Caregivers always see their own visits; a staffId filter cannot
		// widen the scope.
		in.StaffID = &p.UserID
		scope = cache.VisitListScopeCaregiver(p.UserID)
	case types.RoleCoordinator:
		filter.ZoneID = &p.ZoneID
		scope = cache.VisitListScopeZone(p.ZoneID)
	default:
		scope = "all"
	}
	filter.StaffID = in.StaffID

	key := cache.VisitListKey(scope, filterFingerprint(in), in.Page, in.Limit)
	var cachedPage Page
	if err := s.cache.GetJSON(ctx, key, &cachedPage); err == nil {
		return &cachedPage, nil
	}

	rows, total, err := s.visits.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &Page{Visits: rows, Total: total, Page: in.Page, Limit: in.Limit}
	s.cache.SetJSON(ctx, key, result, cache.ListTTL)
	return result, nil
}

// DocumentationInput carries a documentation PATCH. Nil fields are left
// untouched; last write wins per field, with the change audited.
type DocumentationInput struct {
	VitalSigns   types.JSONMap
	Activities   types.Activities
	Observations *string
	Concerns     *string
}

// UpdateDocumentation merges documentation fields into the visit. Only the
// assigned caregiver writes documentation, and never on a cancelled visit.
func (s *Service) UpdateDocumentation(ctx context.Context, meta Meta, visitID uuid.UUID, in DocumentationInput) (*types.VisitDocumentation, error) {
	visit, _, err := s.ownedVisit(ctx, meta.Principal, visitID)
	if err != nil {
		return nil, err
	}
	if visit.Status == types.VisitCancelled {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot document a cancelled visit")
	}

	if err := s.visits.UpsertDocumentation(ctx, visitID, in.VitalSigns, in.Activities, in.Observations, in.Concerns, nil); err != nil {
		return nil, err
	}

	doc, err := s.visits.GetDocumentation(ctx, visitID)
	if err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, cache.VisitDetailKey(visitID))
	s.recordAudit(ctx, meta, "visit.document", visitID, documentationDiff(in))
	return doc, nil
}

// CheckOutInput carries a validated check-out request.
type CheckOutInput struct {
	Latitude     *float64
	Longitude    *float64
	SignatureKey string // optional, from a prior signature upload grant
}

// CheckOut completes a visit: records time and coordinates, derives the
// duration from check-in, and commits the signature if one was uploaded. The
// status guard, the check-out fields, and the signature land in a single
// transaction so a failure never leaves a completed visit without its
// check-out record.
func (s *Service) CheckOut(ctx context.Context, meta Meta, visitID uuid.UUID, in CheckOutInput) (*types.Visit, error) {
	visit, zoneID, err := s.ownedVisit(ctx, meta.Principal, visitID)
	if err != nil {
		return nil, err
	}

	var signatureURL *string
	if in.SignatureKey != "" {
		if !objectstore.ValidSignatureKey(in.SignatureKey, visitID) {
			return nil, errs.New(errs.CodeValidation, "signature key does not match this visit")
		}
		exists, err := s.objects.Exists(ctx, in.SignatureKey)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errs.New(errs.CodeValidation, "signature object has not been uploaded")
		}
		signatureURL = &in.SignatureKey
	}

	at := s.now().UTC()
	var duration *int
	if visit.CheckInTime != nil {
		minutes := durationMinutes(*visit.CheckInTime, at)
		duration = &minutes
	}
	if err := s.visits.CompleteCheckOut(ctx, visitID, at, in.Latitude, in.Longitude, duration, signatureURL); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errs.Newf(errs.CodeInvalidTransition,
				"visit cannot move from %s to %s", visit.Status, types.VisitCompleted)
		}
		return nil, err
	}
	metrics.VisitTransitions.WithLabelValues(string(types.VisitCompleted)).Inc()

	updated, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, updated, zoneID)
	s.recordAudit(ctx, meta, "visit.check_out", visitID, audit.Diff(map[string]audit.FieldChange{
		"status": {Old: visit.Status, New: updated.Status},
	}))
	return updated, nil
}

// Transition moves a visit to the requested status under the lifecycle
// guard. Coordinators may cancel visits in their zone; caregivers only
// their own.
func (s *Service) Transition(ctx context.Context, meta Meta, visitID uuid.UUID, to types.VisitStatus) (*types.Visit, error) {
	if !to.Valid() {
		return nil, errs.Newf(errs.CodeValidation, "unknown visit status %q", to)
	}

	p := meta.Principal
	visit, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("visit")
		}
		return nil, err
	}
	client, err := s.clients.GetByID(ctx, visit.ClientID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireVisitRead(p, visit, client.ZoneID); err != nil {
		return nil, err
	}

	if err := s.visits.Transition(ctx, visitID, to); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errs.Newf(errs.CodeInvalidTransition,
				"visit cannot move from %s to %s", visit.Status, to)
		}
		return nil, err
	}

	updated, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	metrics.VisitTransitions.WithLabelValues(string(to)).Inc()
	s.invalidate(ctx, updated, client.ZoneID)
	s.recordAudit(ctx, meta, "visit.transition", visitID, audit.Diff(map[string]audit.FieldChange{
		"status": {Old: visit.Status, New: to},
	}))
	return updated, nil
}

// PhotoUploadInput declares an intended photo upload.
type PhotoUploadInput struct {
	ContentType string
	SizeBytes   int64
}

// IssuePhotoUploadURLs grants presigned PUT URLs for a batch of photo
// uploads, preserving request order. Each grant is validated against the
// photo policy before any URL is signed; one bad entry fails the batch.
func (s *Service) IssuePhotoUploadURLs(ctx context.Context, p types.Principal, visitID uuid.UUID, uploads []PhotoUploadInput) ([]*objectstore.UploadURL, error) {
	if _, _, err := s.ownedVisit(ctx, p, visitID); err != nil {
		return nil, err
	}

	policy, err := objectstore.PolicyFor(objectstore.ArtifactPhoto)
	if err != nil {
		return nil, err
	}
	for i, up := range uploads {
		if err := policy.Validate(up.ContentType, up.SizeBytes); err != nil {
			return nil, errs.From(err).WithDetails(map[string]any{"index": i})
		}
	}

	urls := make([]*objectstore.UploadURL, 0, len(uploads))
	now := s.now().UTC()
	for _, up := range uploads {
		key := objectstore.PhotoKey(p.UserID, up.ContentType, now)
		url, err := s.objects.PresignUpload(ctx, key, up.ContentType, policy.URLExpiry)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// AttachPhoto commits an uploaded photo to the visit. The key's shape and
// uploader prefix are re-validated and the object's existence confirmed
// before the row is written.
func (s *Service) AttachPhoto(ctx context.Context, meta Meta, visitID uuid.UUID, key string) (*types.VisitPhoto, error) {
	visit, zoneID, err := s.ownedVisit(ctx, meta.Principal, visitID)
	if err != nil {
		return nil, err
	}

	if !objectstore.ValidPhotoKey(key, meta.Principal.UserID) {
		return nil, errs.New(errs.CodeValidation, "photo key does not match an issued upload grant")
	}
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.New(errs.CodeValidation, "photo object has not been uploaded")
	}

	photo := &types.VisitPhoto{
		ID:      uuid.New(),
		VisitID: visitID,
		S3Key:   key,
	}
	if err := s.visits.AddPhoto(ctx, photo); err != nil {
		return nil, err
	}

	s.invalidate(ctx, visit, zoneID)
	s.recordAudit(ctx, meta, "visit.photo_attach", visitID, audit.Diff(map[string]audit.FieldChange{
		"photo": {Old: nil, New: key},
	}))
	return photo, nil
}

// IssueSignatureUploadURL grants a presigned PUT for a check-out signature.
func (s *Service) IssueSignatureUploadURL(ctx context.Context, p types.Principal, visitID uuid.UUID, kind objectstore.SignatureKind) (*objectstore.UploadURL, error) {
	visit, _, err := s.ownedVisit(ctx, p, visitID)
	if err != nil {
		return nil, err
	}
	if visit.Status != types.VisitInProgress {
		return nil, errs.New(errs.CodeInvalidTransition, "signatures are captured during an in-progress visit")
	}
	if kind != objectstore.SignatureClient && kind != objectstore.SignatureCaregiver {
		return nil, errs.Newf(errs.CodeValidation, "unknown signature kind %q", kind)
	}

	policy, err := objectstore.PolicyFor(objectstore.ArtifactSignature)
	if err != nil {
		return nil, err
	}
	key := objectstore.SignatureKey(visitID, kind, s.now().UTC())
	return s.objects.PresignUpload(ctx, key, policy.ContentTypes[0], policy.URLExpiry)
}

// AttachSignature commits an uploaded signature to the visit's
// documentation. Like photos, the key's shape and visit scope are
// re-validated and the object's existence confirmed before anything is
// written.
func (s *Service) AttachSignature(ctx context.Context, meta Meta, visitID uuid.UUID, key string) (*types.VisitDocumentation, error) {
	visit, zoneID, err := s.ownedVisit(ctx, meta.Principal, visitID)
	if err != nil {
		return nil, err
	}

	if !objectstore.ValidSignatureKey(key, visitID) {
		return nil, errs.New(errs.CodeValidation, "signature key does not match this visit")
	}
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.New(errs.CodeValidation, "signature object has not been uploaded")
	}

	if err := s.visits.UpsertDocumentation(ctx, visitID, nil, nil, nil, nil, &key); err != nil {
		return nil, err
	}
	doc, err := s.visits.GetDocumentation(ctx, visitID)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, visit, zoneID)
	s.recordAudit(ctx, meta, "visit.signature_attach", visitID, audit.Diff(map[string]audit.FieldChange{
		"signature": {Old: nil, New: key},
	}))
	return doc, nil
}

// ownedVisit loads a visit and enforces caregiver ownership for mutation
// paths. Returns the visit and the owning client's zone.
func (s *Service) ownedVisit(ctx context.Context, p types.Principal, visitID uuid.UUID) (*types.Visit, uuid.UUID, error) {
	visit, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, errs.NotFound("visit")
		}
		return nil, uuid.Nil, err
	}
	client, err := s.clients.GetByID(ctx, visit.ClientID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if err := authz.RequireVisitRead(p, visit, client.ZoneID); err != nil {
		return nil, uuid.Nil, err
	}
	if visit.StaffID != p.UserID {
		return nil, uuid.Nil, errs.Forbidden()
	}
	return visit, client.ZoneID, nil
}

// invalidate drops the visit's detail entry and every list page the change
// could appear in. Runs after commit; failures are logged in the cache
// layer, never returned.
func (s *Service) invalidate(ctx context.Context, visit *types.Visit, zoneID uuid.UUID) {
	s.cache.Delete(ctx, cache.VisitDetailKey(visit.ID))
	s.cache.DeletePattern(ctx, cache.VisitListPattern(cache.VisitListScopeCaregiver(visit.StaffID)))
	s.cache.DeletePattern(ctx, cache.VisitListPattern(cache.VisitListScopeZone(zoneID)))
	s.cache.DeletePattern(ctx, cache.VisitListPattern("all"))
}

func (s *Service) recordAudit(ctx context.Context, meta Meta, action string, objectID uuid.UUID, diff types.JSONMap) {
	err := s.audit.Record(ctx, &types.AuditEntry{
		ActorUserID:   meta.Principal.UserID,
		ActorRole:     meta.Principal.Role,
		Action:        action,
		ObjectType:    "visit",
		ObjectID:      objectID,
		ChangedFields: diff,
		RequestID:     meta.RequestID,
		SourceIP:      meta.SourceIP,
	})
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "visits").
			Str("action", action).
			Msg("Failed to record audit entry")
	}
}

// documentationDiff audits which documentation sections were touched. Values
// are section names, not content: vitals and observations are clinical data
// and stay out of the audit log.
func documentationDiff(in DocumentationInput) types.JSONMap {
	changes := map[string]audit.FieldChange{}
	if in.VitalSigns != nil {
		changes["vitalSigns"] = audit.FieldChange{Old: "present", New: "updated"}
	}
	if in.Activities != nil {
		changes["activities"] = audit.FieldChange{Old: "present", New: "updated"}
	}
	if in.Observations != nil {
		changes["observations"] = audit.FieldChange{Old: "present", New: "updated"}
	}
	if in.Concerns != nil {
		changes["concerns"] = audit.FieldChange{Old: "present", New: "updated"}
	}
	return audit.Diff(changes)
}

// durationMinutes derives the recorded visit length: whole minutes between
// check-in and check-out, fractions truncated.
func durationMinutes(checkIn, checkOut time.Time) int {
	return int(checkOut.Sub(checkIn) / time.Minute)
}

// filterFingerprint folds the optional list filters into the cache key.
func filterFingerprint(in ListInput) string {
	fp := ""
	if in.ClientID != nil {
		fp += "c=" + in.ClientID.String() + ";"
	}
	if in.StaffID != nil {
		fp += "u=" + in.StaffID.String() + ";"
	}
	if in.Status != nil {
		fp += "s=" + string(*in.Status) + ";"
	}
	if in.StartDate != nil {
		fp += "f=" + in.StartDate.Format("2006-01-02") + ";"
	}
	if in.EndDate != nil {
		fp += "t=" + in.EndDate.Format("2006-01-02") + ";"
	}
	if fp == "" {
		return "none"
	}
	return fp
}
