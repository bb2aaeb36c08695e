package clients

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/audit"
	"github.com/berthcare/berthcare/pkg/authz"
	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/geocode"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/storage"
	"github.com/berthcare/berthcare/pkg/types"
)

// Service implements client CRUD and care-plan management. Zone scoping is
// enforced here, after cache lookups as well as before database reads.
type Service struct {
	store    *storage.ClientStore
	geocoder *geocode.Geocoder
	assigner *geocode.ZoneAssigner
	cache    *cache.Cache
	audit    *audit.Store
}

// NewService wires the client service.
func NewService(store *storage.ClientStore, geocoder *geocode.Geocoder, assigner *geocode.ZoneAssigner, c *cache.Cache, auditor *audit.Store) *Service {
	return &Service{store: store, geocoder: geocoder, assigner: assigner, cache: c, audit: auditor}
}

// CreateInput carries a validated create request.
type CreateInput struct {
	FirstName        string
	LastName         string
	DateOfBirth      time.Time
	Address          string
	Phone            string
	EmergencyContact types.EmergencyContact
	ZoneID           *uuid.UUID // nil lets the geocoder assign the nearest zone
}

// Meta identifies the acting principal for audit purposes.
type Meta struct {
	Principal types.Principal
	RequestID string
	SourceIP  string
}

// Create registers a new client; only admins onboard clients. The address is
// geocoded up front; an address outside the service area or an unresolvable
// one fails the create. Without an explicit zone the nearest zone center
// wins.
func (s *Service) Create(ctx context.Context, meta Meta, in CreateInput) (*types.Client, *types.CarePlan, error) {
	if err := authz.RequireRole(meta.Principal, types.RoleAdmin); err != nil {
		return nil, nil, err
	}

	if existing, err := s.store.FindDuplicate(ctx, in.FirstName, in.LastName, in.DateOfBirth); err == nil {
		return nil, nil, errs.New(errs.CodeDuplicateClient, "a client with this name and date of birth already exists").
			WithDetails(map[string]any{"existingClientId": existing.ID})
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	loc, err := s.geocoder.Geocode(ctx, in.Address)
	if err != nil {
		return nil, nil, err
	}

	zoneID, err := s.resolveZone(ctx, in.ZoneID, loc)
	if err != nil {
		return nil, nil, err
	}

	client := &types.Client{
		ID:               uuid.New(),
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		DateOfBirth:      in.DateOfBirth,
		Address:          in.Address,
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		Phone:            in.Phone,
		EmergencyContact: in.EmergencyContact,
		ZoneID:           zoneID,
	}
	plan, err := s.store.Create(ctx, client)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, nil, errs.New(errs.CodeDuplicateClient, "a client with this name and date of birth already exists")
		}
		return nil, nil, err
	}

	s.invalidateLists(ctx, client.ZoneID)
	s.recordAudit(ctx, meta, "client.create", client.ID, audit.Diff(map[string]audit.FieldChange{
		"client": {Old: nil, New: client.ID},
	}))
	return client, plan, nil
}

// Get returns one client, cache-first. The zone predicate runs on cache hits
// too, and a zone miss reads as NOT_FOUND so the row's existence is hidden.
func (s *Service) Get(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Client, error) {
	key := cache.ClientDetailKey(id)

	var cached types.Client
	if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
		if !authz.CanAccessZone(p, cached.ZoneID) {
			return nil, errs.NotFound("client")
		}
		return &cached, nil
	}

	client, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("client")
		}
		return nil, err
	}
	if !authz.CanAccessZone(p, client.ZoneID) {
		return nil, errs.NotFound("client")
	}

	s.cache.SetJSON(ctx, key, client, cache.DetailTTL)
	return client, nil
}

// Page is one page of a client list.
type Page struct {
	Clients []*types.Client `json:"clients"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

// List returns zone-scoped clients. Caregivers and coordinators are pinned
// to their own zone regardless of the requested filter; admins may filter or
// see all.
func (s *Service) List(ctx context.Context, p types.Principal, zoneID *uuid.UUID, search string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	scope := "all"
	if p.Role != types.RoleAdmin {
		zoneID = &p.ZoneID
	}
	if zoneID != nil {
		scope = zoneID.String()
	}

	key := cache.ClientListKey(scope, search, page, limit)
	var cached Page
	if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	rows, total, err := s.store.List(ctx, storage.ClientFilter{
		ZoneID: zoneID,
		Search: search,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}

	result := &Page{Clients: rows, Total: total, Page: page, Limit: limit}
	s.cache.SetJSON(ctx, key, result, cache.ListTTL)
	return result, nil
}

// nullValue is private so only this package can mint the sentinel; an
// arbitrary request value can never compare equal to Null.
type nullValue struct{}

// Null marks a field explicitly set to JSON null in a PATCH body. Absent
// fields never reach the service.
var Null any = nullValue{}

// Update applies a partial update. Fields holds only keys present in the
// request body, with explicit nulls carrying NullSentinel. An address change
// re-geocodes and may move the client to a new zone, in which case both the
// old and new zone list caches are invalidated.
func (s *Service) Update(ctx context.Context, meta Meta, id uuid.UUID, fields map[string]any) (*types.Client, error) {
	if err := authz.RequireRole(meta.Principal, types.RoleCoordinator, types.RoleAdmin); err != nil {
		return nil, err
	}
	// Zone reassignment is an admin decision; coordinators cannot move a
	// client between zones directly. Automatic reassignment after an address
	// change still applies (resolveFields).
	if _, ok := fields["zoneId"]; ok && meta.Principal.Role != types.RoleAdmin {
		return nil, errs.New(errs.CodeForbidden, "only admins may change a client's zone")
	}

	before, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("client")
		}
		return nil, err
	}
	if !authz.CanAccessZone(meta.Principal, before.ZoneID) {
		return nil, errs.NotFound("client")
	}

	updates, err := s.resolveFields(ctx, before, fields)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return before, nil
	}

	if err := s.store.Update(ctx, id, updates); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errs.New(errs.CodeDuplicateClient, "a client with this name and date of birth already exists")
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("client")
		}
		return nil, err
	}

	after, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, cache.ClientDetailKey(id))
	s.invalidateLists(ctx, before.ZoneID)
	if after.ZoneID != before.ZoneID {
		s.invalidateLists(ctx, after.ZoneID)
	}

	s.recordAudit(ctx, meta, "client.update", id, diffClients(before, after))
	return after, nil
}

// GetCarePlan returns the client's current plan; the zone predicate runs
// against the owning client.
func (s *Service) GetCarePlan(ctx context.Context, p types.Principal, clientID uuid.UUID) (*types.CarePlan, error) {
	if _, err := s.Get(ctx, p, clientID); err != nil {
		return nil, err
	}
	plan, err := s.store.GetCarePlan(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("care plan")
		}
		return nil, err
	}
	return plan, nil
}

// PutCarePlan replaces the client's care plan and bumps its version.
func (s *Service) PutCarePlan(ctx context.Context, meta Meta, clientID uuid.UUID, plan *types.CarePlan) (*types.CarePlan, error) {
	if err := authz.RequireRole(meta.Principal, types.RoleCoordinator, types.RoleAdmin); err != nil {
		return nil, err
	}
	client, err := s.store.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("client")
		}
		return nil, err
	}
	if !authz.CanAccessZone(meta.Principal, client.ZoneID) {
		return nil, errs.NotFound("client")
	}

	plan.ID = uuid.New()
	plan.ClientID = clientID
	if plan.Medications == nil {
		plan.Medications = types.Medications{}
	}
	if plan.Allergies == nil {
		plan.Allergies = types.Allergies{}
	}
	if err := s.store.UpsertCarePlan(ctx, plan); err != nil {
		return nil, err
	}

	s.cache.Delete(ctx, cache.ClientDetailKey(clientID))
	s.recordAudit(ctx, meta, "careplan.update", clientID, audit.Diff(map[string]audit.FieldChange{
		"version": {Old: plan.Version - 1, New: plan.Version},
	}))
	return plan, nil
}

// resolveZone picks the client's zone: an explicit zone wins, otherwise the
// nearest zone center to the geocoded coordinates.
func (s *Service) resolveZone(ctx context.Context, explicit *uuid.UUID, loc *geocode.Result) (uuid.UUID, error) {
	if explicit != nil {
		return *explicit, nil
	}
	zone, err := s.assigner.Nearest(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return uuid.Nil, err
	}
	return zone.ID, nil
}

// resolveFields translates PATCH fields into store updates: null sentinels
// become SQL NULLs where the column allows it, and an address change
// re-geocodes before anything is written.
func (s *Service) resolveFields(ctx context.Context, before *types.Client, fields map[string]any) (map[string]any, error) {
	updates := make(map[string]any, len(fields))
	for name, value := range fields {
		if value == Null {
			switch name {
			case "phone", "emergencyContact":
				updates[name] = nil
				continue
			default:
				return nil, errs.Newf(errs.CodeValidation, "field %q cannot be null", name)
			}
		}
		updates[name] = value
	}

	if addr, ok := updates["address"].(string); ok && addr != before.Address {
		loc, err := s.geocoder.Geocode(ctx, addr)
		if err != nil {
			return nil, err
		}
		updates["latitude"] = loc.Latitude
		updates["longitude"] = loc.Longitude

		// Only reassign the zone automatically when the request does not
		// pin one explicitly.
		if _, pinned := updates["zoneId"]; !pinned {
			zone, err := s.assigner.Nearest(ctx, loc.Latitude, loc.Longitude)
			if err != nil {
				return nil, err
			}
			updates["zoneId"] = zone.ID
		}
	}
	return updates, nil
}

// invalidateLists drops every cached list page for a zone plus the admin
// unfiltered lists. Runs after commit; failures are logged inside the cache
// layer, never returned.
func (s *Service) invalidateLists(ctx context.Context, zoneID uuid.UUID) {
	s.cache.DeletePattern(ctx, cache.ClientListPattern(zoneID.String()))
	s.cache.DeletePattern(ctx, cache.ClientListPattern("all"))
}

func (s *Service) recordAudit(ctx context.Context, meta Meta, action string, objectID uuid.UUID, diff types.JSONMap) {
	err := s.audit.Record(ctx, &types.AuditEntry{
		ActorUserID:   meta.Principal.UserID,
		ActorRole:     meta.Principal.Role,
		Action:        action,
		ObjectType:    "client",
		ObjectID:      objectID,
		ChangedFields: diff,
		RequestID:     meta.RequestID,
		SourceIP:      meta.SourceIP,
	})
	if err != nil {
		log.Logger.Error().Err(err).
			Str("component", "clients").
			Str("action", action).
			Msg("Failed to record audit entry")
	}
}

// diffClients builds the audited field diff between two client rows.
func diffClients(before, after *types.Client) types.JSONMap {
	changes := map[string]audit.FieldChange{}
	if before.FirstName != after.FirstName {
		changes["firstName"] = audit.FieldChange{Old: before.FirstName, New: after.FirstName}
	}
	if before.LastName != after.LastName {
		changes["lastName"] = audit.FieldChange{Old: before.LastName, New: after.LastName}
	}
	if !before.DateOfBirth.Equal(after.DateOfBirth) {
		changes["dateOfBirth"] = audit.FieldChange{Old: before.DateOfBirth, New: after.DateOfBirth}
	}
	if before.Address != after.Address {
		changes["address"] = audit.FieldChange{Old: before.Address, New: after.Address}
	}
	if before.Phone != after.Phone {
		changes["phone"] = audit.FieldChange{Old: before.Phone, New: after.Phone}
	}
	if before.ZoneID != after.ZoneID {
		changes["zoneId"] = audit.FieldChange{Old: before.ZoneID, New: after.ZoneID}
	}
	if before.EmergencyContact != after.EmergencyContact {
		changes["emergencyContact"] = audit.FieldChange{Old: before.EmergencyContact, New: after.EmergencyContact}
	}
	return audit.Diff(changes)
}
