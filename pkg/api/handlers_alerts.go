package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/authz"
	"github.com/berthcare/berthcare/pkg/cache"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/notify"
	"github.com/berthcare/berthcare/pkg/objectstore"
	"github.com/berthcare/berthcare/pkg/types"
)

type raiseAlertRequest struct {
	ClientID string `json:"clientId" validate:"required,uuid4"`
	Message  string `json:"message" validate:"required,max=500"`
	Priority string `json:"priority" validate:"required,oneof=urgent high routine"`
}

func (s *Server) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req raiseAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		respondError(w, r, errs.New(errs.CodeValidation, "clientId is not a valid UUID"))
		return
	}

	alert, err := s.alerts.Raise(r.Context(), principalFrom(r.Context()), notify.RaiseInput{
		ClientID: clientID,
		Message:  req.Message,
		Priority: req.Priority,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, alert)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "alertID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	alert, err := s.alerts.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, alert)
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.zoneList(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"zones": zones})
}

// zoneList serves zones cache-first; the table is reference data shared
// across all principals.
func (s *Server) zoneList(r *http.Request) ([]*types.Zone, error) {
	ctx := r.Context()

	var cached []*types.Zone
	if err := s.cache.GetJSON(ctx, cache.ZonesKey, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}
	zones, err := s.zones.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, cache.ZonesKey, zones, cache.ZonesTTL)
	return zones, nil
}

type documentUploadRequest struct {
	ClientID    string `json:"clientId" validate:"required,uuid4"`
	ContentType string `json:"contentType" validate:"required"`
	SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
}

// handleDocumentUploadURL grants a presigned PUT for a care document.
// Coordinators are scoped to their zone through the client row.
func (s *Server) handleDocumentUploadURL(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if err := authz.RequireRole(p, types.RoleCoordinator, types.RoleAdmin); err != nil {
		respondError(w, r, err)
		return
	}

	var req documentUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		respondError(w, r, errs.New(errs.CodeValidation, "clientId is not a valid UUID"))
		return
	}
	if _, err := s.clients.Get(r.Context(), p, clientID); err != nil {
		respondError(w, r, err)
		return
	}

	policy, err := objectstore.PolicyFor(objectstore.ArtifactDocument)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := policy.Validate(req.ContentType, req.SizeBytes); err != nil {
		respondError(w, r, err)
		return
	}

	key := objectstore.DocumentKey(p.UserID, req.ContentType, time.Now().UTC())
	url, err := s.objects.PresignUpload(r.Context(), key, req.ContentType, policy.URLExpiry)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, url)
}
