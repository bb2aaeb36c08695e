package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/objectstore"
	"github.com/berthcare/berthcare/pkg/types"
	"github.com/berthcare/berthcare/pkg/visits"
)

type checkInRequest struct {
	ClientID           string   `json:"clientId" validate:"required,uuid4"`
	ScheduledStartTime *string  `json:"scheduledStartTime" validate:"omitempty"`
	Latitude           *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude          *float64 `json:"longitude" validate:"omitempty,longitude"`
	CopiedFromVisitID  *string  `json:"copiedFromVisitId" validate:"omitempty,uuid4"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
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

	in := visits.CheckInInput{
		ClientID:  clientID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if req.ScheduledStartTime != nil {
		at, err := time.Parse(time.RFC3339, *req.ScheduledStartTime)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "scheduledStartTime must be RFC 3339"))
			return
		}
		in.ScheduledStartTime = &at
	}
	if req.CopiedFromVisitID != nil {
		sourceID, err := uuid.Parse(*req.CopiedFromVisitID)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "copiedFromVisitId is not a valid UUID"))
			return
		}
		in.CopiedFromVisitID = &sourceID
	}

	visit, doc, err := s.visits.CheckIn(r.Context(), s.visitMeta(r), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, map[string]any{"visit": visit, "documentation": doc})
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	detail, err := s.visits.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, detail)
}

func (s *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := visits.ListInput{
		Page:  queryInt(q.Get("page"), 1),
		Limit: queryInt(q.Get("limit"), 20),
	}

	if c := q.Get("clientId"); c != "" {
		clientID, err := uuid.Parse(c)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "clientId is not a valid UUID"))
			return
		}
		in.ClientID = &clientID
	}
	if st := q.Get("staffId"); st != "" {
		staffID, err := uuid.Parse(st)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "staffId is not a valid UUID"))
			return
		}
		in.StaffID = &staffID
	}
	if st := q.Get("status"); st != "" {
		status := types.VisitStatus(st)
		if !status.Valid() {
			respondError(w, r, errs.Newf(errs.CodeValidation, "unknown visit status %q", st))
			return
		}
		in.Status = &status
	}
	if d := q.Get("startDate"); d != "" {
		from, err := time.Parse("2006-01-02", d)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "startDate must be YYYY-MM-DD"))
			return
		}
		in.StartDate = &from
	}
	if d := q.Get("endDate"); d != "" {
		to, err := time.Parse("2006-01-02", d)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "endDate must be YYYY-MM-DD"))
			return
		}
		// End date is inclusive: the filter window closes at the next midnight.
		end := to.Add(24 * time.Hour)
		in.EndDate = &end
	}

	page, err := s.visits.List(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

type documentationRequest struct {
	VitalSigns   types.JSONMap    `json:"vitalSigns"`
	Activities   types.Activities `json:"activities"`
	Observations *string          `json:"observations" validate:"omitempty,max=5000"`
	Concerns     *string          `json:"concerns" validate:"omitempty,max=5000"`
}

func (s *Server) handleUpdateDocumentation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req documentationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	doc, err := s.visits.UpdateDocumentation(r.Context(), s.visitMeta(r), id, visits.DocumentationInput{
		VitalSigns:   req.VitalSigns,
		Activities:   req.Activities,
		Observations: req.Observations,
		Concerns:     req.Concerns,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, doc)
}

type updateVisitRequest struct {
	VitalSigns   types.JSONMap    `json:"vitalSigns"`
	Activities   types.Activities `json:"activities"`
	Observations *string          `json:"observations" validate:"omitempty,max=5000"`
	Concerns     *string          `json:"concerns" validate:"omitempty,max=5000"`
	CheckOut     *checkOutRequest `json:"checkOut"`
	Status       *string          `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
}

// handleUpdateVisit is the combined PATCH surface: documentation fields,
// a check-out block, and a status change may arrive in one request.
// Documentation lands first so notes written at the door are saved even
// when the accompanying check-out is rejected.
func (s *Server) handleUpdateVisit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req updateVisitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	hasDoc := req.VitalSigns != nil || req.Activities != nil ||
		req.Observations != nil || req.Concerns != nil
	if !hasDoc && req.CheckOut == nil && req.Status == nil {
		respondError(w, r, errs.New(errs.CodeValidation, "request body must carry documentation fields, a checkOut block, or a status"))
		return
	}

	meta := s.visitMeta(r)
	result := map[string]any{}

	if hasDoc {
		doc, err := s.visits.UpdateDocumentation(r.Context(), meta, id, visits.DocumentationInput{
			VitalSigns:   req.VitalSigns,
			Activities:   req.Activities,
			Observations: req.Observations,
			Concerns:     req.Concerns,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		result["documentation"] = doc
	}

	switch {
	case req.CheckOut != nil:
		visit, err := s.visits.CheckOut(r.Context(), meta, id, visits.CheckOutInput{
			Latitude:     req.CheckOut.Latitude,
			Longitude:    req.CheckOut.Longitude,
			SignatureKey: req.CheckOut.SignatureKey,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		result["visit"] = visit
	case req.Status != nil:
		visit, err := s.visits.Transition(r.Context(), meta, id, types.VisitStatus(*req.Status))
		if err != nil {
			respondError(w, r, err)
			return
		}
		result["visit"] = visit
	}

	respond(w, http.StatusOK, result)
}

type checkOutRequest struct {
	Latitude     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,longitude"`
	SignatureKey string   `json:"signatureKey" validate:"omitempty,max=512"`
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req checkOutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	visit, err := s.visits.CheckOut(r.Context(), s.visitMeta(r), id, visits.CheckOutInput{
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		SignatureKey: req.SignatureKey,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, visit)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled in_progress completed cancelled"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	visit, err := s.visits.Transition(r.Context(), s.visitMeta(r), id, types.VisitStatus(req.Status))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, visit)
}

type photoUploadRequest struct {
	Uploads []struct {
		ContentType string `json:"contentType" validate:"required"`
		SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
	} `json:"uploads" validate:"required,min=1,max=10,dive"`
}

func (s *Server) handlePhotoUploadURLs(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req photoUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	uploads := make([]visits.PhotoUploadInput, len(req.Uploads))
	for i, up := range req.Uploads {
		uploads[i] = visits.PhotoUploadInput{ContentType: up.ContentType, SizeBytes: up.SizeBytes}
	}

	urls, err := s.visits.IssuePhotoUploadURLs(r.Context(), principalFrom(r.Context()), id, uploads)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"uploads": urls})
}

type attachPhotoRequest struct {
	Key string `json:"key" validate:"required,max=512"`
}

func (s *Server) handleAttachPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req attachPhotoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	photo, err := s.visits.AttachPhoto(r.Context(), s.visitMeta(r), id, req.Key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, photo)
}

type signatureUploadRequest struct {
	Kind string `json:"kind" validate:"required,oneof=client caregiver"`
}

func (s *Server) handleSignatureUploadURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req signatureUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	url, err := s.visits.IssueSignatureUploadURL(r.Context(), principalFrom(r.Context()), id,
		objectstore.SignatureKind(req.Kind))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, url)
}

type attachSignatureRequest struct {
	Key string `json:"key" validate:"required,max=512"`
}

// handleAttachSignature records a signature the client already PUT to the
// presigned URL. The key must match the canonical layout for this visit.
func (s *Server) handleAttachSignature(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req attachSignatureRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	doc, err := s.visits.AttachSignature(r.Context(), s.visitMeta(r), id, req.Key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, doc)
}

func (s *Server) visitMeta(r *http.Request) visits.Meta {
	return visits.Meta{
		Principal: principalFrom(r.Context()),
		RequestID: middleware.GetReqID(r.Context()),
		SourceIP:  clientIP(r),
	}
}
