package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/clients"
	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/types"
)

type createClientRequest struct {
	FirstName   string  `json:"firstName" validate:"required,max=100"`
	LastName    string  `json:"lastName" validate:"required,max=100"`
	DateOfBirth string  `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Address     string  `json:"address" validate:"required,max=500"`
	Phone       string  `json:"phone" validate:"omitempty,e164"`
	ZoneID      *string `json:"zoneId" validate:"omitempty,uuid4"`

	EmergencyContact struct {
		Name         string `json:"name" validate:"required,max=200"`
		Phone        string `json:"phone" validate:"required,e164"`
		Relationship string `json:"relationship" validate:"required,max=100"`
	} `json:"emergencyContact"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		respondError(w, r, errs.New(errs.CodeValidation, "dateOfBirth must be YYYY-MM-DD"))
		return
	}

	in := clients.CreateInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: dob,
		Address:     req.Address,
		Phone:       req.Phone,
		EmergencyContact: types.EmergencyContact{
			Name:         req.EmergencyContact.Name,
			Phone:        req.EmergencyContact.Phone,
			Relationship: req.EmergencyContact.Relationship,
		},
	}
	if req.ZoneID != nil {
		zoneID, err := uuid.Parse(*req.ZoneID)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "zoneId is not a valid UUID"))
			return
		}
		in.ZoneID = &zoneID
	}

	client, plan, err := s.clients.Create(r.Context(), s.meta(r), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, map[string]any{"client": client, "carePlan": plan})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "clientID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	client, err := s.clients.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, client)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var zoneID *uuid.UUID
	if z := q.Get("zoneId"); z != "" {
		parsed, err := uuid.Parse(z)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "zoneId is not a valid UUID"))
			return
		}
		zoneID = &parsed
	}

	page, err := s.clients.List(r.Context(), principalFrom(r.Context()),
		zoneID, q.Get("search"), queryInt(q.Get("page"), 1), queryInt(q.Get("limit"), 20))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// handleUpdateClient decodes the PATCH body into a raw field map so explicit
// nulls survive: a JSON null becomes the Null sentinel, an absent key is
// never seen.
func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "clientID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		respondError(w, r, err)
		return
	}

	fields, err := patchFields(raw)
	if err != nil {
		respondError(w, r, err)
		return
	}

	client, err := s.clients.Update(r.Context(), s.meta(r), id, fields)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, client)
}

// patchFields converts raw JSON members to typed update values.
func patchFields(raw map[string]json.RawMessage) (map[string]any, error) {
	fields := make(map[string]any, len(raw))
	for name, value := range raw {
		if string(value) == "null" {
			fields[name] = clients.Null
			continue
		}
		switch name {
		case "firstName", "lastName", "address", "phone":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, errs.Newf(errs.CodeValidation, "field %q must be a string", name)
			}
			fields[name] = s
		case "dateOfBirth":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, errs.New(errs.CodeValidation, "dateOfBirth must be a string")
			}
			dob, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil, errs.New(errs.CodeValidation, "dateOfBirth must be YYYY-MM-DD")
			}
			fields[name] = dob
		case "zoneId":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, errs.New(errs.CodeValidation, "zoneId must be a string")
			}
			zoneID, err := uuid.Parse(s)
			if err != nil {
				return nil, errs.New(errs.CodeValidation, "zoneId is not a valid UUID")
			}
			fields[name] = zoneID
		case "emergencyContact":
			var ec types.EmergencyContact
			if err := json.Unmarshal(value, &ec); err != nil {
				return nil, errs.New(errs.CodeValidation, "emergencyContact is not valid")
			}
			fields[name] = ec
		default:
			return nil, errs.Newf(errs.CodeValidation, "field %q is not updatable", name)
		}
	}
	return fields, nil
}

func (s *Server) handleGetCarePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "clientID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	plan, err := s.clients.GetCarePlan(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, plan)
}

type putCarePlanRequest struct {
	Summary             string            `json:"summary" validate:"max=2000"`
	Medications         types.Medications `json:"medications"`
	Allergies           types.Allergies   `json:"allergies"`
	SpecialInstructions string            `json:"specialInstructions" validate:"max=2000"`
}

func (s *Server) handlePutCarePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "clientID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req putCarePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	plan, err := s.clients.PutCarePlan(r.Context(), s.meta(r), id, &types.CarePlan{
		Summary:             req.Summary,
		Medications:         req.Medications,
		Allergies:           req.Allergies,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, plan)
}

type createCarePlanRequest struct {
	ClientID string `json:"clientId" validate:"required,uuid4"`
	putCarePlanRequest
}

// handleCreateCarePlan is the flat care-plan endpoint: the client is named
// in the body rather than the path. It shares the upsert semantics of PUT,
// so re-posting a plan bumps the version instead of conflicting.
func (s *Server) handleCreateCarePlan(w http.ResponseWriter, r *http.Request) {
	var req createCarePlanRequest
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

	plan, err := s.clients.PutCarePlan(r.Context(), s.meta(r), clientID, &types.CarePlan{
		Summary:             req.Summary,
		Medications:         req.Medications,
		Allergies:           req.Allergies,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, plan)
}

// meta captures the acting principal plus request metadata for audit trails.
func (s *Server) meta(r *http.Request) clients.Meta {
	return clients.Meta{
		Principal: principalFrom(r.Context()),
		RequestID: middleware.GetReqID(r.Context()),
		SourceIP:  clientIP(r),
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.Newf(errs.CodeValidation, "%s is not a valid UUID", name)
	}
	return id, nil
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
		if n > 1_000_000 {
			return fallback
		}
	}
	return n
}
