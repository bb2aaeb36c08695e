package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/identity"
	"github.com/berthcare/berthcare/pkg/types"
)

type registerRequest struct {
	Email     string  `json:"email" validate:"required,max=254"`
	Password  string  `json:"password" validate:"required,max=72"`
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Phone     string  `json:"phone" validate:"omitempty,e164"`
	Role      string  `json:"role" validate:"required,oneof=caregiver coordinator admin"`
	ZoneID    *string `json:"zoneId" validate:"omitempty,uuid4"`
	DeviceID  string  `json:"deviceId" validate:"required,max=128"`
}

type authResponse struct {
	User         *types.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	in := identity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      types.Role(req.Role),
		DeviceID:  req.DeviceID,
	}
	if req.ZoneID != nil {
		zoneID, err := uuid.Parse(*req.ZoneID)
		if err != nil {
			respondError(w, r, errs.New(errs.CodeValidation, "zoneId is not a valid UUID"))
			return
		}
		in.ZoneID = &zoneID
	}

	user, pair, err := s.identity.Register(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, authResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required,max=128"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	user, pair, err := s.identity.Login(r.Context(), req.Email, req.Password, req.DeviceID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, authResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		respondError(w, r, err)
		return
	}

	pair, err := s.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
		"expiresAt":   pair.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	raw, _ := r.Context().Value(accessKey).(string)
	expiry, _ := r.Context().Value(expiryKey).(time.Time)

	if err := s.identity.Logout(r.Context(), p, raw, expiry); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"loggedOut": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.identity.Me(r.Context(), principalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, user)
}
