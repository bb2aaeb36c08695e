package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
)

// envelope is the uniform response shape: exactly one of Data or Error.
type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code      errs.Code `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

// respond writes a success envelope.
func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		log.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError translates a service error into the error envelope. This is
// the only place an error becomes an HTTP status; the cause, if any, is
// logged server-side and never serialized.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := errs.From(err)
	if appErr.Code == errs.CodeInternal {
		log.Logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	body := envelope{Error: &errorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: middleware.GetReqID(r.Context()),
	}}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Logger.Error().Err(encErr).Msg("Failed to encode error response")
	}
}

// decodeJSON parses a request body into dst with unknown fields rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.CodeValidation, "request body is not valid JSON", err)
	}
	return nil
}
