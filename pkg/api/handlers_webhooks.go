package api

import (
	"net/http"

	"github.com/berthcare/berthcare/pkg/errs"
	"github.com/berthcare/berthcare/pkg/log"
	"github.com/berthcare/berthcare/pkg/notify"
	"github.com/berthcare/berthcare/pkg/types"
)

// handleVoiceWebhook applies a Twilio voice status callback. The handler
// validates the signature, updates rows, and returns; any escalation work is
// queued so the response beats Twilio's timeout.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validTwilioRequest(w, r) {
		return
	}

	sid := r.PostFormValue("CallSid")
	status := types.DeliveryStatus(r.PostFormValue("CallStatus"))
	if sid == "" || status == "" {
		respondError(w, r, errs.New(errs.CodeValidation, "callback is missing CallSid or CallStatus"))
		return
	}

	if err := s.alerts.HandleVoiceStatus(r.Context(), sid, status); err != nil {
		if errs.IsCode(err, errs.CodeNotFound) {
			// Unknown SIDs happen when callbacks outlive their delivery rows.
			w.WriteHeader(http.StatusOK)
			return
		}
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSMSWebhook applies a Twilio SMS status callback.
func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validTwilioRequest(w, r) {
		return
	}

	sid := r.PostFormValue("MessageSid")
	status := types.DeliveryStatus(r.PostFormValue("MessageStatus"))
	if sid == "" || status == "" {
		respondError(w, r, errs.New(errs.CodeValidation, "callback is missing MessageSid or MessageStatus"))
		return
	}

	if err := s.alerts.HandleSMSStatus(r.Context(), sid, status); err != nil {
		if errs.IsCode(err, errs.CodeNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// validTwilioRequest checks X-Twilio-Signature over the public callback URL
// and the form parameters. A bad signature is rejected without detail.
func (s *Server) validTwilioRequest(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		respondError(w, r, errs.Wrap(errs.CodeValidation, "callback form is not parseable", err))
		return false
	}

	fullURL := s.cfg.PublicWebhookBase + r.URL.Path
	signature := r.Header.Get("X-Twilio-Signature")
	if !notify.ValidateTwilioSignature(s.cfg.TwilioAuthToken, fullURL, r.PostForm, signature) {
		log.Logger.Warn().
			Str("component", "api").
			Str("path", r.URL.Path).
			Msg("Rejected webhook with invalid signature")
		respondError(w, r, errs.Forbidden())
		return false
	}
	return true
}
