package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/berthcare/berthcare/pkg/config"
)

// Sender places voice calls and sends SMS. The Twilio implementation is the
// only production one; tests substitute a fake.
type Sender interface {
	Call(ctx context.Context, to, twiml, statusCallback string) (sid string, err error)
	SendSMS(ctx context.Context, to, body, statusCallback string) (sid string, err error)
}

// TwilioSender dispatches through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSender builds a sender from configuration.
func NewTwilioSender(cfg *config.Config) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &TwilioSender{client: client, from: cfg.TwilioFromNumber}
}

// Call places an outbound voice call speaking the given TwiML. Twilio posts
// lifecycle updates to statusCallback.
func (t *TwilioSender) Call(ctx context.Context, to, twiml, statusCallback string) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetTwiml(twiml)
	params.SetStatusCallback(statusCallback)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetTimeout(25)

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to place call to %s: %w", redactPhone(to), err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("call to %s accepted without a sid", redactPhone(to))
	}
	return *resp.Sid, nil
}

// SendSMS sends one text message.
func (t *TwilioSender) SendSMS(ctx context.Context, to, body, statusCallback string) (string, error) {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)
	params.SetStatusCallback(statusCallback)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send sms to %s: %w", redactPhone(to), err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("sms to %s accepted without a sid", redactPhone(to))
	}
	return *resp.Sid, nil
}

// redactPhone keeps the last four digits for log correlation.
func redactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

// alertTwiML renders the spoken alert message. Twilio escapes nothing inside
// <Say>, so the message is XML-escaped before embedding.
func alertTwiML(message string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Say voice="alice">%s</Say><Say voice="alice">Press any key to acknowledge.</Say></Response>`,
		xmlEscape(message))
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}
