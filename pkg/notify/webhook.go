package notify

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// request: HMAC-SHA1 over the full callback URL concatenated with every POST
// parameter name and value in lexicographic order, base64-encoded, keyed by
// the account auth token. Comparison is constant-time.
func ValidateTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	payload := fullURL
	for _, name := range names {
		// Twilio signs each parameter once with its first value.
		payload += name + form.Get(name)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
