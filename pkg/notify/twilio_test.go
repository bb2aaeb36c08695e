package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRedactPhone tests log-safe phone formatting
func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "****4567", redactPhone("+15551234567"))
	assert.Equal(t, "****", redactPhone("1234"))
	assert.Equal(t, "****", redactPhone(""))
}

// TestAlertTwiML tests XML escaping of the spoken message
func TestAlertTwiML(t *testing.T) {
	twiml := alertTwiML(`Client fell & says "help" <urgent>`)

	assert.Contains(t, twiml, "Client fell &amp; says &quot;help&quot; &lt;urgent&gt;")
	assert.NotContains(t, twiml, "<urgent>")
	assert.Contains(t, twiml, `<Say voice="alice">`)
	assert.Contains(t, twiml, "Press any key to acknowledge.")
}
