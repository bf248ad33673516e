package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyroute/internal/types"
)

func TestFormatters_Detect(t *testing.T) {
	f := DefaultFormatters()
	tests := []struct {
		url      string
		override string
		want     Platform
	}{
		{"https://hooks.slack.com/services/T/B/X", "", PlatformSlack},
		{"https://discord.com/api/webhooks/1/abc", "", PlatformDiscord},
		{"https://org.webhook.office.com/webhookb2/x", "", PlatformTeams},
		{"https://prod-1.westus.logic.azure.com/workflows/x", "", PlatformTeams},
		{"https://chat.googleapis.com/v1/spaces/x/messages", "", PlatformGoogleChat},
		{"https://api.example.com/hooks", "", PlatformGeneric},
		{"https://api.example.com/hooks", "Slack", PlatformSlack},
		{"https://hooks.slack.com/services/x", "unknown", PlatformSlack},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Detect(tt.url, tt.override), tt.url)
	}
	assert.Equal(t, PlatformGeneric, f.Get("nope").Platform())
}

func TestFormatters_ProduceValidJSON(t *testing.T) {
	env := Envelope{
		RequestID: "r1",
		EventID:   "e1",
		Channel:   types.ChannelWebhook,
		Recipient: "ops",
		Subject:   "🚨 Urgent Notification",
		Message:   "🚨 URGENT: disk full - Please take immediate action.",
		Priority:  types.PriorityCritical,
	}
	for p, f := range DefaultFormatters() {
		body, err := f.Format(env)
		require.NoError(t, err, p)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded), p)
		assert.Contains(t, string(body), "disk full", p)
	}
}

func TestSlackFormatter_ValidateResponse(t *testing.T) {
	f := slackFormatter{}
	assert.NoError(t, f.ValidateResponse(200, []byte("ok")))
	assert.NoError(t, f.ValidateResponse(200, nil))
	assert.NoError(t, f.ValidateResponse(200, []byte(`{"ok":true}`)))
	assert.EqualError(t, f.ValidateResponse(200, []byte(`{"ok":false,"error":"invalid_auth"}`)), "slack: API error: invalid_auth")
	assert.EqualError(t, f.ValidateResponse(200, []byte("no_text")), "slack: API error: no_text")
}

func TestDeprecationWarning(t *testing.T) {
	_, ok := DeprecationWarning("https://org.webhook.office.com/x")
	assert.True(t, ok)
	_, ok = DeprecationWarning("https://hooks.slack.com/x")
	assert.False(t, ok)
}

func TestPriorityColor(t *testing.T) {
	assert.NotEqual(t, priorityColor(types.PriorityCritical), priorityColor(types.PriorityLow))
	assert.Equal(t, priorityColor(types.PriorityMedium), priorityColor(""))
}
