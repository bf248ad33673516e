package routing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyroute/internal/types"
)

const sampleRules = `
rules:
  - name: Invoice Overdue
    priority: 5
    channels: [EMAIL, webhook]
    match:
      event_type: INVOICE_OVERDUE
      priorities: [HIGH, CRITICAL]
    subject: "Invoice {invoiceId} overdue"
    message: "Invoice {invoiceId} is {days} days overdue"
  - name: Enterprise Plan Changes
    channels: [PUSH]
    match:
      payload_equals:
        plan: enterprise
    subject: "Plan update"
    message: "Your plan changed"
`

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	invoice := rules[0]
	assert.Equal(t, "Invoice Overdue", invoice.Name)
	assert.Equal(t, 5, invoice.Priority)
	assert.Equal(t, []types.Channel{types.ChannelEmail, types.ChannelWebhook}, invoice.Channels)

	high := types.Event{EventType: "INVOICE_OVERDUE", Priority: types.PriorityHigh}
	low := types.Event{EventType: "INVOICE_OVERDUE", Priority: types.PriorityLow}
	other := types.Event{EventType: "OTHER", Priority: types.PriorityHigh}
	assert.True(t, invoice.Condition(high))
	assert.False(t, invoice.Condition(low))
	assert.False(t, invoice.Condition(other))

	plan := rules[1]
	assert.Equal(t, DefaultRulePriority, plan.Priority)
	assert.True(t, plan.Condition(types.Event{Payload: map[string]any{"plan": "enterprise"}}))
	assert.False(t, plan.Condition(types.Event{Payload: map[string]any{"plan": "free"}}))
	assert.False(t, plan.Condition(types.Event{}))
}

func TestLoadRules_RoutesThroughEngine(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(sampleRules))
	require.NoError(t, err)
	e, err := NewEngine(nil, nil, rules...)
	require.NoError(t, err)

	ev := types.NewEvent("INVOICE_OVERDUE", "billing@example.com", map[string]any{"invoiceId": "INV-3", "days": 12})
	ev.Priority = types.PriorityHigh

	reqs := e.RouteEvent(ev)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Invoice INV-3 is 12 days overdue", reqs[0].Message)
	assert.Equal(t, "Invoice INV-3 overdue", reqs[0].Subject)
}

func TestLoadRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown channel", "rules:\n  - name: x\n    channels: [FAX]\n    match: {event_type: A}\n", "unknown channel"},
		{"no matcher", "rules:\n  - name: x\n    channels: [EMAIL]\n", "at least one of"},
		{"bad priority", "rules:\n  - name: x\n    channels: [EMAIL]\n    match: {priorities: [URGENT]}\n", "unknown priority"},
		{"no channels", "rules:\n  - name: x\n    match: {event_type: A}\n", "at least one channel"},
		{"unknown field", "rules:\n  - name: x\n    channel: [EMAIL]\n", "channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRules_EmptyDocument(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
