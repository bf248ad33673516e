package routing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyroute/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil, fixedClock{testNow}, DefaultRules()...)
	require.NoError(t, err)
	return e
}

func channelsOf(reqs []types.NotificationRequest) []types.Channel {
	out := make([]types.Channel, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Channel)
	}
	return out
}

func TestRouteEvent_UserRegistered(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("USER_REGISTERED", "new.user@example.com", map[string]any{"name": "Ada Lovelace"})

	reqs := e.RouteEvent(ev)

	require.Len(t, reqs, 2)
	assert.ElementsMatch(t, []types.Channel{types.ChannelEmail, types.ChannelSMS}, channelsOf(reqs))
	for _, r := range reqs {
		assert.Equal(t, ev.ID, r.EventID)
		assert.Equal(t, ev.Recipient, r.Recipient)
		assert.Equal(t, types.PriorityMedium, r.Priority)
		assert.Equal(t, types.StatusPending, r.Status)
		assert.Equal(t, 0, r.RetryCount)
		assert.Equal(t, testNow, r.CreatedAt)
		assert.Contains(t, r.Message, "Ada Lovelace")
		assert.Equal(t, "Welcome to our platform, Ada Lovelace!", r.Subject)
	}
	assert.NotEqual(t, reqs[0].ID, reqs[1].ID)
}

func TestRouteEvent_PasswordResetSingleChannel(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("PASSWORD_RESET", "user@example.com", map[string]any{"resetUrl": "https://x/y"})

	reqs := e.RouteEvent(ev)

	require.Len(t, reqs, 1)
	assert.Equal(t, types.ChannelEmail, reqs[0].Channel)
	assert.Contains(t, reqs[0].Message, "https://x/y")
	assert.NotContains(t, reqs[0].Message, "{resetUrl}")
	assert.Equal(t, "Password Reset Request", reqs[0].Subject)
}

func TestRouteEvent_NoMatchReturnsEmpty(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("UNKNOWN_EVENT", "user@example.com", nil)

	reqs := e.RouteEvent(ev)

	assert.NotNil(t, reqs)
	assert.Empty(t, reqs)
}

func TestRouteEvent_UnionChannelsHighestPriorityTemplate(t *testing.T) {
	always := func(types.Event) bool { return true }
	a := NewRule("A", always, []types.Channel{types.ChannelEmail}, "msg A", "subj A", 1)
	b := NewRule("B", always, []types.Channel{types.ChannelSMS}, "msg B", "subj B", 9)

	e, err := NewEngine(nil, nil, a, b)
	require.NoError(t, err)

	reqs := e.RouteEvent(types.NewEvent("ANY", "r", nil))

	require.Len(t, reqs, 2)
	assert.ElementsMatch(t, []types.Channel{types.ChannelEmail, types.ChannelSMS}, channelsOf(reqs))
	for _, r := range reqs {
		assert.Equal(t, "msg B", r.Message)
		assert.Equal(t, "subj B", r.Subject)
	}
}

func TestRouteEvent_HighPriorityOverridesTypeTemplate(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("PASSWORD_RESET", "user@example.com", map[string]any{
		"resetUrl": "https://x/y",
		"message":  "reset now",
	})
	ev.Priority = types.PriorityCritical

	reqs := e.RouteEvent(ev)

	// SMS comes from the high priority rule, EMAIL from both.
	require.Len(t, reqs, 2)
	assert.Equal(t, []types.Channel{types.ChannelSMS, types.ChannelEmail}, channelsOf(reqs))
	assert.Equal(t, "🚨 URGENT: reset now - Please take immediate action.", reqs[0].Message)
	assert.Equal(t, "🚨 Urgent Notification", reqs[0].Subject)
}

func TestRouteEvent_DuplicateChannelsDeduplicated(t *testing.T) {
	always := func(types.Event) bool { return true }
	r := NewRule("dup", always, []types.Channel{types.ChannelPush, types.ChannelPush, types.ChannelEmail}, "m", "s", 1)
	e, err := NewEngine(nil, nil, r)
	require.NoError(t, err)

	reqs := e.RouteEvent(types.NewEvent("X", "r", nil))
	assert.Equal(t, []types.Channel{types.ChannelPush, types.ChannelEmail}, channelsOf(reqs))
}

func TestRouteEvent_ChannelOrderIsStable(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("SECURITY_ALERT", "user@example.com", map[string]any{"alertType": "login"})
	ev.Priority = types.PriorityHigh

	first := channelsOf(e.RouteEvent(ev))
	for range 20 {
		assert.Equal(t, first, channelsOf(e.RouteEvent(ev)))
	}
}

func TestAddRule_KeepsSortedAndStable(t *testing.T) {
	always := func(types.Event) bool { return true }
	e, err := NewEngine(nil, nil,
		NewRule("low-1", always, []types.Channel{types.ChannelEmail}, "", "", 1),
		NewRule("high", always, []types.Channel{types.ChannelEmail}, "", "", 5),
		NewRule("low-2", always, []types.Channel{types.ChannelEmail}, "", "", 1),
	)
	require.NoError(t, err)
	require.NoError(t, e.AddRule(NewRule("mid", always, []types.Channel{types.ChannelSMS}, "", "", 3)))

	var names []string
	for _, r := range e.Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"high", "mid", "low-1", "low-2"}, names)
	assert.Equal(t, 4, e.RuleCount())
}

func TestAddRule_RejectsInvalid(t *testing.T) {
	e, err := NewEngine(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		rule Rule
	}{
		{"no name", NewRule("", func(types.Event) bool { return true }, []types.Channel{types.ChannelEmail}, "", "", 1)},
		{"no condition", NewRule("r", nil, []types.Channel{types.ChannelEmail}, "", "", 1)},
		{"no channels", NewRule("r", func(types.Event) bool { return true }, nil, "", "", 1)},
		{"bad channel", NewRule("r", func(types.Event) bool { return true }, []types.Channel{"FAX"}, "", "", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.AddRule(tt.rule)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeValidationInvalidRule, appErr.Code)
		})
	}
	assert.Equal(t, 0, e.RuleCount())
}

func TestRules_ReturnsCopy(t *testing.T) {
	e := newDefaultEngine(t)

	first := e.Rules()
	second := e.Rules()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Channels, second[i].Channels)
	}

	first[0].Name = "tampered"
	first[0].Channels[0] = types.ChannelWebhook

	again := e.Rules()
	assert.Equal(t, second[0].Name, again[0].Name)
	assert.Equal(t, second[0].Channels, again[0].Channels)
	assert.Equal(t, len(second), len(again))
}

func TestStats_DefaultRules(t *testing.T) {
	e := newDefaultEngine(t)

	st := e.Stats()

	assert.Equal(t, 8, st.TotalRules)
	assert.Equal(t, []string{
		"User Registration Welcome",
		"Payment Confirmation",
		"Order Shipped Notification",
		"High Priority Events",
		"Security Alert",
		"Password Reset Request",
		"Account Verification",
		"Low Priority Updates",
	}, st.RuleNames)
	assert.ElementsMatch(t, []types.Channel{types.ChannelEmail, types.ChannelSMS}, st.ChannelCoverage)
}

func TestDefaultRules_EvaluationOrder(t *testing.T) {
	e := newDefaultEngine(t)
	rules := e.Rules()

	assert.Equal(t, "High Priority Events", rules[0].Name)
	assert.Equal(t, "Security Alert", rules[1].Name)
	// Priority-1 rules keep insertion order.
	assert.Equal(t, "User Registration Welcome", rules[2].Name)
	assert.Equal(t, "Low Priority Updates", rules[len(rules)-1].Name)
}

func TestRouteEvent_ConcurrentWithAddRule(t *testing.T) {
	e := newDefaultEngine(t)
	ev := types.NewEvent("ORDER_SHIPPED", "user@example.com", map[string]any{"orderId": "7"})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = e.AddRule(ForEventType(fmt.Sprintf("EXTRA_%d", i), fmt.Sprintf("extra %d", i),
				[]types.Channel{types.ChannelPush}, "m", "s"))
		}(i)
	}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				reqs := e.RouteEvent(ev)
				if len(reqs) != 2 {
					t.Errorf("expected 2 requests, got %d", len(reqs))
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, e.RuleCount())
	rules := e.Rules()
	for i := 1; i < len(rules); i++ {
		assert.GreaterOrEqual(t, rules[i-1].Priority, rules[i].Priority)
	}
}

func TestRender(t *testing.T) {
	ev := types.Event{
		ID:        "evt-9",
		EventType: "PAYMENT_COMPLETED",
		Recipient: "payer@example.com",
		Timestamp: testNow,
		Payload:   map[string]any{"amount": 49.5, "transactionId": "tx-1", "missing": nil},
	}

	tests := []struct {
		name, tmpl, want string
	}{
		{"payload", "Payment of ${amount} ok. Transaction ID: {transactionId}", "Payment of $49.5 ok. Transaction ID: tx-1"},
		{"fixed fields", "{eventType} for {recipient} at {timestamp} ({eventId})",
			"PAYMENT_COMPLETED for payer@example.com at 2024-06-01T12:00:00Z (evt-9)"},
		{"unknown left verbatim", "Hello {name}", "Hello {name}"},
		{"nil value", "v={missing}", "v=null"},
		{"no placeholders", "plain text", "plain text"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, ev))
		})
	}
}

func TestRender_TotalOverPayloadKeys(t *testing.T) {
	payload := map[string]any{"a": 1, "b": "two", "c": true, "nested": map[string]any{"x": 1}}
	ev := types.NewEvent("T", "r", payload)

	var tmpl strings.Builder
	for k := range payload {
		tmpl.WriteString("[{" + k + "}]")
	}
	out := Render(tmpl.String(), ev)

	for k := range payload {
		assert.NotContains(t, out, "{"+k+"}")
	}
}
