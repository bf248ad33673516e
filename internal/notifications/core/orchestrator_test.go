package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyroute/internal/routing"
	"notifyroute/internal/types"
)

func TestProcessEvent_DeliveryOutcomeMapping(t *testing.T) {
	tests := []struct {
		name       string
		send       func(context.Context, types.NotificationRequest) (bool, error)
		wantStatus types.NotificationStatus
		wantReason string
	}{
		{
			name:       "sender returns true",
			send:       func(context.Context, types.NotificationRequest) (bool, error) { return true, nil },
			wantStatus: types.StatusSent,
		},
		{
			name:       "sender returns false",
			send:       func(context.Context, types.NotificationRequest) (bool, error) { return false, nil },
			wantStatus: types.StatusFailed,
			wantReason: "handler returned false",
		},
		{
			name:       "sender returns error",
			send:       func(context.Context, types.NotificationRequest) (bool, error) { return false, errors.New("X") },
			wantStatus: types.StatusFailed,
			wantReason: "X",
		},
		{
			name:       "sender returns true with error",
			send:       func(context.Context, types.NotificationRequest) (bool, error) { return true, errors.New("partial") },
			wantStatus: types.StatusFailed,
			wantReason: "partial",
		},
		{
			name: "sender panics",
			send: func(context.Context, types.NotificationRequest) (bool, error) {
				panic("boom")
			},
			wantStatus: types.StatusFailed,
			wantReason: "sender panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{ch: types.ChannelEmail, fn: tt.send}
			h := newHarness(t, []routing.Rule{alwaysRule("all", 1, types.ChannelEmail)}, []types.ChannelSender{sender})

			out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))
			require.Equal(t, OutcomeRouted, out.Kind)

			reqs := h.store.RequestsForEvent(out.EventID)
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantStatus, reqs[0].Status)
			assert.Equal(t, tt.wantReason, reqs[0].FailureReason)
			assert.Equal(t, int32(1), sender.calls.Load())
		})
	}
}

func TestProcessEvent_NoHandlerForChannel(t *testing.T) {
	h := newHarness(t,
		[]routing.Rule{alwaysRule("all", 1, types.ChannelEmail, types.ChannelPush)},
		[]types.ChannelSender{succeeding(types.ChannelEmail)},
	)

	out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))
	require.Equal(t, OutcomeRouted, out.Kind)
	assert.Equal(t, 2, out.Requests)

	var push, email types.NotificationRequest
	for _, r := range h.store.RequestsForEvent(out.EventID) {
		switch r.Channel {
		case types.ChannelPush:
			push = r
		case types.ChannelEmail:
			email = r
		}
	}
	assert.Equal(t, types.StatusFailed, push.Status)
	assert.Contains(t, push.FailureReason, "no handler available")
	assert.Equal(t, "no handler available for channel PUSH", push.FailureReason)
	// A missing sender on one channel does not affect its sibling.
	assert.Equal(t, types.StatusSent, email.Status)
}

func TestProcessEvent_UnroutedEventIsStored(t *testing.T) {
	h := newHarness(t, routing.DefaultRules(), []types.ChannelSender{succeeding(types.ChannelEmail)})

	ev := types.NewEvent("NOBODY_LISTENS", "user@example.com", nil)
	out := h.process(t, ev)

	assert.Equal(t, OutcomeUnrouted, out.Kind)
	assert.Equal(t, "No matching routing rules", out.Message)
	assert.Equal(t, ev.ID, out.EventID)

	stored, ok := h.store.GetEvent(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "NOBODY_LISTENS", stored.EventType)
	assert.Equal(t, 0, h.store.RequestCount())
	assert.Equal(t, 1, h.metrics.outcomes[OutcomeUnrouted])
}

func TestProcessEvent_RoutedMessage(t *testing.T) {
	h := newHarness(t, routing.DefaultRules(), []types.ChannelSender{
		succeeding(types.ChannelEmail), succeeding(types.ChannelSMS),
	})

	out := h.process(t, types.NewEvent("PASSWORD_RESET", "user@example.com", map[string]any{"resetUrl": "https://x/y"}))

	assert.Equal(t, OutcomeRouted, out.Kind)
	assert.Equal(t, "Event processed successfully", out.Message)
	assert.Equal(t, "Event processed successfully", out.String())

	reqs := h.store.RequestsForEvent(out.EventID)
	require.Len(t, reqs, 1)
	assert.Equal(t, types.ChannelEmail, reqs[0].Channel)
	assert.Contains(t, reqs[0].Message, "https://x/y")
	assert.Equal(t, types.StatusSent, reqs[0].Status)
}

type panickingRouter struct{}

func (panickingRouter) RouteEvent(types.Event) []types.NotificationRequest { panic("rule exploded") }
func (panickingRouter) RuleCount() int                                    { return 1 }

func TestProcessEvent_RoutingPanicBecomesErrorOutcome(t *testing.T) {
	st := newHarness(t, nil, nil).store
	reg, err := NewSenderRegistry()
	require.NoError(t, err)
	orch, err := NewOrchestrator(panickingRouter{}, st, reg, &mockLogger{})
	require.NoError(t, err)

	ev := types.NewEvent("ANY", "user@example.com", nil)
	out := orch.ProcessEvent(context.Background(), ev).Await()

	assert.Equal(t, OutcomeError, out.Kind)
	assert.Equal(t, "Error: rule exploded", out.Message)
	_, ok := st.GetEvent(ev.ID)
	assert.True(t, ok, "event must be stored even when routing fails")
}

func TestProcessEvent_ConcurrentEvents(t *testing.T) {
	const n = 100
	h := newHarness(t,
		[]routing.Rule{alwaysRule("both", 1, types.ChannelEmail, types.ChannelSMS)},
		[]types.ChannelSender{succeeding(types.ChannelEmail), succeeding(types.ChannelSMS)},
		WithDispatcher(NewDispatcher(context.Background(), 8)),
	)

	futures := make([]*Future[Outcome], n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := types.NewEvent("ANY", fmt.Sprintf("user%d@example.com", i), nil)
			futures[i] = h.orch.ProcessEvent(context.Background(), ev)
		}(i)
	}
	wg.Wait()
	for _, f := range futures {
		out, err := f.AwaitWithTimeout(5 * time.Second)
		require.NoError(t, err)
		require.Equal(t, OutcomeRouted, out.Kind)
	}
	h.orch.Wait()

	assert.Equal(t, n, h.store.EventCount())
	assert.Equal(t, 2*n, h.store.RequestCount())
	assert.Equal(t, 2*n, h.store.SentCount())
	assert.Equal(t, 2*n, h.metrics.deliveries[MetricSuccess])
}

func TestDeliver_CancellationIsDistinctReason(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	blocking := &fakeSender{ch: types.ChannelSMS, fn: func(ctx context.Context, _ types.NotificationRequest) (bool, error) {
		close(started)
		<-ctx.Done()
		return false, fmt.Errorf("SMS sending interrupted: %w", ctx.Err())
	}}
	h := newHarness(t,
		[]routing.Rule{alwaysRule("sms", 1, types.ChannelSMS)},
		[]types.ChannelSender{blocking},
		WithDispatcher(NewDispatcher(base, 4)),
	)

	out := h.orch.ProcessEventSync(context.Background(), types.NewEvent("ANY", "+15550100", nil))
	require.Equal(t, OutcomeRouted, out.Kind)
	<-started
	cancel()
	h.orch.Wait()

	reqs := h.store.RequestsForEvent(out.EventID)
	require.Len(t, reqs, 1)
	assert.Equal(t, types.StatusFailed, reqs[0].Status)
	assert.Equal(t, "delivery interrupted: context canceled", reqs[0].FailureReason)
}

func TestDeliver_ChannelTimeout(t *testing.T) {
	slow := &fakeSender{ch: types.ChannelPush, fn: func(ctx context.Context, _ types.NotificationRequest) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}}
	h := newHarness(t,
		[]routing.Rule{alwaysRule("push", 1, types.ChannelPush)},
		[]types.ChannelSender{slow},
		WithChannelTimeouts(map[types.Channel]time.Duration{types.ChannelPush: 20 * time.Millisecond}),
	)

	out := h.process(t, types.NewEvent("ANY", "device-token", nil))

	reqs := h.store.RequestsForEvent(out.EventID)
	require.Len(t, reqs, 1)
	assert.Equal(t, types.StatusFailed, reqs[0].Status)
	assert.True(t, strings.HasPrefix(reqs[0].FailureReason, types.ReasonInterrupted))
	assert.Contains(t, reqs[0].FailureReason, "deadline exceeded")
}

func TestDeliver_SenderVerdictAfterDeadline(t *testing.T) {
	tests := []struct {
		name       string
		result     func(ctx context.Context) (bool, error)
		wantReason string
	}{
		{
			name:       "explicit false",
			result:     func(context.Context) (bool, error) { return false, nil },
			wantReason: types.ReasonHandlerFalse,
		},
		{
			name:       "unrelated error",
			result:     func(context.Context) (bool, error) { return false, errors.New("mailbox full") },
			wantReason: "mailbox full",
		},
		{
			name: "wrapped deadline",
			result: func(ctx context.Context) (bool, error) {
				return false, fmt.Errorf("Push sending interrupted: %w", ctx.Err())
			},
			wantReason: "delivery interrupted: context deadline exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{ch: types.ChannelPush, fn: func(ctx context.Context, _ types.NotificationRequest) (bool, error) {
				<-ctx.Done()
				return tt.result(ctx)
			}}
			h := newHarness(t,
				[]routing.Rule{alwaysRule("push", 1, types.ChannelPush)},
				[]types.ChannelSender{sender},
				WithChannelTimeouts(map[types.Channel]time.Duration{types.ChannelPush: 10 * time.Millisecond}),
			)

			out := h.process(t, types.NewEvent("ANY", "device-token", nil))

			reqs := h.store.RequestsForEvent(out.EventID)
			require.Len(t, reqs, 1)
			assert.Equal(t, types.StatusFailed, reqs[0].Status)
			assert.Equal(t, tt.wantReason, reqs[0].FailureReason)
		})
	}
}

func TestWait_CoversInFlightProcessEvent(t *testing.T) {
	slowMatch := routing.NewRule("slow", func(types.Event) bool {
		time.Sleep(50 * time.Millisecond)
		return true
	}, []types.Channel{types.ChannelEmail}, "hello", "subject", 1)
	h := newHarness(t, []routing.Rule{slowMatch}, []types.ChannelSender{succeeding(types.ChannelEmail)})

	f := h.orch.ProcessEvent(context.Background(), types.NewEvent("ANY", "user@example.com", nil))
	h.orch.Wait()

	assert.True(t, f.IsComplete())
	assert.Equal(t, 1, h.store.EventCount())
	assert.Equal(t, 1, h.store.RequestCount())
	assert.Equal(t, 1, h.store.SentCount())
}

func TestDispatcher_RejectedWhenBaseCancelled(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	sender := succeeding(types.ChannelEmail)
	h := newHarness(t,
		[]routing.Rule{alwaysRule("email", 1, types.ChannelEmail)},
		[]types.ChannelSender{sender},
		WithDispatcher(NewDispatcher(base, 1)),
	)

	out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))

	reqs := h.store.RequestsForEvent(out.EventID)
	require.Len(t, reqs, 1)
	assert.Equal(t, types.StatusFailed, reqs[0].Status)
	assert.Equal(t, "delivery interrupted: context canceled", reqs[0].FailureReason)
	assert.Equal(t, int32(0), sender.calls.Load())
}

func TestDeliver_SameRequestTwice(t *testing.T) {
	sender := succeeding(types.ChannelEmail)
	h := newHarness(t, []routing.Rule{alwaysRule("email", 1, types.ChannelEmail)}, []types.ChannelSender{sender})

	out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))
	req := h.store.RequestsForEvent(out.EventID)[0]

	_, err := h.orch.Deliver(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	got, _ := h.store.GetRequest(req.ID)
	assert.Equal(t, types.StatusSent, got.Status)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestDeliver_UnknownRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.orch.Deliver(context.Background(), types.NotificationRequest{ID: "nope"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRequeue_RetriesFailedRequest(t *testing.T) {
	var attempt int
	var mu sync.Mutex
	flaky := &fakeSender{ch: types.ChannelEmail, fn: func(context.Context, types.NotificationRequest) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		if attempt == 1 {
			return false, errors.New("SMTP server temporarily unavailable")
		}
		return true, nil
	}}
	h := newHarness(t, []routing.Rule{alwaysRule("email", 1, types.ChannelEmail)}, []types.ChannelSender{flaky})

	out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))
	req := h.store.RequestsForEvent(out.EventID)[0]
	require.Equal(t, types.StatusFailed, req.Status)

	h.clock.Advance(time.Minute)
	requeued, err := h.orch.Requeue(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, requeued.Status)
	h.orch.Wait()

	got, _ := h.store.GetRequest(req.ID)
	assert.Equal(t, types.StatusSent, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastRetryAt)
	assert.Equal(t, testNow.Add(time.Minute), *got.LastRetryAt)

	status, ok := h.orch.DeliveryStatus(out.EventID)
	require.True(t, ok)
	require.Len(t, status.Attempts, 2)
	assert.Equal(t, "SMTP server temporarily unavailable", status.Attempts[0].Reason)
	assert.True(t, status.Attempts[1].Successful)
}

func TestRequeue_RejectsNonFailed(t *testing.T) {
	h := newHarness(t, []routing.Rule{alwaysRule("email", 1, types.ChannelEmail)}, []types.ChannelSender{succeeding(types.ChannelEmail)})
	out := h.process(t, types.NewEvent("ANY", "user@example.com", nil))
	req := h.store.RequestsForEvent(out.EventID)[0]

	_, err := h.orch.Requeue(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = h.orch.Requeue(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []types.DeadLetterEntry
	err     error
}

func (p *fakePublisher) PublishDeadLetter(_ context.Context, e types.DeadLetterEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return p.err
}

func TestDeadLetter_EscalatesAndPublishes(t *testing.T) {
	pub := &fakePublisher{err: errors.New("queue down")}
	failing := &fakeSender{ch: types.ChannelSMS, fn: func(context.Context, types.NotificationRequest) (bool, error) {
		return false, errors.New("Insufficient SMS credits")
	}}
	h := newHarness(t, []routing.Rule{alwaysRule("sms", 1, types.ChannelSMS)}, []types.ChannelSender{failing},
		WithDeadLetterPublisher(pub))

	out := h.process(t, types.NewEvent("ANY", "+15550100", nil))
	req := h.store.RequestsForEvent(out.EventID)[0]

	entry, err := h.orch.DeadLetter(context.Background(), req.ID)
	require.NoError(t, err, "publisher errors are not returned")
	assert.Equal(t, types.StatusDeadLetter, entry.Request.Status)
	assert.Equal(t, "Insufficient SMS credits", entry.Request.FailureReason)
	assert.Equal(t, testNow, entry.DeadLetteredAt)

	require.Len(t, pub.entries, 1)
	assert.Equal(t, req.ID, pub.entries[0].Request.ID)
	assert.Len(t, h.orch.DeadLetters(), 1)
	assert.Equal(t, 1, h.metrics.deadLetters)

	failed := h.orch.FailedDeliveries()
	require.Len(t, failed, 1)
	assert.Equal(t, types.StatusDeadLetter, failed[0].Status)

	_, err = h.orch.Requeue(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = h.orch.DeadLetter(context.Background(), req.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestDeliveryStatus(t *testing.T) {
	h := newHarness(t,
		[]routing.Rule{routing.ForEventType("ROUTED", "routed", []types.Channel{types.ChannelEmail, types.ChannelSMS}, "m", "s")},
		[]types.ChannelSender{succeeding(types.ChannelEmail)},
	)

	_, ok := h.orch.DeliveryStatus("unknown")
	assert.False(t, ok)
	assert.Empty(t, h.orch.AllDeliveryStatuses("unknown"))

	unrouted := h.process(t, types.NewEvent("OTHER", "user@example.com", nil))
	st, ok := h.orch.DeliveryStatus(unrouted.EventID)
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, st.Status)
	assert.Equal(t, unrouted.EventID, st.EventID)
	assert.NotNil(t, st.Attempts)

	routed := h.process(t, types.NewEvent("ROUTED", "user@example.com", nil))
	st, ok = h.orch.DeliveryStatus(routed.EventID)
	require.True(t, ok)
	assert.Equal(t, types.ChannelEmail, st.Channel)
	assert.Equal(t, types.StatusSent, st.Status)

	all := h.orch.AllDeliveryStatuses(routed.EventID)
	require.Len(t, all, 2)
	assert.Equal(t, types.ChannelSMS, all[1].Channel)
	assert.Equal(t, types.StatusFailed, all[1].Status)

	failed := h.orch.FailedDeliveries()
	require.Len(t, failed, 1)
	assert.Equal(t, "no handler available for channel SMS", failed[0].FailureReason)

	ev, ok := h.orch.Event(routed.EventID)
	require.True(t, ok)
	assert.Equal(t, "ROUTED", ev.EventType)
}

func TestServiceStatsAndHealth(t *testing.T) {
	h := newHarness(t, routing.DefaultRules(), []types.ChannelSender{
		succeeding(types.ChannelSMS),
		&fakeSender{ch: types.ChannelEmail, status: "Email service ready - SMTP connected",
			fn: func(context.Context, types.NotificationRequest) (bool, error) { return false, nil }},
	})

	h.process(t, types.NewEvent("USER_REGISTERED", "user@example.com", map[string]any{"name": "Ada"}))
	h.process(t, types.NewEvent("UNMATCHED", "user@example.com", nil))

	stats := h.orch.ServiceStats()
	assert.Equal(t, ServiceStats{
		EventsProcessed:   2,
		TotalRequests:     2,
		NotificationsSent: 1,
		FailedDeliveries:  1,
		DeadLetterCount:   0,
		AvailableChannels: []types.Channel{types.ChannelEmail, types.ChannelSMS},
		RoutingRules:      8,
	}, stats)

	health := h.orch.HealthInfo()
	assert.Equal(t, "healthy", health.Service.Status)
	assert.Equal(t, 2, health.Service.ChannelsAvailable)
	assert.Equal(t, 8, health.Service.RoutingRulesActive)
	assert.Equal(t, "in-memory", health.Service.StorageType)
	assert.Equal(t, "Email service ready - SMTP connected", health.Channels[types.ChannelEmail])
	assert.Equal(t, stats, health.Statistics)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, nil, nil)
	assert.Error(t, err)
}
