package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyroute/internal/routing"
	"notifyroute/internal/store"
	"notifyroute/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSender delegates Send to fn and counts calls.
type fakeSender struct {
	ch     types.Channel
	fn     func(ctx context.Context, req types.NotificationRequest) (bool, error)
	status string
	calls  atomic.Int32
}

func (s *fakeSender) Channel() types.Channel { return s.ch }

func (s *fakeSender) Send(ctx context.Context, req types.NotificationRequest) (bool, error) {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

func (s *fakeSender) Status() string {
	if s.status == "" {
		return string(s.ch) + " ready"
	}
	return s.status
}

func succeeding(ch types.Channel) *fakeSender {
	return &fakeSender{ch: ch, fn: func(context.Context, types.NotificationRequest) (bool, error) { return true, nil }}
}

// recordingMetrics counts calls per kind.
type recordingMetrics struct {
	mu          sync.Mutex
	deliveries  map[MetricResult]int
	outcomes    map[OutcomeKind]int
	deadLetters int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deliveries: map[MetricResult]int{}, outcomes: map[OutcomeKind]int{}}
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, _ types.Channel, r MetricResult) {
	m.mu.Lock()
	m.deliveries[r]++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordLatency(context.Context, types.Channel, time.Duration) {}
func (m *recordingMetrics) RecordEventOutcome(_ context.Context, k OutcomeKind) {
	m.mu.Lock()
	m.outcomes[k]++
	m.mu.Unlock()
}
func (m *recordingMetrics) RecordDeadLetter(context.Context, types.Channel) {
	m.mu.Lock()
	m.deadLetters++
	m.mu.Unlock()
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// always routes every event to the given channels.
func alwaysRule(name string, priority int, channels ...types.Channel) routing.Rule {
	return routing.NewRule(name, func(types.Event) bool { return true }, channels,
		"hello {recipient}", "subject for {eventType}", priority)
}

type harness struct {
	orch    *Orchestrator
	store   *store.MemoryStore
	engine  *routing.Engine
	metrics *recordingMetrics
	clock   *mockClock
}

func newHarness(t *testing.T, rules []routing.Rule, senders []types.ChannelSender, opts ...Option) *harness {
	t.Helper()
	clock := &mockClock{now: testNow}
	engine, err := routing.NewEngine(&mockLogger{}, clock, rules...)
	require.NoError(t, err)
	reg, err := NewSenderRegistry(senders...)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	metrics := newRecordingMetrics()
	all := append([]Option{WithClock(clock), WithMetrics(metrics)}, opts...)
	orch, err := NewOrchestrator(engine, st, reg, &mockLogger{}, all...)
	require.NoError(t, err)

	return &harness{orch: orch, store: st, engine: engine, metrics: metrics, clock: clock}
}

func (h *harness) process(t *testing.T, ev types.Event) Outcome {
	t.Helper()
	out, err := h.orch.ProcessEvent(context.Background(), ev).AwaitWithTimeout(5 * time.Second)
	require.NoError(t, err)
	h.orch.Wait()
	return out
}
