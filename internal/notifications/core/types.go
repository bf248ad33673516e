// Package core is the delivery orchestrator. It persists inbound events,
// asks the routing engine for requests, fans each request out to its channel
// sender and records the outcome through the DeliveryManager.
package core

import (
	"context"
	"math/rand/v2"
	"time"

	"notifyroute/internal/types"
)

// OutcomeKind classifies the result of processing one event.
type OutcomeKind string

const (
	// OutcomeRouted means at least one request was created and dispatched.
	OutcomeRouted OutcomeKind = "routed"

	// OutcomeUnrouted means no rule matched. The event is still stored.
	OutcomeUnrouted OutcomeKind = "unrouted"

	// OutcomeError means routing or persistence failed unexpectedly.
	OutcomeError OutcomeKind = "error"
)

// Messages reported alongside each OutcomeKind.
const (
	MessageRouted   = "Event processed successfully"
	MessageUnrouted = "No matching routing rules"
	messageErrorFmt = "Error: %s"
)

// Outcome is the terminal result of ProcessEvent.
type Outcome struct {
	Kind     OutcomeKind `json:"outcome"`
	Message  string      `json:"message"`
	EventID  string      `json:"eventId"`
	Requests int         `json:"requests"`
}

func (o Outcome) String() string { return o.Message }

// DeliveryManager owns every status transition of a NotificationRequest.
// Each method performs exactly one write for the request it touches.
type DeliveryManager interface {
	// Register persists a new PENDING request.
	Register(ctx context.Context, req types.NotificationRequest) error

	// MarkSent moves a PENDING request to SENT.
	MarkSent(ctx context.Context, requestID string) (types.NotificationRequest, error)

	// MarkFailed moves a PENDING request to FAILED. An empty reason is
	// replaced with types.ReasonUnknown.
	MarkFailed(ctx context.Context, requestID, reason string) (types.NotificationRequest, error)

	// Requeue moves a FAILED request back to PENDING, increments RetryCount
	// and stamps LastRetryAt.
	Requeue(ctx context.Context, requestID string) (types.NotificationRequest, error)

	// MarkDeadLetter moves a FAILED request to DEAD_LETTER and records a
	// DeadLetterEntry for it.
	MarkDeadLetter(ctx context.Context, requestID string) (types.DeadLetterEntry, error)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// NotificationMetrics abstracts CloudWatch/telemetry operations for the
// delivery path.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult)
	RecordLatency(ctx context.Context, channel types.Channel, duration time.Duration)
	RecordEventOutcome(ctx context.Context, kind OutcomeKind)
	RecordDeadLetter(ctx context.Context, channel types.Channel)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the fraction of the computed delay that may be added or
	// subtracted at random. 0 disables jitter.
	Jitter float64
}

// DefaultRetryPolicy doubles from one second up to five minutes with 20% jitter.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      5 * time.Minute,
	BackoffFactor: 2.0,
	Jitter:        0.2,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay > float64(policy.MaxDelay) {
			break
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// CalculateNextRetryWithJitter applies ±policy.Jitter to CalculateNextRetry.
// rnd must return values in [0, 1); nil uses math/rand/v2.
func CalculateNextRetryWithJitter(policy RetryPolicy, attempt int, rnd func() float64) time.Duration {
	d := CalculateNextRetry(policy, attempt)
	if policy.Jitter <= 0 {
		return d
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	// Scale in [-Jitter, +Jitter).
	offset := (rnd()*2 - 1) * policy.Jitter
	jittered := time.Duration(float64(d) * (1 + offset))
	if jittered < 0 {
		return 0
	}
	return jittered
}
