package types

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Failure reasons written by the delivery path. Senders supply their own
// reasons for transient failures; these cover the cases the orchestrator
// decides itself.
const (
	// ReasonNoHandlerPrefix starts the reason recorded when no sender is
	// registered for a request's channel. Such failures are configuration
	// gaps and are never retried.
	ReasonNoHandlerPrefix = "no handler available for channel "
	ReasonHandlerFalse    = "handler returned false"
	ReasonInterrupted     = "delivery interrupted"
	ReasonUnknown         = "unknown failure"
)

// Event is an inbound business occurrence that may produce notifications.
// Events are treated as immutable once normalized; pass them by value.
type Event struct {
	ID        string         `json:"eventId"`
	EventType string         `json:"eventType" validate:"required"`
	Payload   map[string]any `json:"payload,omitempty"`
	Recipient string         `json:"recipient" validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  Priority       `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// NewEvent builds a normalized Event with a generated ID, the current time,
// and MEDIUM priority.
func NewEvent(eventType, recipient string, payload map[string]any) Event {
	return Event{
		EventType: eventType,
		Recipient: recipient,
		Payload:   payload,
	}.Normalize(RealClock{})
}

// Normalize fills in defaults: a random ID if absent, the clock's current time
// if the timestamp is zero, and MEDIUM if no priority was given. The payload
// map is shallow-copied so later mutation by the caller cannot leak in.
func (e Event) Normalize(clock Clock) Event {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	e.Payload = maps.Clone(e.Payload)
	return e
}

// NotificationRequest is one rendered, channel-specific delivery derived from
// an Event. The orchestrator mutates it as attempts complete; routing never
// does.
type NotificationRequest struct {
	ID            string             `json:"requestId"`
	EventID       string             `json:"eventId"`
	Channel       Channel            `json:"channel"`
	Recipient     string             `json:"recipient"`
	Subject       string             `json:"subject"`
	Message       string             `json:"message"`
	Priority      Priority           `json:"priority"`
	CreatedAt     time.Time          `json:"createdAt"`
	Status        NotificationStatus `json:"status"`
	RetryCount    int                `json:"retryCount"`
	LastRetryAt   *time.Time         `json:"lastRetryAt,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
}

// NewNotificationRequest creates a PENDING request for the given event and
// channel.
func NewNotificationRequest(ev Event, ch Channel, subject, message string, now time.Time) NotificationRequest {
	return NotificationRequest{
		ID:        uuid.NewString(),
		EventID:   ev.ID,
		Channel:   ch,
		Recipient: ev.Recipient,
		Subject:   subject,
		Message:   message,
		Priority:  ev.Priority,
		CreatedAt: now,
		Status:    StatusPending,
	}
}

// Clone returns a deep copy of the request.
func (r NotificationRequest) Clone() NotificationRequest {
	if r.LastRetryAt != nil {
		t := *r.LastRetryAt
		r.LastRetryAt = &t
	}
	return r
}

// DeadLetterEntry is a request that exhausted its delivery path. It is
// stored apart from live requests and never modified after insertion.
type DeadLetterEntry struct {
	Request        NotificationRequest `json:"request"`
	DeadLetteredAt time.Time           `json:"deadLetteredAt"`
}

// RetryAttempt records a single historical delivery attempt.
type RetryAttempt struct {
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	Successful bool      `json:"successful"`
}

// DeliveryStatus is the read model exposed to the status API.
type DeliveryStatus struct {
	EventID       string             `json:"eventId"`
	RequestID     string             `json:"requestId,omitempty"`
	Channel       Channel            `json:"channel,omitempty"`
	Status        NotificationStatus `json:"status"`
	RetryCount    int                `json:"retryCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	LastAttemptAt *time.Time         `json:"lastAttemptAt,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
	Attempts      []RetryAttempt     `json:"retryAttempts"`
}

// DeliveryStatusFromRequest projects a request into its status view.
func DeliveryStatusFromRequest(r NotificationRequest, attempts []RetryAttempt) DeliveryStatus {
	if attempts == nil {
		attempts = []RetryAttempt{}
	}
	r = r.Clone()
	return DeliveryStatus{
		EventID:       r.EventID,
		RequestID:     r.ID,
		Channel:       r.Channel,
		Status:        r.Status,
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt,
		LastAttemptAt: r.LastRetryAt,
		FailureReason: r.FailureReason,
		Attempts:      attempts,
	}
}

// PendingDeliveryStatus is the view for an event that has no requests yet.
func PendingDeliveryStatus(eventID string, now time.Time) DeliveryStatus {
	return DeliveryStatus{
		EventID:   eventID,
		Status:    StatusPending,
		CreatedAt: now,
		Attempts:  []RetryAttempt{},
	}
}
