// Package handlers contains the HTTP handlers for the notification API.
//
// Each handler depends on a narrow interface that *notifications/core.Orchestrator
// or *routing.Engine satisfies, and registers itself on a chi.Router.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"notifyroute/internal/core"
	ncore "notifyroute/internal/notifications/core"
	"notifyroute/internal/types"
)

const notAvailable = "N/A"

// EventProcessor accepts events and answers lookups about them.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, ev types.Event) *ncore.Future[ncore.Outcome]
	Event(eventID string) (types.Event, bool)
	DeliveryStatus(eventID string) (types.DeliveryStatus, bool)
}

// EventHandler serves event intake and per-event lookups.
type EventHandler struct {
	processor EventProcessor
	clock     types.Clock
	logger    *slog.Logger
}

// NewEventHandler creates an EventHandler. A nil clock uses the wall clock.
func NewEventHandler(p EventProcessor, clock types.Clock, l *slog.Logger) *EventHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &EventHandler{processor: p, clock: clock, logger: l}
}

// RegisterRoutes mounts the event routes.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{eventId}", h.Get)
	})
}

// CreateEventRequest is the POST /v1/events body.
type CreateEventRequest struct {
	EventID   string         `json:"eventId,omitempty"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload,omitempty"`
	Recipient string         `json:"recipient"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Priority  string         `json:"priority,omitempty"`
}

// ToEvent converts the wire form into a domain event.
func (req CreateEventRequest) ToEvent() types.Event {
	ev := types.Event{
		ID:        req.EventID,
		EventType: req.EventType,
		Payload:   req.Payload,
		Recipient: req.Recipient,
	}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}
	if req.Priority != "" {
		// Unknown names are kept verbatim so validation can report them.
		if p, ok := types.ParsePriority(req.Priority); ok {
			ev.Priority = p
		} else {
			ev.Priority = types.Priority(req.Priority)
		}
	}
	return ev
}

// EventAccepted is the 202 response for POST /v1/events.
type EventAccepted struct {
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSummary is the GET /v1/events/{eventId} response.
type EventSummary struct {
	EventID     string                   `json:"eventId"`
	EventType   string                   `json:"eventType"`
	Recipient   string                   `json:"recipient"`
	Priority    types.Priority           `json:"priority"`
	Timestamp   time.Time                `json:"timestamp"`
	Status      types.NotificationStatus `json:"status"`
	Channel     string                   `json:"channel"`
	RetryCount  int                      `json:"retryCount"`
	LastAttempt string                   `json:"lastAttempt"`
}

// Create handles POST /v1/events.
//
// The event is normalized, validated and handed to the processor, and the
// handler answers 202 without waiting. With ?wait=true it blocks until the
// outcome is known (bounded by the request deadline) and answers 200 with it.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	ev := req.ToEvent().Normalize(h.clock)
	if err := types.ValidateEvent(ev); err != nil {
		core.Error(w, r, err)
		return
	}

	// Processing outlives the request; keep its values but not its deadline.
	future := h.processor.ProcessEvent(context.WithoutCancel(r.Context()), ev)

	h.logger.InfoContext(r.Context(), "event accepted",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.EventType),
		slog.String("priority", string(ev.Priority)),
		slog.String("request_id", types.GetRequestID(r.Context())),
	)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		out, err := future.AwaitContext(r.Context())
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "timed out waiting for event outcome", err))
			return
		}
		core.JSON(w, r, http.StatusOK, out)
		return
	}

	core.JSON(w, r, http.StatusAccepted, EventAccepted{
		EventID:   ev.ID,
		Status:    "accepted",
		Message:   "Event accepted for processing",
		Timestamp: h.clock.Now(),
	})
}

// Get handles GET /v1/events/{eventId}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	ev, ok := h.processor.Event(eventID)
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent, "event not found", nil,
			map[string]any{"eventId": eventID}))
		return
	}

	summary := EventSummary{
		EventID:     ev.ID,
		EventType:   ev.EventType,
		Recipient:   ev.Recipient,
		Priority:    ev.Priority,
		Timestamp:   ev.Timestamp,
		Status:      types.StatusPending,
		Channel:     notAvailable,
		LastAttempt: notAvailable,
	}
	if st, ok := h.processor.DeliveryStatus(eventID); ok {
		summary.Status = st.Status
		summary.RetryCount = st.RetryCount
		if st.Channel != "" {
			summary.Channel = string(st.Channel)
		}
		if st.LastAttemptAt != nil {
			summary.LastAttempt = st.LastAttemptAt.UTC().Format(time.RFC3339)
		}
	}
	core.JSON(w, r, http.StatusOK, summary)
}
