package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notifyroute/internal/core"
	ncore "notifyroute/internal/notifications/core"
	"notifyroute/internal/types"
)

// StatusReader exposes delivery state and service health.
type StatusReader interface {
	DeliveryStatus(eventID string) (types.DeliveryStatus, bool)
	AllDeliveryStatuses(eventID string) []types.DeliveryStatus
	FailedDeliveries() []types.DeliveryStatus
	DeadLetters() []types.DeadLetterEntry
	Requeue(ctx context.Context, requestID string) (types.NotificationRequest, error)
	ServiceStats() ncore.ServiceStats
	HealthInfo() ncore.HealthInfo
}

// StatusHandler serves the /v1/status routes.
type StatusHandler struct {
	reader StatusReader
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(reader StatusReader, l *slog.Logger) *StatusHandler {
	if l == nil {
		l = slog.Default()
	}
	return &StatusHandler{reader: reader, logger: l}
}

// RegisterRoutes mounts the status routes.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Route("/status", func(r chi.Router) {
		r.Get("/delivery/{eventId}", h.GetDelivery)
		r.Get("/delivery/{eventId}/all", h.ListDeliveries)
		r.Get("/failed", h.ListFailed)
		r.Get("/dead-letter", h.ListDeadLetters)
		r.Post("/requests/{requestId}/retry", h.Retry)
		r.Get("/health", h.Health)
		r.Get("/metrics", h.Metrics)
	})
}

// GetDelivery handles GET /v1/status/delivery/{eventId}.
func (h *StatusHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	st, ok := h.reader.DeliveryStatus(eventID)
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent, "event not found", nil,
			map[string]any{"eventId": eventID}))
		return
	}
	core.JSON(w, r, http.StatusOK, st)
}

// ListDeliveries handles GET /v1/status/delivery/{eventId}/all. Unknown
// events yield an empty list.
func (h *StatusHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.reader.AllDeliveryStatuses(chi.URLParam(r, "eventId")))
}

// ListFailed handles GET /v1/status/failed.
func (h *StatusHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.reader.FailedDeliveries())
}

// ListDeadLetters handles GET /v1/status/dead-letter.
func (h *StatusHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries := h.reader.DeadLetters()
	if entries == nil {
		entries = []types.DeadLetterEntry{}
	}
	core.JSON(w, r, http.StatusOK, entries)
}

// Retry handles POST /v1/status/requests/{requestId}/retry. Only FAILED
// requests can be retried; anything else is a 409.
func (h *StatusHandler) Retry(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	req, err := h.reader.Requeue(context.WithoutCancel(r.Context()), requestID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "request requeued manually",
		slog.String("request_id", requestID),
		slog.String("event_id", req.EventID),
		slog.Int("retry_count", req.RetryCount),
	)
	core.JSON(w, r, http.StatusAccepted, req)
}

// Health handles GET /v1/status/health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.reader.HealthInfo())
}

// Metrics handles GET /v1/status/metrics.
func (h *StatusHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.reader.ServiceStats())
}
