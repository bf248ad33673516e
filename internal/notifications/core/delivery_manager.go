package core

import (
	"context"
	"fmt"
	"strings"

	"notifyroute/internal/types"
)

// Compile-time assertion that DeliveryManagerImpl implements DeliveryManager.
var _ DeliveryManager = (*DeliveryManagerImpl)(nil)

// DeliveryRepository is the slice of the entity store the DeliveryManager
// needs. store.MemoryStore satisfies it.
type DeliveryRepository interface {
	SaveRequest(req types.NotificationRequest) error
	MutateRequest(id string, fn func(*types.NotificationRequest) error) (types.NotificationRequest, error)
	SaveDeadLetter(entry types.DeadLetterEntry) error
	RecordAttempt(requestID string, a types.RetryAttempt) error
}

// DeliveryManagerImpl enforces the request state machine on top of a
// DeliveryRepository.
type DeliveryManagerImpl struct {
	repo   DeliveryRepository
	clock  types.Clock
	logger types.Logger
}

// NewDeliveryManager creates a new DeliveryManagerImpl.
func NewDeliveryManager(repo DeliveryRepository, clock types.Clock, logger types.Logger) *DeliveryManagerImpl {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &DeliveryManagerImpl{
		repo:   repo,
		clock:  clock,
		logger: logger,
	}
}

// Register persists req. It must be PENDING.
func (m *DeliveryManagerImpl) Register(_ context.Context, req types.NotificationRequest) error {
	if req.Status == "" {
		req.Status = types.StatusPending
	}
	if req.Status != types.StatusPending {
		return fmt.Errorf("Register: request %s has status %s: %w", req.ID, req.Status, types.ErrInvalidTransition)
	}
	if err := m.repo.SaveRequest(req); err != nil {
		return fmt.Errorf("Register: %w", err)
	}
	return nil
}

// transition applies next to a request after checking the state machine.
func (m *DeliveryManagerImpl) transition(id string, next types.NotificationStatus, apply func(*types.NotificationRequest)) (types.NotificationRequest, error) {
	return m.repo.MutateRequest(id, func(r *types.NotificationRequest) error {
		if !r.Status.CanTransition(next) {
			return fmt.Errorf("%s -> %s: %w", r.Status, next, types.ErrInvalidTransition)
		}
		r.Status = next
		if apply != nil {
			apply(r)
		}
		return nil
	})
}

// MarkSent records a successful delivery.
func (m *DeliveryManagerImpl) MarkSent(_ context.Context, requestID string) (types.NotificationRequest, error) {
	req, err := m.transition(requestID, types.StatusSent, func(r *types.NotificationRequest) {
		r.FailureReason = ""
	})
	if err != nil {
		return types.NotificationRequest{}, fmt.Errorf("MarkSent: %w", err)
	}

	m.recordAttempt(requestID, types.RetryAttempt{Timestamp: m.clock.Now(), Successful: true})
	m.logger.Info("delivery succeeded",
		"request_id", requestID,
		"event_id", req.EventID,
		"channel", string(req.Channel),
		"retry_count", req.RetryCount,
	)
	return req, nil
}

// MarkFailed records a failed delivery with a non-empty reason.
func (m *DeliveryManagerImpl) MarkFailed(_ context.Context, requestID, reason string) (types.NotificationRequest, error) {
	if strings.TrimSpace(reason) == "" {
		reason = types.ReasonUnknown
	}

	req, err := m.transition(requestID, types.StatusFailed, func(r *types.NotificationRequest) {
		r.FailureReason = reason
	})
	if err != nil {
		return types.NotificationRequest{}, fmt.Errorf("MarkFailed: %w", err)
	}

	m.recordAttempt(requestID, types.RetryAttempt{Timestamp: m.clock.Now(), Reason: reason})
	m.logger.Warn("delivery failed",
		"request_id", requestID,
		"event_id", req.EventID,
		"channel", string(req.Channel),
		"retry_count", req.RetryCount,
		"reason", reason,
	)
	return req, nil
}

// Requeue returns a FAILED request to PENDING for another attempt.
func (m *DeliveryManagerImpl) Requeue(_ context.Context, requestID string) (types.NotificationRequest, error) {
	now := m.clock.Now()
	req, err := m.transition(requestID, types.StatusPending, func(r *types.NotificationRequest) {
		r.RetryCount++
		r.LastRetryAt = &now
		r.FailureReason = ""
	})
	if err != nil {
		return types.NotificationRequest{}, fmt.Errorf("Requeue: %w", err)
	}

	m.logger.Info("delivery requeued",
		"request_id", requestID,
		"event_id", req.EventID,
		"channel", string(req.Channel),
		"retry_count", req.RetryCount,
	)
	return req, nil
}

// MarkDeadLetter escalates a FAILED request and stores its dead-letter entry.
func (m *DeliveryManagerImpl) MarkDeadLetter(_ context.Context, requestID string) (types.DeadLetterEntry, error) {
	req, err := m.transition(requestID, types.StatusDeadLetter, nil)
	if err != nil {
		return types.DeadLetterEntry{}, fmt.Errorf("MarkDeadLetter: %w", err)
	}

	entry := types.DeadLetterEntry{Request: req, DeadLetteredAt: m.clock.Now()}
	if err := m.repo.SaveDeadLetter(entry); err != nil {
		return types.DeadLetterEntry{}, fmt.Errorf("MarkDeadLetter: save entry: %w", err)
	}

	m.logger.Error("delivery dead-lettered",
		"request_id", requestID,
		"event_id", req.EventID,
		"channel", string(req.Channel),
		"retry_count", req.RetryCount,
		"reason", req.FailureReason,
	)
	return entry, nil
}

// recordAttempt is best effort; the status write has already happened.
func (m *DeliveryManagerImpl) recordAttempt(requestID string, a types.RetryAttempt) {
	if err := m.repo.RecordAttempt(requestID, a); err != nil {
		m.logger.Warn("failed to record delivery attempt",
			"request_id", requestID,
			"error", err.Error(),
		)
	}
}
