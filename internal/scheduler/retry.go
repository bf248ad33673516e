// Package scheduler runs periodic background jobs against the delivery
// orchestrator.
//
// The RetryScheduler scans FAILED requests on a fixed interval. Requests whose
// backoff has elapsed are requeued, and requests that exhausted their attempts
// are escalated to the dead-letter table. Configuration failures (no sender
// for the channel) are never retried.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"notifyroute/internal/notifications/core"
	"notifyroute/internal/types"
)

// DefaultScanInterval is used when RetryConfig.ScanInterval is zero.
const DefaultScanInterval = 5 * time.Second

// RetryTarget is the subset of the orchestrator the scheduler drives.
type RetryTarget interface {
	FailedDeliveries() []types.DeliveryStatus
	Requeue(ctx context.Context, requestID string) (types.NotificationRequest, error)
	DeadLetter(ctx context.Context, requestID string) (types.DeadLetterEntry, error)
}

// RetryConfig controls backoff and scan cadence.
type RetryConfig struct {
	Policy       core.RetryPolicy
	ScanInterval time.Duration
}

// RetryResult summarizes a single scan.
type RetryResult struct {
	Scanned      int
	Requeued     int
	DeadLettered int
	Skipped      int
	Errors       int
}

// RetryOption configures a RetryScheduler.
type RetryOption func(*RetryScheduler)

// WithRetryClock overrides the clock used by Run.
func WithRetryClock(c types.Clock) RetryOption {
	return func(s *RetryScheduler) { s.clock = c }
}

// WithRetryRand overrides the jitter source. f must return values in [0, 1).
func WithRetryRand(f func() float64) RetryOption {
	return func(s *RetryScheduler) { s.rnd = f }
}

// RetryScheduler requeues failed deliveries with exponential backoff.
type RetryScheduler struct {
	target RetryTarget
	cfg    RetryConfig
	clock  types.Clock
	rnd    func() float64
	logger types.Logger

	// One jitter draw per attempt, so repeated scans see a stable due time.
	mu     sync.Mutex
	jitter map[attemptKey]float64
}

type attemptKey struct {
	requestID  string
	retryCount int
}

// NewRetryScheduler validates cfg and applies defaults.
func NewRetryScheduler(target RetryTarget, cfg RetryConfig, logger types.Logger, opts ...RetryOption) (*RetryScheduler, error) {
	if target == nil {
		return nil, errors.New("scheduler: retry target is required")
	}
	if logger == nil {
		return nil, errors.New("scheduler: logger is required")
	}
	if cfg.Policy.MaxAttempts < 1 {
		return nil, errors.New("scheduler: max attempts must be at least 1")
	}
	if cfg.Policy.BaseDelay <= 0 || cfg.Policy.MaxDelay < cfg.Policy.BaseDelay {
		return nil, errors.New("scheduler: invalid backoff delays")
	}
	if cfg.Policy.BackoffFactor < 1 {
		cfg.Policy.BackoffFactor = core.DefaultRetryPolicy.BackoffFactor
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}

	s := &RetryScheduler{
		target: target,
		cfg:    cfg,
		clock:  types.RealClock{},
		rnd:    rand.Float64,
		logger: logger.With("component", "retry_scheduler"),
		jitter: make(map[attemptKey]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run scans on every tick until ctx is cancelled.
func (s *RetryScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started",
		"scan_interval", s.cfg.ScanInterval.String(),
		"max_attempts", s.cfg.Policy.MaxAttempts,
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			res := s.RunOnce(ctx, s.clock.Now())
			if res.Requeued > 0 || res.DeadLettered > 0 || res.Errors > 0 {
				s.logger.Info("retry scan complete",
					"scanned", res.Scanned,
					"requeued", res.Requeued,
					"dead_lettered", res.DeadLettered,
					"skipped", res.Skipped,
					"errors", res.Errors,
				)
			}
		}
	}
}

// RunOnce performs a single scan using now as the reference time.
func (s *RetryScheduler) RunOnce(ctx context.Context, now time.Time) RetryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res RetryResult
	waiting := make(map[attemptKey]struct{})
	defer func() {
		// A cut-short scan has not seen every waiting attempt.
		if ctx.Err() == nil {
			s.pruneJitter(waiting)
		}
	}()

	for _, d := range s.target.FailedDeliveries() {
		if ctx.Err() != nil {
			return res
		}
		if d.Status != types.StatusFailed {
			continue
		}
		res.Scanned++

		if strings.HasPrefix(d.FailureReason, types.ReasonNoHandlerPrefix) {
			res.Skipped++
			continue
		}

		if d.RetryCount >= s.cfg.Policy.MaxAttempts {
			if _, err := s.target.DeadLetter(ctx, d.RequestID); err != nil {
				res.Errors++
				s.logger.Warn("failed to dead-letter request",
					"request_id", d.RequestID,
					"error", err.Error(),
				)
				continue
			}
			res.DeadLettered++
			s.logger.Warn("request moved to dead letter",
				"request_id", d.RequestID,
				"event_id", d.EventID,
				"channel", string(d.Channel),
				"retry_count", d.RetryCount,
			)
			continue
		}

		if now.Before(s.dueAt(d)) {
			waiting[attemptKey{d.RequestID, d.RetryCount}] = struct{}{}
			res.Skipped++
			continue
		}

		if _, err := s.target.Requeue(ctx, d.RequestID); err != nil {
			// Another scan or a manual retry may have won the race.
			res.Errors++
			s.logger.Warn("failed to requeue request",
				"request_id", d.RequestID,
				"error", err.Error(),
			)
			continue
		}
		res.Requeued++
	}
	return res
}

// dueAt is the earliest time the request may be attempted again.
func (s *RetryScheduler) dueAt(d types.DeliveryStatus) time.Time {
	last := d.CreatedAt
	if d.LastAttemptAt != nil {
		last = *d.LastAttemptAt
	}
	key := attemptKey{d.RequestID, d.RetryCount}
	r, ok := s.jitter[key]
	if !ok {
		r = s.rnd()
		s.jitter[key] = r
	}
	return last.Add(core.CalculateNextRetryWithJitter(s.cfg.Policy, d.RetryCount, func() float64 { return r }))
}

// pruneJitter drops draws for attempts that are no longer waiting.
func (s *RetryScheduler) pruneJitter(waiting map[attemptKey]struct{}) {
	for k := range s.jitter {
		if _, ok := waiting[k]; !ok {
			delete(s.jitter, k)
		}
	}
}
