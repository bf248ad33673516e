// Package simulated provides a channel sender that stands in for a real
// provider. It sleeps for a random latency and fails at a configured rate
// with an error drawn from a provider-specific catalog.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"notifyroute/internal/types"
)

// Profile describes a simulated provider.
type Profile struct {
	Channel types.Channel
	// DisplayName is used in the interruption error, e.g. "SMS".
	DisplayName string
	MinLatency  time.Duration
	// LatencySpread is added on top of MinLatency: latency is drawn from
	// [MinLatency, MinLatency+LatencySpread).
	LatencySpread time.Duration
	FailureRate   float64
	Errors        []string
	Status        string
}

// Option configures a Sender.
type Option func(*Sender)

// WithRand injects the random source. Calls are serialized by the Sender.
func WithRand(r *rand.Rand) Option {
	return func(s *Sender) { s.rnd = r }
}

// WithSleep replaces the interruptible sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sender) { s.sleep = fn }
}

// WithFailures enables or disables random failures. Enabled by default.
func WithFailures(enabled bool) Option {
	return func(s *Sender) { s.failures = enabled }
}

// Sender implements types.ChannelSender for a Profile.
type Sender struct {
	profile  Profile
	logger   types.Logger
	failures bool
	sleep    func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ types.ChannelSender = (*Sender)(nil)

// New creates a Sender. A profile with failures must list at least one error.
func New(p Profile, logger types.Logger, opts ...Option) (*Sender, error) {
	if !p.Channel.Valid() {
		return nil, fmt.Errorf("simulated: unknown channel %q", p.Channel)
	}
	if p.FailureRate < 0 || p.FailureRate > 1 {
		return nil, fmt.Errorf("simulated: failure rate %v out of [0,1]", p.FailureRate)
	}
	if p.FailureRate > 0 && len(p.Errors) == 0 {
		return nil, fmt.Errorf("simulated: %s has a failure rate but no error catalog", p.Channel)
	}
	if p.DisplayName == "" {
		p.DisplayName = string(p.Channel)
	}
	if logger == nil {
		logger = types.NopLogger()
	}
	s := &Sender{
		profile:  p,
		logger:   logger.With("channel", string(p.Channel)),
		failures: true,
		sleep:    Sleep,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Channel implements types.ChannelSender.
func (s *Sender) Channel() types.Channel { return s.profile.Channel }

// Status implements types.ChannelSender.
func (s *Sender) Status() string { return s.profile.Status }

// Send waits for the simulated latency, then succeeds or fails with a
// catalog error. Cancellation during the wait returns an interruption error.
func (s *Sender) Send(ctx context.Context, req types.NotificationRequest) (bool, error) {
	latency, fail, msg := s.draw()

	if err := s.sleep(ctx, latency); err != nil {
		return false, fmt.Errorf("%s sending interrupted: %w", s.profile.DisplayName, err)
	}

	if fail {
		s.logger.Warn("simulated delivery failed",
			"request_id", req.ID,
			"reason", msg,
		)
		return false, errors.New(msg)
	}

	s.logger.Info("simulated delivery sent",
		"request_id", req.ID,
		"latency_ms", latency.Milliseconds(),
	)
	return true, nil
}

func (s *Sender) draw() (time.Duration, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latency := s.profile.MinLatency
	if s.profile.LatencySpread > 0 {
		latency += time.Duration(s.rnd.Int64N(int64(s.profile.LatencySpread)))
	}
	if !s.failures || s.profile.FailureRate == 0 || s.rnd.Float64() >= s.profile.FailureRate {
		return latency, false, ""
	}
	return latency, true, s.profile.Errors[s.rnd.IntN(len(s.profile.Errors))]
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
