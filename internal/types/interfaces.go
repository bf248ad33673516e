package types

import (
	"context"
	"time"
)

// ChannelSender delivers a NotificationRequest over one channel.
//
// Send reports success with true. A false result without an error is an
// explicit refusal; an error carries a human-readable reason. Implementations
// must honour ctx cancellation.
type ChannelSender interface {
	// Channel returns the channel this sender serves.
	Channel() Channel

	// Send attempts delivery.
	Send(ctx context.Context, req NotificationRequest) (bool, error)

	// Status is a diagnostic readiness string. It is never used for control flow.
	Status() string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
