// Package push provides the mobile push channel sender.
package push

import (
	"time"

	"notifyroute/internal/notifications/simulated"
	"notifyroute/internal/types"
)

const Status = "Push notification service ready - FCM/APNS connected"

// Profile is the simulated FCM/APNS gateway: 50-150ms latency, 8% failures.
var Profile = simulated.Profile{
	Channel:       types.ChannelPush,
	DisplayName:   "Push",
	MinLatency:    50 * time.Millisecond,
	LatencySpread: 100 * time.Millisecond,
	FailureRate:   0.08,
	Errors: []string{
		"Device token expired or invalid",
		"Push service temporarily unavailable",
		"Message payload too large",
		"Invalid push registration token",
		"Push notification quota exceeded",
		"Device not reachable (offline)",
		"Application not installed on device",
	},
	Status: Status,
}

// NewSender creates the simulated push sender.
func NewSender(logger types.Logger, opts ...simulated.Option) (*simulated.Sender, error) {
	return simulated.New(Profile, logger, opts...)
}
