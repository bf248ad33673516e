// Package sms provides the SMS channel sender.
package sms

import (
	"time"

	"notifyroute/internal/notifications/simulated"
	"notifyroute/internal/types"
)

// Status is reported by the SMS sender's health check.
const Status = "SMS gateway connected - Ready to send"

// Profile is the simulated SMS gateway: 50-150ms latency, 15% failures.
var Profile = simulated.Profile{
	Channel:       types.ChannelSMS,
	DisplayName:   "SMS",
	MinLatency:    50 * time.Millisecond,
	LatencySpread: 100 * time.Millisecond,
	FailureRate:   0.15,
	Errors: []string{
		"SMS gateway rate limit exceeded",
		"Invalid phone number format",
		"Carrier blocked the message",
		"Insufficient SMS credits",
		"Network timeout error",
		"Recipient phone is unreachable",
	},
	Status: Status,
}

// NewSender creates the simulated SMS sender.
func NewSender(logger types.Logger, opts ...simulated.Option) (*simulated.Sender, error) {
	return simulated.New(Profile, logger, opts...)
}
