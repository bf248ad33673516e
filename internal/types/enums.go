package types

import "strings"

// Priority ranks how urgent an inbound Event is.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// AllPriorities lists every valid Priority from lowest to highest.
var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority parses a priority name case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
	ChannelPush    Channel = "PUSH"
	ChannelWebhook Channel = "WEBHOOK"
)

// AllChannels is the closed set of channels the service can route to.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// ParseChannel parses a channel name case-insensitively.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// NotificationStatus is the lifecycle state of a NotificationRequest.
type NotificationStatus string

const (
	StatusPending    NotificationStatus = "PENDING"
	StatusSent       NotificationStatus = "SENT"
	StatusFailed     NotificationStatus = "FAILED"
	StatusDeadLetter NotificationStatus = "DEAD_LETTER"
)

// CanTransition reports whether a request may move from s to next.
//
// PENDING resolves to SENT or FAILED. FAILED may be escalated to DEAD_LETTER
// or requeued to PENDING by the retry path. SENT and DEAD_LETTER are final.
func (s NotificationStatus) CanTransition(next NotificationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusDeadLetter || next == StatusPending
	default:
		return false
	}
}

// IsFailure reports whether the status represents a failed delivery.
func (s NotificationStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusDeadLetter
}
