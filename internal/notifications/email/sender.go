// Package email implements the EMAIL channel sender. It delivers through an
// external.EmailProvider (Postmark or SendGrid) or, by default, a simulated
// SMTP relay.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"notifyroute/internal/external"
	"notifyroute/internal/notifications/simulated"
	"notifyroute/internal/types"
)

const (
	// SimulatedStatus is reported by the simulated relay.
	SimulatedStatus = "Email service ready - SMTP connected"
	// ProviderStatus is reported when a real provider is configured.
	ProviderStatus = "Email service ready - provider connected"
)

// ErrInvalidRecipient is returned for recipients that are not email
// addresses.
var ErrInvalidRecipient = errors.New("Invalid recipient email address")

// SimulatedProfile is the simulated SMTP relay: 100-300ms latency, 10%
// failures.
var SimulatedProfile = simulated.Profile{
	Channel:       types.ChannelEmail,
	DisplayName:   "Email",
	MinLatency:    100 * time.Millisecond,
	LatencySpread: 200 * time.Millisecond,
	FailureRate:   0.10,
	Errors: []string{
		"SMTP server temporarily unavailable",
		"Invalid recipient email address",
		"Message rejected by spam filter",
		"Connection timeout to email server",
		"Daily sending limit exceeded",
	},
	Status: SimulatedStatus,
}

// NewSimulatedSender creates the simulated email sender.
func NewSimulatedSender(logger types.Logger, opts ...simulated.Option) (*simulated.Sender, error) {
	return simulated.New(SimulatedProfile, logger, opts...)
}

// ProviderSender sends email through an external.EmailProvider.
type ProviderSender struct {
	provider external.EmailProvider
	from     string
	logger   types.Logger
}

var _ types.ChannelSender = (*ProviderSender)(nil)

// NewProviderSender creates a ProviderSender sending from the given address.
func NewProviderSender(provider external.EmailProvider, from string, logger types.Logger) (*ProviderSender, error) {
	if provider == nil {
		return nil, fmt.Errorf("email sender: provider is nil")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("email sender: invalid from address %q: %w", from, err)
	}
	if logger == nil {
		logger = types.NopLogger()
	}
	return &ProviderSender{provider: provider, from: from, logger: logger}, nil
}

// Channel implements types.ChannelSender.
func (s *ProviderSender) Channel() types.Channel { return types.ChannelEmail }

// Status implements types.ChannelSender.
func (s *ProviderSender) Status() string { return ProviderStatus }

// Send renders req into an email and hands it to the provider. Provider
// errors are returned as the failure reason.
func (s *ProviderSender) Send(ctx context.Context, req types.NotificationRequest) (bool, error) {
	s.logger.Info("attempting email delivery",
		"request_id", req.ID,
		"dest", Redact(req.Recipient),
	)

	if _, err := mail.ParseAddress(req.Recipient); err != nil {
		return false, ErrInvalidRecipient
	}

	msgID, err := s.provider.Send(ctx, external.EmailMessage{
		From:        s.from,
		To:          req.Recipient,
		Subject:     req.Subject,
		TextBody:    req.Message,
		Tag:         string(req.Priority),
		ReferenceID: req.ID,
	})
	if err != nil {
		if errors.Is(err, external.ErrRecipientRejected) {
			s.logger.Warn("recipient rejected by provider",
				"request_id", req.ID,
				"dest", Redact(req.Recipient),
			)
		}
		return false, err
	}

	s.logger.Info("email delivered", "request_id", req.ID, "message_id", msgID)
	return true, nil
}

// Redact masks the local part of an address for logging:
// "john@gmail.com" becomes "j***@gmail.com". Strings without "@" are fully
// masked.
func Redact(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
