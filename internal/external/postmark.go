package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrz1836/postmark"

	"notifyroute/internal/types"
)

// Postmark error codes that mean the recipient will never accept mail.
// See https://postmarkapp.com/developer/api/overview#error-codes.
const (
	postmarkInvalidEmail   = 300
	postmarkInactiveRecip  = 406
	postmarkNotAllowedSend = 405
)

// ErrRecipientRejected is returned when Postmark refuses the recipient
// permanently.
var ErrRecipientRejected = errors.New("recipient rejected by provider")

// PostmarkConfig configures PostmarkClient.
type PostmarkConfig struct {
	ServerToken  types.SecretString
	AccountToken types.SecretString
	// BaseURL overrides the API endpoint, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// PostmarkClient implements EmailProvider with the Postmark transactional
// API.
type PostmarkClient struct {
	client *postmark.Client
	logger types.Logger
}

var _ EmailProvider = (*PostmarkClient)(nil)

// NewPostmarkClient validates cfg and creates a PostmarkClient.
func NewPostmarkClient(cfg PostmarkConfig, logger types.Logger) (*PostmarkClient, error) {
	if cfg.ServerToken.Unmask() == "" {
		return nil, fmt.Errorf("postmark: server token is required")
	}
	c := postmark.NewClient(cfg.ServerToken.Unmask(), cfg.AccountToken.Unmask())
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	if logger == nil {
		logger = types.NopLogger()
	}
	return &PostmarkClient{client: c, logger: logger}, nil
}

// Send delivers msg. A non-zero Postmark ErrorCode is an error; recipient
// rejections wrap ErrRecipientRejected.
func (p *PostmarkClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		Tag:      msg.Tag,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamChannel, "postmark request failed", err)
	}

	switch resp.ErrorCode {
	case 0:
	case postmarkInvalidEmail, postmarkInactiveRecip, postmarkNotAllowedSend:
		return "", fmt.Errorf("postmark error %d: %s: %w", resp.ErrorCode, resp.Message, ErrRecipientRejected)
	default:
		return "", types.NewAppError(types.ErrCodeUpstreamChannel,
			fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message), nil)
	}

	p.logger.Info("email accepted by postmark",
		"request_id", msg.ReferenceID,
		"message_id", resp.MessageID,
	)
	return resp.MessageID, nil
}
