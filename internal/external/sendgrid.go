package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notifyroute/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridConfig configures SendGridClient.
type SendGridConfig struct {
	APIKey types.SecretString
	// BaseURL overrides the API endpoint, for tests.
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// SendGridClient implements EmailProvider with the SendGrid v3 Mail Send API.
// Calls go through BaseClient, so they share its breaker and retry policy.
type SendGridClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  types.Logger
}

var _ EmailProvider = (*SendGridClient)(nil)

// NewSendGridClient validates cfg and creates a SendGridClient. opts are
// passed to the underlying BaseClient.
func NewSendGridClient(cfg SendGridConfig, logger types.Logger, opts ...BaseClientOption) (*SendGridClient, error) {
	if cfg.APIKey.Unmask() == "" {
		return nil, fmt.Errorf("sendgrid: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NotifyRoute/1.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = types.NopLogger()
	}

	base := NewBaseClient(cfg.HTTPClient, "sendgrid", DefaultBreakerSettings(),
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		cfg.UserAgent, opts...)

	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}, nil
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Categories       []string                  `json:"categories,omitempty"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func buildSendGridMail(msg EmailMessage) sendGridMail {
	mail := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: msg.To}}}},
		From:             sendGridAddress{Email: msg.From},
		Subject:          msg.Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: msg.TextBody}},
	}
	if msg.Tag != "" {
		mail.Categories = []string{msg.Tag}
	}
	if msg.ReferenceID != "" {
		mail.CustomArgs = map[string]string{"reference_id": msg.ReferenceID}
	}
	return mail
}

// Send delivers msg and returns the X-Message-Id header. SendGrid answers
// 202 on success. 403 and 400 mean the message will never be accepted and
// wrap ErrRecipientRejected; 429 and 5xx are retried by BaseClient.
func (s *SendGridClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	body, err := json.Marshal(buildSendGridMail(msg))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal sendgrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build sendgrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}

	detail := readErrorBody(resp.Body)
	s.logger.Warn("sendgrid rejected message",
		"status", resp.StatusCode,
		"reference_id", msg.ReferenceID,
		"detail", detail,
	)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden:
		return "", fmt.Errorf("sendgrid %d: %s: %w", resp.StatusCode, detail, ErrRecipientRejected)
	default:
		return "", types.NewAppError(types.ErrCodeUpstreamChannel,
			fmt.Sprintf("sendgrid returned %d", resp.StatusCode), nil)
	}
}

// sendGridErrors is the error body shape of the v3 API.
type sendGridErrors struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var parsed sendGridErrors
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	return string(raw)
}
