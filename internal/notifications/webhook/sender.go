// Package webhook implements the WEBHOOK channel sender: each request is
// POSTed as a signed JSON envelope to a configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"notifyroute/internal/external"
	"notifyroute/internal/security"
	"notifyroute/internal/types"
)

// maxResponseBodyRead caps how much of a response body is read.
const maxResponseBodyRead = 1024

// Config configures a Sender.
type Config struct {
	URL       string
	Signer    Signer
	UserAgent string
	Timeout   time.Duration
	// MaxRedirects caps redirects followed by the SSRF-safe client.
	MaxRedirects int
	// CompressThreshold gzips bodies larger than this many bytes. 0 disables
	// compression.
	CompressThreshold int
	// AllowPrivate skips SSRF protection, for local development.
	AllowPrivate bool
	// Platform forces a payload dialect instead of detecting it from URL.
	Platform string

	Retry   external.RetryPolicy
	Breaker external.BreakerSettings
}

// Envelope is the JSON body delivered to the endpoint.
type Envelope struct {
	RequestID  string         `json:"requestId"`
	EventID    string         `json:"eventId"`
	Channel    types.Channel  `json:"channel"`
	Recipient  string         `json:"recipient"`
	Subject    string         `json:"subject"`
	Message    string         `json:"message"`
	Priority   types.Priority `json:"priority"`
	CreatedAt  time.Time      `json:"createdAt"`
	RetryCount int            `json:"retryCount"`
	SentAt     time.Time      `json:"sentAt"`
}

// Sender implements types.ChannelSender for webhooks.
type Sender struct {
	cfg       Config
	formatter Formatter
	client    *external.BaseClient
	clock     types.Clock
	logger    types.Logger
}

var _ types.ChannelSender = (*Sender)(nil)

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithClock injects the clock used for signatures and SentAt.
func WithClock(c types.Clock) SenderOption {
	return func(s *Sender) { s.clock = c }
}

// WithBaseClient replaces the HTTP client, for tests.
func WithBaseClient(c *external.BaseClient) SenderOption {
	return func(s *Sender) { s.client = c }
}

// NewSender validates cfg and builds a Sender. Unless AllowPrivate is set the
// destination is checked against the SSRF blocklist up front and on every
// dial.
func NewSender(ctx context.Context, cfg Config, logger types.Logger, opts ...SenderOption) (*Sender, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("webhook sender: invalid url %q", cfg.URL)
	}
	if logger == nil {
		logger = types.NopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NotifyRoute-Webhook/1.0"
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker = external.DefaultBreakerSettings()
	}

	formatters := DefaultFormatters()
	platform := formatters.Detect(cfg.URL, cfg.Platform)
	s := &Sender{
		cfg:       cfg,
		formatter: formatters.Get(platform),
		clock:     types.RealClock{},
		logger: logger.With(
			"channel", string(types.ChannelWebhook),
			"host", u.Host,
			"platform", string(platform),
		),
	}
	if warning, ok := DeprecationWarning(cfg.URL); ok {
		s.logger.Warn("webhook destination is deprecated", "warning", warning)
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		httpClient := &http.Client{Timeout: cfg.Timeout}
		if !cfg.AllowPrivate {
			guard := security.NewGuard(nil)
			if err := guard.ValidateURL(ctx, cfg.URL); err != nil {
				return nil, fmt.Errorf("webhook sender: %w", err)
			}
			httpClient = security.NewSafeHTTPClient(guard, cfg.Timeout, cfg.MaxRedirects)
		}
		s.client = external.NewBaseClient(httpClient, "webhook", cfg.Breaker, cfg.Retry, cfg.UserAgent)
	}
	return s, nil
}

// Channel implements types.ChannelSender.
func (s *Sender) Channel() types.Channel { return types.ChannelWebhook }

// Status implements types.ChannelSender.
func (s *Sender) Status() string {
	return fmt.Sprintf("Webhook endpoint configured (%s) - circuit %s",
		s.formatter.Platform(), s.client.BreakerState())
}

// Send POSTs req. A 2xx response is a delivery unless the platform reports a
// soft failure in the body. Any other non-retryable status is a refusal, and
// transport failures or exhausted retries are errors.
func (s *Sender) Send(ctx context.Context, req types.NotificationRequest) (bool, error) {
	now := s.clock.Now()
	body, err := s.formatter.Format(Envelope{
		RequestID:  req.ID,
		EventID:    req.EventID,
		Channel:    req.Channel,
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Message:    req.Message,
		Priority:   req.Priority,
		CreatedAt:  req.CreatedAt,
		RetryCount: req.RetryCount,
		SentAt:     now,
	})
	if err != nil {
		return false, fmt.Errorf("webhook: format %s payload: %w", s.formatter.Platform(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Notify-Request-ID", req.ID)

	// The signature covers the uncompressed JSON.
	if s.cfg.Signer.Enabled() {
		sig, err := s.cfg.Signer.Sign(body, now)
		if err != nil {
			return false, err
		}
		httpReq.Header.Set(SignatureHeader, sig)
	}

	payload := body
	if s.cfg.CompressThreshold > 0 && len(body) > s.cfg.CompressThreshold {
		payload, err = compress(body)
		if err != nil {
			return false, fmt.Errorf("webhook: compress: %w", err)
		}
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	httpReq.Body = io.NopCloser(bytes.NewReader(payload))
	httpReq.ContentLength = int64(len(payload))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if verr := s.formatter.ValidateResponse(resp.StatusCode, snippet); verr != nil {
			s.logger.Warn("webhook soft failure", "request_id", req.ID, "error", verr.Error())
			return false, verr
		}
		s.logger.Info("webhook delivered", "request_id", req.ID, "status", resp.StatusCode)
		return true, nil
	}

	s.logger.Warn("webhook refused",
		"request_id", req.ID,
		"status", resp.StatusCode,
		"body", truncate(snippet),
	)
	return false, nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
