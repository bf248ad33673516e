// Package config defines the process configuration for the notifyroute
// binaries. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"notifyroute/internal/types"
)

// SecretString is an alias for types.SecretString so secrets never reach logs.
type SecretString = types.SecretString

// Email provider identifiers accepted by EMAIL_PROVIDER.
const (
	EmailProviderSimulated = "simulated"
	EmailProviderPostmark  = "postmark"
	EmailProviderSendGrid  = "sendgrid"
)

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"notifyroute"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Routing  RoutingConfig
	Delivery DeliveryConfig
	Retry    RetryConfig
	Webhook  WebhookConfig
	Email    EmailConfig
	AWS      AWSConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	// RateLimitRPS throttles mutating requests per client IP. 0 disables.
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50" validate:"min=0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100" validate:"min=1"`
}

// RoutingConfig controls where routing rules come from.
type RoutingConfig struct {
	// RulesFile is an optional YAML rule file loaded on top of the defaults.
	RulesFile           string `envconfig:"RULES_FILE"`
	DisableDefaultRules bool   `envconfig:"DISABLE_DEFAULT_RULES" default:"false"`
}

// DeliveryConfig bounds dispatch and per-channel sender time.
type DeliveryConfig struct {
	MaxConcurrent    int           `envconfig:"MAX_CONCURRENT_DELIVERIES" default:"64" validate:"min=1,max=4096"`
	EmailTimeout     time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s" validate:"gt=0"`
	SMSTimeout       time.Duration `envconfig:"SMS_TIMEOUT" default:"5s" validate:"gt=0"`
	PushTimeout      time.Duration `envconfig:"PUSH_TIMEOUT" default:"5s" validate:"gt=0"`
	WebhookTimeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"15s" validate:"gt=0"`
	SimulateFailures bool          `envconfig:"SIMULATE_FAILURES" default:"true"`
}

// ChannelTimeouts returns the per-channel deadline map consumed by the
// orchestrator.
func (d DeliveryConfig) ChannelTimeouts() map[types.Channel]time.Duration {
	return map[types.Channel]time.Duration{
		types.ChannelEmail:   d.EmailTimeout,
		types.ChannelSMS:     d.SMSTimeout,
		types.ChannelPush:    d.PushTimeout,
		types.ChannelWebhook: d.WebhookTimeout,
	}
}

// RetryConfig drives the background retry scheduler.
type RetryConfig struct {
	Enabled      bool          `envconfig:"RETRY_ENABLED" default:"true"`
	MaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3" validate:"min=1,max=20"`
	BaseDelay    time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s" validate:"gt=0"`
	MaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5m" validate:"gtefield=BaseDelay"`
	Jitter       float64       `envconfig:"RETRY_JITTER" default:"0.2" validate:"min=0,max=1"`
	ScanInterval time.Duration `envconfig:"RETRY_SCAN_INTERVAL" default:"5s" validate:"gt=0"`
}

// WebhookConfig configures the optional outbound webhook channel. The
// channel is registered only when URL is set.
type WebhookConfig struct {
	URL               string       `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	Secret            SecretString `envconfig:"WEBHOOK_SECRET"`
	UserAgent         string       `envconfig:"WEBHOOK_USER_AGENT" default:"NotifyRoute-Webhook/1.0"`
	MaxRedirects      int          `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3" validate:"min=0,max=10"`
	CompressThreshold int          `envconfig:"WEBHOOK_COMPRESS_THRESHOLD" default:"4096" validate:"min=0"`
	AllowPrivate      bool         `envconfig:"WEBHOOK_ALLOW_PRIVATE" default:"false"`
	Platform          string       `envconfig:"WEBHOOK_PLATFORM" validate:"omitempty,oneof=generic slack discord teams google_chat"`
}

// Enabled reports whether a webhook destination is configured.
func (w WebhookConfig) Enabled() bool { return w.URL != "" }

// EmailConfig selects the email provider.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"simulated" validate:"oneof=simulated postmark sendgrid"`
	ServerToken    SecretString `envconfig:"POSTMARK_SERVER_TOKEN"`
	AccountToken   SecretString `envconfig:"POSTMARK_ACCOUNT_TOKEN"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"notifications@notifyroute.local" validate:"required,email"`
}

// AWSConfig holds AWS resource identifiers for metrics, dead-letter export
// and event ingestion.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL     string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
	DeadLetterQueue string `envconfig:"SQS_DLQ" validate:"omitempty,url"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"NotifyRoute"`

	// Ingestion queues consumed by the event worker. HIGH and CRITICAL events
	// go to the urgent queue when one is set.
	EventQueueStandard string `envconfig:"SQS_EVENT_QUEUE" validate:"omitempty,url"`
	EventQueueUrgent   string `envconfig:"SQS_EVENT_QUEUE_URGENT" validate:"omitempty,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
