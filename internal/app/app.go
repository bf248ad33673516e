// Package app assembles the notification service from configuration. The
// binaries under cmd/ share it so the HTTP API, the queue worker and the CLI
// route events with the same rules and senders.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"notifyroute/internal/config"
	"notifyroute/internal/external"
	ncore "notifyroute/internal/notifications/core"
	"notifyroute/internal/notifications/email"
	"notifyroute/internal/notifications/push"
	"notifyroute/internal/notifications/simulated"
	"notifyroute/internal/notifications/sms"
	"notifyroute/internal/notifications/webhook"
	"notifyroute/internal/routing"
	"notifyroute/internal/scheduler"
	"notifyroute/internal/store"
	"notifyroute/internal/types"
)

// Clients carries the AWS clients the service talks to. Nil fields are
// created from the ambient AWS configuration when the matching feature is
// enabled.
type Clients struct {
	CloudWatch ncore.CloudWatchClient
	SQS        ncore.SQSSender
}

// App is a fully wired service.
type App struct {
	Config       *config.Config
	Engine       *routing.Engine
	Store        *store.MemoryStore
	Senders      *ncore.SenderRegistry
	Orchestrator *ncore.Orchestrator
	// Retry is nil when RETRY_ENABLED is false.
	Retry *scheduler.RetryScheduler
	// Metrics is nil when METRICS_ENABLED is false.
	Metrics *ncore.CloudWatchNotificationMetrics

	cancel context.CancelFunc
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	clients Clients
	clock   types.Clock
	simOpts []simulated.Option
}

// WithClients injects AWS clients instead of loading them.
func WithClients(c Clients) Option {
	return func(o *buildOptions) { o.clients = c }
}

// WithClock sets the clock used by routing, delivery and retries.
func WithClock(c types.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithSimulatorOptions is passed to every simulated sender.
func WithSimulatorOptions(opts ...simulated.Option) Option {
	return func(o *buildOptions) { o.simOpts = append(o.simOpts, opts...) }
}

// Build wires the engine, store, senders, orchestrator and retry scheduler.
// Deliveries run under a context owned by the App; Close cancels it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	bo := buildOptions{clock: types.RealClock{}}
	for _, opt := range opts {
		opt(&bo)
	}
	tlog := types.NewSlogLogger(logger)

	engine, err := NewEngine(cfg.Routing, bo.clock, tlog)
	if err != nil {
		return nil, err
	}

	senders, err := NewSenders(ctx, cfg, tlog, bo.simOpts...)
	if err != nil {
		return nil, err
	}
	registry, err := ncore.NewSenderRegistry(senders...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{Config: cfg, Engine: engine, Store: store.NewMemoryStore(), Senders: registry}

	if err := a.loadClients(ctx, &bo.clients); err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	orchOpts := []ncore.Option{
		ncore.WithClock(bo.clock),
		ncore.WithChannelTimeouts(cfg.Delivery.ChannelTimeouts()),
		ncore.WithDispatcher(ncore.NewDispatcher(baseCtx, cfg.Delivery.MaxConcurrent)),
	}
	if cfg.AWS.MetricsEnabled {
		a.Metrics = ncore.NewCloudWatchNotificationMetrics(bo.clients.CloudWatch, cfg.AWS.MetricNamespace, tlog)
		orchOpts = append(orchOpts, ncore.WithMetrics(a.Metrics))
	}
	if cfg.AWS.DeadLetterQueue != "" {
		orchOpts = append(orchOpts, ncore.WithDeadLetterPublisher(
			ncore.NewSQSDeadLetterPublisher(bo.clients.SQS, cfg.AWS.DeadLetterQueue, tlog)))
	}

	a.Orchestrator, err = ncore.NewOrchestrator(engine, a.Store, registry, tlog, orchOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: %w", err)
	}

	if cfg.Retry.Enabled {
		a.Retry, err = scheduler.NewRetryScheduler(a.Orchestrator, scheduler.RetryConfig{
			Policy:       RetryPolicy(cfg.Retry),
			ScanInterval: cfg.Retry.ScanInterval,
		}, tlog, scheduler.WithRetryClock(bo.clock))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	logger.Info("notification service assembled",
		slog.Int("rules", engine.RuleCount()),
		slog.Any("channels", registry.Channels()),
		slog.Bool("retry_enabled", a.Retry != nil),
		slog.Bool("metrics_enabled", a.Metrics != nil),
		slog.Bool("dlq_enabled", cfg.AWS.DeadLetterQueue != ""),
	)
	return a, nil
}

func (a *App) loadClients(ctx context.Context, c *Clients) error {
	needCW := a.Config.AWS.MetricsEnabled && c.CloudWatch == nil
	needSQS := a.Config.AWS.DeadLetterQueue != "" && c.SQS == nil
	if !needCW && !needSQS {
		return nil
	}
	awsCfg, err := LoadAWSConfig(ctx, a.Config.AWS)
	if err != nil {
		return err
	}
	if needCW {
		c.CloudWatch = cloudwatch.NewFromConfig(awsCfg)
	}
	if needSQS {
		c.SQS = sqs.NewFromConfig(awsCfg)
	}
	return nil
}

// LoadAWSConfig loads the default AWS configuration for the configured
// region. AWS_ENDPOINT_URL points every client at a local emulator.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewEngine installs the default rules (unless disabled) followed by the
// rules from RULES_FILE.
func NewEngine(cfg config.RoutingConfig, clock types.Clock, logger types.Logger) (*routing.Engine, error) {
	var rules []routing.Rule
	if !cfg.DisableDefaultRules {
		rules = append(rules, routing.DefaultRules()...)
	}
	if cfg.RulesFile != "" {
		fileRules, err := routing.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		rules = append(rules, fileRules...)
	}
	engine, err := routing.NewEngine(logger, clock, rules...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if engine.RuleCount() == 0 {
		logger.Warn("routing engine has no rules; every event will be unrouted")
	}
	return engine, nil
}

// NewSenders builds one sender per channel. EMAIL, SMS and PUSH are always
// present; WEBHOOK only when a URL is configured.
func NewSenders(ctx context.Context, cfg *config.Config, logger types.Logger, simOpts ...simulated.Option) ([]types.ChannelSender, error) {
	simOpts = append([]simulated.Option{simulated.WithFailures(cfg.Delivery.SimulateFailures)}, simOpts...)

	emailSender, err := newEmailSender(cfg.Email, logger, simOpts)
	if err != nil {
		return nil, err
	}
	smsSender, err := sms.NewSender(logger, simOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	pushSender, err := push.NewSender(logger, simOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	senders := []types.ChannelSender{emailSender, smsSender, pushSender}

	if cfg.Webhook.Enabled() {
		wh, err := webhook.NewSender(ctx, webhook.Config{
			URL:               cfg.Webhook.URL,
			Signer:            webhook.Signer{Secret: cfg.Webhook.Secret},
			UserAgent:         cfg.Webhook.UserAgent,
			Timeout:           cfg.Delivery.WebhookTimeout,
			MaxRedirects:      cfg.Webhook.MaxRedirects,
			CompressThreshold: cfg.Webhook.CompressThreshold,
			AllowPrivate:      cfg.Webhook.AllowPrivate,
			Platform:          cfg.Webhook.Platform,
			Retry:             external.DefaultRetryPolicy(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		senders = append(senders, wh)
	}
	return senders, nil
}

func newEmailSender(cfg config.EmailConfig, logger types.Logger, simOpts []simulated.Option) (types.ChannelSender, error) {
	var provider external.EmailProvider
	switch cfg.Provider {
	case config.EmailProviderPostmark:
		pm, err := external.NewPostmarkClient(external.PostmarkConfig{
			ServerToken:  cfg.ServerToken,
			AccountToken: cfg.AccountToken,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		provider = pm
	case config.EmailProviderSendGrid:
		sg, err := external.NewSendGridClient(external.SendGridConfig{APIKey: cfg.SendGridAPIKey}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		provider = sg
	default:
		s, err := email.NewSimulatedSender(logger, simOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return s, nil
	}

	s, err := email.NewProviderSender(provider, cfg.FromAddress, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return s, nil
}

// RetryPolicy converts the retry settings into the backoff policy.
func RetryPolicy(cfg config.RetryConfig) ncore.RetryPolicy {
	return ncore.RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: 2.0,
		Jitter:        cfg.Jitter,
	}
}

// RunBackground starts the retry scheduler, if enabled, and returns when
// ctx is done.
func (a *App) RunBackground(ctx context.Context) error {
	if a.Retry == nil {
		<-ctx.Done()
		return nil
	}
	if err := a.Retry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Drain waits for accepted events and in-flight deliveries without
// interrupting them. It returns ctx.Err() if ctx ends first.
func (a *App) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.Orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight deliveries. If ctx ends first the remaining
// deliveries are interrupted and recorded as failed.
func (a *App) Close(ctx context.Context) {
	if err := a.Drain(ctx); err != nil {
		a.cancel()
		a.Orchestrator.Wait()
	}
	a.cancel()
}
