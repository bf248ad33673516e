package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load for every failure.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SecretProvider resolves parameter-store paths to plaintext values.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// A variable named FOO_SSM_PARAM holds the parameter path for FOO.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

const secretResolveTimeout = 30 * time.Second

// env abstracts the process environment so tests can run without mutating it.
type env struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
	dotenv  func() error
}

func osEnv() env {
	return env{
		lookup:  os.LookupEnv,
		set:     os.Setenv,
		environ: os.Environ,
		dotenv:  func() error { return godotenv.Load() },
	}
}

// Load reads .env, resolves *_SSM_PARAM pointers outside local mode, then
// populates and validates Config. provider may be nil in local mode.
func Load(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, e env) (*Config, error) {
	time.Local = time.UTC

	// Missing .env is fine; existing variables are never overridden.
	_ = e.dotenv()

	if appEnv, _ := e.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSecrets(provider, e); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.checkDependencies(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkDependencies enforces rules that span fields.
func (c *Config) checkDependencies() error {
	if c.Email.Provider == EmailProviderPostmark && !c.Email.ServerToken.IsSet() {
		return &ConfigError{Type: ErrMissingEnv, Message: "POSTMARK_SERVER_TOKEN is required when EMAIL_PROVIDER=postmark"}
	}
	if c.Email.Provider == EmailProviderSendGrid && !c.Email.SendGridAPIKey.IsSet() {
		return &ConfigError{Type: ErrMissingEnv, Message: "SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid"}
	}
	if c.Webhook.Secret.IsSet() && !c.Webhook.Enabled() {
		return &ConfigError{Type: ErrValidation, Message: "WEBHOOK_SECRET is set but WEBHOOK_URL is empty"}
	}
	if c.AWS.DeadLetterQueue != "" && c.AWS.Region == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "AWS_REGION is required when SQS_DLQ is set"}
	}
	if c.AWS.EventQueueUrgent != "" && c.AWS.EventQueueStandard == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "SQS_EVENT_QUEUE is required when SQS_EVENT_QUEUE_URGENT is set"}
	}
	return nil
}

// ResolveSecrets runs only the parameter-store step against the process
// environment. The event worker uses it before reading individual variables.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSecrets(provider, osEnv())
}

// resolveSecrets fetches every FOO_SSM_PARAM whose FOO is not already set and
// exports the value as FOO.
func resolveSecrets(provider SecretProvider, e env) error {
	targets := map[string]string{} // parameter path -> variable
	var paths []string

	for _, kv := range e.environ() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(target); set {
			continue
		}
		if _, dup := targets[path]; !dup {
			paths = append(paths, path)
		}
		targets[path] = target
	}
	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a secret provider is required to resolve " + strings.Join(targetNames(paths, targets), ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretResolveTimeout)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: fmt.Sprintf("failed to resolve %d parameters", len(paths)), Err: err}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to export " + targets[p], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "parameters not found",
			Err:     errors.New(strings.Join(missing, ", ")),
		}
	}
	return nil
}

func targetNames(paths []string, targets map[string]string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, targets[p])
	}
	return out
}
