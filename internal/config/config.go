// Package config defines the global configuration for the service.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, with a local .env file as fallback for development.
//
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"obrador/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"obrador-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Email         EmailConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build metadata injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for redirects and emails (no trailing slash).
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	WebAppURL      string `envconfig:"WEB_APP_URL" validate:"required,url"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-1"`

	// EmailQueueURL is the SQS queue feeding the email worker.
	EmailQueueURL string `envconfig:"SQS_EMAIL_QUEUE" validate:"required,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe integration credentials.
type BillingConfig struct {
	StripeSecretKey      SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripePublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY" validate:"required"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	APIKey      SecretString `envconfig:"EMAIL_API_KEY" validate:"required"`
	BaseURL     string       `envconfig:"EMAIL_API_BASE_URL" default:"https://api.sendgrid.com"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" default:"hola@obrador.app"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Obrador"`
}

// SecurityConfig holds CORS and related settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Obrador"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
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
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates environment values could not be parsed into
	// their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
