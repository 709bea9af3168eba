// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//
// Secrets reach the process as plain environment variables. In deployed
// environments the task definition injects them from the secret store; no
// in-process secret resolution happens here.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging. It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the service configuration from the
// environment. A .env file in the working directory is merged in first
// without overriding variables already set by the OS.
func LoadConfig() (*Config, error) {
	// Enforce UTC so that time.Now() and database timestamps agree
	// regardless of the host timezone.
	time.Local = time.UTC

	// Non-fatal if no .env exists; it never overrides OS variables.
	_ = godotenv.Load()

	// Empty prefix: envconfig reads the exact tag values (APP_ENV, PORT...).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// IsLocal reports whether the service runs in a local development
// environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd reports whether the service runs in production.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
