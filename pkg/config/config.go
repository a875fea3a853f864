// Package config loads application configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// PII redaction modes.
const (
	RedactionOff   = "off"
	RedactionBasic = "basic"
)

// Config holds all runtime settings. Values come from the environment;
// main loads an optional .env file first.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	// RedisURL is reserved for cross-process pub/sub fanout; the in-process
	// subscriber registry does not use it.
	RedisURL string `env:"REDIS_URL"`

	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMPrimaryModel   string `env:"LLM_PRIMARY_MODEL"`
	LLMFallbackModel  string `env:"LLM_FALLBACK_MODEL"`

	PIIRedactionMode string `env:"PII_REDACTION_MODE" envDefault:"basic"`

	TwilioAccountSID      string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken       string `env:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber     string `env:"TWILIO_PHONE_NUMBER"`
	TwilioStreamWSBaseURL string `env:"TWILIO_STREAM_WS_BASE_URL"`

	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.PIIRedactionMode != RedactionOff && cfg.PIIRedactionMode != RedactionBasic {
		return nil, fmt.Errorf("invalid PII_REDACTION_MODE %q: must be %q or %q",
			cfg.PIIRedactionMode, RedactionOff, RedactionBasic)
	}
	return cfg, nil
}

// Development reports whether the app runs in a development environment.
func (c *Config) Development() bool {
	return c.Environment == "development"
}
