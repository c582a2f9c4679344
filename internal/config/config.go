package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the agenda service.
// Environment variables are automatically parsed from the AGENDA_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Comma-separated "name=key" pairs; empty disables API auth entirely.
	APIKeys string `envconfig:"API_KEYS" default:""`

	// Store driver: sqlite or postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"agenda.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Calendar backend
	CalendarBaseURL   string `envconfig:"CALENDAR_BASE_URL" default:""`
	CalendarAuthToken string `envconfig:"CALENDAR_AUTH_TOKEN" default:""`

	// Classifier / transcriber
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:""`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-3-flash-preview"`

	// Scheduling defaults
	DefaultTimeZone     string  `envconfig:"DEFAULT_TIMEZONE" default:"America/Bogota"`
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.6"`
	RetryCeiling        int     `envconfig:"RETRY_CEILING" default:"3"`
	ConfirmationTTLMins int     `envconfig:"CONFIRMATION_TTL_MINUTES" default:"10"`
	AgendaWindowDays    int     `envconfig:"AGENDA_WINDOW_DAYS" default:"7"`
	AgendaMaxEvents     int     `envconfig:"AGENDA_MAX_EVENTS" default:"10"`
}

// ResolveDefaults validates the store driver and its required settings.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("AGENDA_SQLITE_PATH required for sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("AGENDA_POSTGRES_DSN required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("RETRY_CEILING must be >= 0")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with AGENDA_
// Example: AGENDA_HTTP_PORT, AGENDA_POSTGRES_DSN
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("AGENDA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("default_timezone", cfg.DefaultTimeZone).
		Float64("confidence_threshold", cfg.ConfidenceThreshold).
		Int("retry_ceiling", cfg.RetryCeiling).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:         EnvTesting,
		HTTPPort:            8080,
		DBDriver:            "sqlite",
		SQLitePath:          ":memory:",
		DefaultTimeZone:     "America/Bogota",
		ConfidenceThreshold: 0.6,
		RetryCeiling:        3,
		ConfirmationTTLMins: 10,
		AgendaWindowDays:    7,
		AgendaMaxEvents:     10,
	}
}

// ParseAPIKeys splits APIKeys into a key-to-name map. Malformed pairs are
// skipped.
func (c *Config) ParseAPIKeys() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.APIKeys, ",") {
		name, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || key == "" {
			continue
		}
		out[key] = name
	}
	return out
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
