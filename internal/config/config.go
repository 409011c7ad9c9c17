// Package config provides layered configuration loading for the mailer:
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mailer/internal/email"
	"github.com/shineum/smtp-mailer/internal/provider/graph"
	"github.com/shineum/smtp-mailer/internal/provider/ses"
	"github.com/shineum/smtp-mailer/internal/provider/smtp"
)

// Provider names accepted in Config.Provider.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete application configuration. SMTP and
// DefaultMessage together are the mailer's construction options.
type Config struct {
	Provider       string        `yaml:"provider" env:"PROVIDER" validate:"oneof=smtp ses graph stdout"`
	SMTP           smtp.Config   `yaml:"smtp" envPrefix:"SMTP_" validate:"-"`
	DefaultMessage email.Message `yaml:"defaultMessage" envPrefix:"MAIL_" validate:"-"`
	SES            ses.Config    `yaml:"ses" envPrefix:"SES_"`
	Graph          graph.Config  `yaml:"graph" envPrefix:"GRAPH_"`
	Logging        LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := defaults()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// Validate checks the configuration for the selected provider.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Provider {
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("%w: smtp.host is required for the smtp provider", ErrInvalidConfig)
		}
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("%w: ses.region and ses.sender are required for the ses provider", ErrInvalidConfig)
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			return fmt.Errorf("%w: graph tenant_id, client_id, client_secret and sender are required for the graph provider", ErrInvalidConfig)
		}
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Provider: ProviderSMTP,
		Logging:  LoggingConfig{Level: "info"},
	}
}

// finish applies environment overrides and validates the result.
// Empty environment variables never override existing values.
func (c *Config) finish() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	c.Provider = strings.ToLower(c.Provider)
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	return c.Validate()
}
