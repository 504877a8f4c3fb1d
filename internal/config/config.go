package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Color modes accepted for the downstream renderer.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config holds the settings that can come from the environment.
// CLI flags default to these values and override them.
type Config struct {
	LogLevel    string `env:"PM2BUNYAN_LOG_LEVEL" envDefault:"info"`
	BunyanPath  string `env:"PM2BUNYAN_BUNYAN" envDefault:"bunyan"`
	Source      string `env:"PM2BUNYAN_SOURCE" envDefault:"-"` // "-", "unix:/path" or a file
	Hostname    string `env:"PM2BUNYAN_HOSTNAME"`              // empty means detect
	QueueSize   int    `env:"PM2BUNYAN_QUEUE_SIZE" envDefault:"1024"`
	MetricsAddr string `env:"PM2BUNYAN_METRICS_ADDR"` // empty disables /metrics
	Color       string `env:"PM2BUNYAN_COLOR" envDefault:"auto"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Validate checks values that flags or the environment may have set wrong.
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("invalid color mode %q (want auto, always or never)", c.Color)
	}
	if c.BunyanPath == "" {
		return fmt.Errorf("bunyan command must not be empty")
	}
	return nil
}
