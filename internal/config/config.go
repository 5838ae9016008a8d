// Package config loads broker runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LogLevel is a validated zerolog level name.
type LogLevel string

// LogFormat selects the logging encoder.
type LogFormat string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// Config holds every environment-tunable setting. The listen port is not
// part of this struct: it arrives as the broker's positional CLI argument.
type Config struct {
	LogLevel  LogLevel  `env:"BROKER_LOG_LEVEL" envDefault:"info"`
	LogFormat LogFormat `env:"BROKER_LOG_FORMAT" envDefault:"json"`

	MetricsAddr     string        `env:"BROKER_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"BROKER_METRICS_INTERVAL" envDefault:"15s"`

	MaxConnPerSec     float64 `env:"BROKER_MAX_CONN_PER_SEC" envDefault:"50"`
	MaxConnBurst      int     `env:"BROKER_MAX_CONN_BURST" envDefault:"20"`
	GlobalConnPerSec  float64 `env:"BROKER_GLOBAL_CONN_PER_SEC" envDefault:"500"`
	GlobalConnBurst   int     `env:"BROKER_GLOBAL_CONN_BURST" envDefault:"200"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: environment variables > .env file > defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is not an error; production deployments
		// set environment variables directly.
		fmt.Println("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks configured values for internal consistency.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("BROKER_LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatJSON, LogFormatPretty:
	default:
		return fmt.Errorf("BROKER_LOG_FORMAT must be one of json,pretty (got %q)", c.LogFormat)
	}

	if c.MaxConnPerSec <= 0 || c.MaxConnBurst <= 0 {
		return fmt.Errorf("BROKER_MAX_CONN_PER_SEC and BROKER_MAX_CONN_BURST must be > 0")
	}
	if c.GlobalConnPerSec <= 0 || c.GlobalConnBurst <= 0 {
		return fmt.Errorf("BROKER_GLOBAL_CONN_PER_SEC and BROKER_GLOBAL_CONN_BURST must be > 0")
	}

	return nil
}

// ZerologLevel converts the validated level into a zerolog.Level.
func (c *Config) ZerologLevel() zerolog.Level {
	switch c.LogLevel {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
