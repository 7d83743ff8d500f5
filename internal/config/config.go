// Package config loads supervisor configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Capture   CaptureConfig
	Scheduler SchedulerConfig
	Analysis  AnalysisConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string `envconfig:"PORT" default:"7700"`
	Host           string `envconfig:"HOST" default:"0.0.0.0"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// CaptureConfig holds output capture configuration.
type CaptureConfig struct {
	BufferSize  int `envconfig:"CAPTURE_BUFFER_SIZE" default:"262144"`
	RecentLines int `envconfig:"CAPTURE_RECENT_LINES" default:"40"`
}

// SchedulerConfig holds polling loop configuration.
type SchedulerConfig struct {
	MinInterval time.Duration `envconfig:"POLL_MIN_INTERVAL" default:"2s"`
	MaxInterval time.Duration `envconfig:"POLL_MAX_INTERVAL" default:"60s"`
	ReturnDelay time.Duration `envconfig:"POLL_RETURN_DELAY" default:"150ms"`
}

// AnalysisConfig holds provider and health configuration.
type AnalysisConfig struct {
	ProvidersFile  string        `envconfig:"PROVIDERS_FILE" default:"providers.toml"`
	ToolsFile      string        `envconfig:"TOOLS_FILE" default:""`
	Failover       bool          `envconfig:"FAILOVER_ENABLED" default:"true"`
	DegradedAfter  int           `envconfig:"HEALTH_DEGRADED_AFTER" default:"2"`
	FailedAfter    int           `envconfig:"HEALTH_FAILED_AFTER" default:"3"`
	BackoffBase    time.Duration `envconfig:"HEALTH_BACKOFF_BASE" default:"30s"`
	BackoffMax     time.Duration `envconfig:"HEALTH_BACKOFF_MAX" default:"10m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "7700",
			Host:           "0.0.0.0",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Capture: CaptureConfig{
			BufferSize:  262144,
			RecentLines: 40,
		},
		Scheduler: SchedulerConfig{
			MinInterval: 2 * time.Second,
			MaxInterval: 60 * time.Second,
			ReturnDelay: 150 * time.Millisecond,
		},
		Analysis: AnalysisConfig{
			ProvidersFile: "providers.toml",
			Failover:      true,
			DegradedAfter: 2,
			FailedAfter:   3,
			BackoffBase:   30 * time.Second,
			BackoffMax:    10 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
