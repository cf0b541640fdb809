// Package config loads application configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Sandbox    SandboxConfig
	Classifier ClassifierConfig
	Bundles    BundleConfig
	Repair     RepairConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SandboxConfig holds execution-context configuration. The delays drive
// the bootstrap runtime's completion and size detectors.
type SandboxConfig struct {
	PoolSize        int           `envconfig:"SANDBOX_POOL_SIZE" default:"4"`
	ExecTimeout     time.Duration `envconfig:"SANDBOX_EXEC_TIMEOUT" default:"5s"`
	SettleDelay     time.Duration `envconfig:"SANDBOX_SETTLE_DELAY" default:"150ms"`
	FallbackDelay   time.Duration `envconfig:"SANDBOX_FALLBACK_DELAY" default:"1200ms"`
	NoOutputTimeout time.Duration `envconfig:"SANDBOX_NO_OUTPUT_TIMEOUT" default:"7s"`
	HeightCeiling   int           `envconfig:"SANDBOX_HEIGHT_CEILING" default:"600"`
	HeightPadding   int           `envconfig:"SANDBOX_HEIGHT_PADDING" default:"16"`
}

// ClassifierConfig holds content-classification tuning. The threshold is
// configuration, not contract; it trades false positives against false
// negatives on untagged fences.
type ClassifierConfig struct {
	MinSignals int `envconfig:"CLASSIFIER_MIN_SIGNALS" default:"2"`
}

// BundleConfig holds dependency-bundle store configuration.
type BundleConfig struct {
	Dir      string `envconfig:"BUNDLE_DIR" default:"./bundles"`
	Manifest string `envconfig:"BUNDLE_MANIFEST" default:"manifest.yaml"`
}

// RepairConfig holds repair-collaborator configuration.
type RepairConfig struct {
	Endpoint string        `envconfig:"REPAIR_ENDPOINT" default:"http://localhost:8601/v1/complete"`
	Timeout  time.Duration `envconfig:"REPAIR_TIMEOUT" default:"60s"`
	Enabled  bool          `envconfig:"REPAIR_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
			Port: "8600",
			Host: "0.0.0.0",
		},
		Sandbox: SandboxConfig{
			PoolSize:        4,
			ExecTimeout:     5 * time.Second,
			SettleDelay:     150 * time.Millisecond,
			FallbackDelay:   1200 * time.Millisecond,
			NoOutputTimeout: 7 * time.Second,
			HeightCeiling:   600,
			HeightPadding:   16,
		},
		Classifier: ClassifierConfig{
			MinSignals: 2,
		},
		Bundles: BundleConfig{
			Dir:      "./bundles",
			Manifest: "manifest.yaml",
		},
		Repair: RepairConfig{
			Endpoint: "http://localhost:8601/v1/complete",
			Timeout:  60 * time.Second,
			Enabled:  true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
