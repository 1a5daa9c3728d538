// Package common holds the ambient concerns shared by every other
// package: configuration, logging, crash protection, background
// goroutine supervision, identifiers, and the startup banner.
package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the fully resolved run configuration (§6).
type Config struct {
	Username                    string        `toml:"username" validate:"required"`
	Password                    string        `toml:"password" validate:"required"`
	LoginURL                    string        `toml:"login_url" validate:"required,url"`
	InventoryURL                string        `toml:"inventory_url" validate:"required,url"`
	Headless                    bool          `toml:"headless"`
	BlockResources              bool          `toml:"block_resources"`
	MaxDownloads                int           `toml:"max_downloads" validate:"gte=0"`
	ConcurrentContexts          int           `toml:"concurrent_contexts" validate:"gte=1"`
	TaskTimeoutSeconds          int           `toml:"task_timeout_seconds" validate:"gte=1"`
	StuckThresholdSeconds       int           `toml:"stuck_threshold_seconds" validate:"gte=1"`
	WatchdogIntervalSeconds     int           `toml:"watchdog_interval_seconds" validate:"gte=1"`
	MaxRetries                  int           `toml:"max_retries" validate:"gte=0"`
	DownloadRoot                string        `toml:"download_root" validate:"required"`
	ReferenceColumn             string        `toml:"reference_column" validate:"required"`
	ProgressAddr                string        `toml:"progress_addr"`
	CronSchedule                string        `toml:"cron_schedule"`
	DownloadRateLimitPerSecond  float64       `toml:"download_rate_limit_per_second" validate:"gte=0"`
	ConsecutiveFailureThreshold int           `toml:"consecutive_failure_threshold" validate:"gte=1"`
	Logging                     LoggingConfig `toml:"logging"`
}

// LoggingConfig controls arbor's writers and level.
type LoggingConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
	File    bool   `toml:"file"`
	Dir     string `toml:"dir"`
}

// NewDefaultConfig returns the configuration defaults named in §6.
func NewDefaultConfig() *Config {
	return &Config{
		Headless:                    true,
		BlockResources:              true,
		MaxDownloads:                0,
		ConcurrentContexts:          5,
		TaskTimeoutSeconds:          180,
		StuckThresholdSeconds:       300,
		WatchdogIntervalSeconds:     60,
		MaxRetries:                  2,
		DownloadRoot:                "downloads",
		ReferenceColumn:             "Reference Number",
		DownloadRateLimitPerSecond:  4,
		ConsecutiveFailureThreshold: 5,
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    true,
			Dir:     "logs",
		},
	}
}

// TaskTimeout returns TaskTimeoutSeconds as a time.Duration.
func (c *Config) TaskTimeout() time.Duration { return time.Duration(c.TaskTimeoutSeconds) * time.Second }

// StuckThreshold returns StuckThresholdSeconds as a time.Duration.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdSeconds) * time.Second
}

// WatchdogInterval returns WatchdogIntervalSeconds as a time.Duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

// LoadFromFiles loads configuration with priority: default -> file1 ->
// ... -> fileN -> environment. Later files override earlier ones; env
// vars override every file.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// Validate reports a field-level configuration error without launching
// the browser, per §7's "Configuration error" kind.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	str := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	boolean := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(env string, dst *float64) {
		if v := os.Getenv(env); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("JDPB_USERNAME", &c.Username)
	str("JDPB_PASSWORD", &c.Password)
	str("JDPB_LOGIN_URL", &c.LoginURL)
	str("JDPB_INVENTORY_URL", &c.InventoryURL)
	boolean("JDPB_HEADLESS", &c.Headless)
	boolean("JDPB_BLOCK_RESOURCES", &c.BlockResources)
	integer("JDPB_MAX_DOWNLOADS", &c.MaxDownloads)
	integer("JDPB_CONCURRENT_CONTEXTS", &c.ConcurrentContexts)
	integer("JDPB_TASK_TIMEOUT_SECONDS", &c.TaskTimeoutSeconds)
	integer("JDPB_STUCK_THRESHOLD_SECONDS", &c.StuckThresholdSeconds)
	integer("JDPB_WATCHDOG_INTERVAL_SECONDS", &c.WatchdogIntervalSeconds)
	integer("JDPB_MAX_RETRIES", &c.MaxRetries)
	str("JDPB_DOWNLOAD_ROOT", &c.DownloadRoot)
	str("JDPB_REFERENCE_COLUMN", &c.ReferenceColumn)
	str("JDPB_PROGRESS_ADDR", &c.ProgressAddr)
	str("JDPB_CRON_SCHEDULE", &c.CronSchedule)
	float("JDPB_DOWNLOAD_RATE_LIMIT_PER_SECOND", &c.DownloadRateLimitPerSecond)
	integer("JDPB_CONSECUTIVE_FAILURE_THRESHOLD", &c.ConsecutiveFailureThreshold)
	str("JDPB_LOG_LEVEL", &c.Logging.Level)
	boolean("JDPB_LOG_CONSOLE", &c.Logging.Console)
	boolean("JDPB_LOG_FILE", &c.Logging.File)
	str("JDPB_LOG_DIR", &c.Logging.Dir)
}
