package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/gh-run-purge/internal/ratelimit"
	"github.com/hochfrequenz/gh-run-purge/internal/runs"
)

// Config holds all application configuration
type Config struct {
	Purge         PurgeConfig         `toml:"purge"`
	GitHub        GitHubConfig        `toml:"github"`
	Log           LogConfig           `toml:"log"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedule      ScheduleConfig      `toml:"schedule"`
}

// PurgeConfig tunes the purge loop
type PurgeConfig struct {
	Statuses        string   `toml:"statuses"`
	BatchSize       int      `toml:"batch_size"`
	Concurrency     int      `toml:"concurrency"`
	Threshold       int64    `toml:"threshold"`
	SafetyMargin    Duration `toml:"safety_margin"`
	MaxHibernation  Duration `toml:"max_hibernation"`
	ProbeRetryDelay Duration `toml:"probe_retry_delay"`
	ProbeAttempts   int      `toml:"probe_attempts"`
	NetworkDelay    Duration `toml:"network_delay"`
	FetchRetryDelay Duration `toml:"fetch_retry_delay"`
	Backoff         Duration `toml:"backoff"`
	BatchPause      Duration `toml:"batch_pause"`
	DeleteTimeout   Duration `toml:"delete_timeout"`
	DispatchRate    float64  `toml:"dispatch_rate"`
	NoProgressLimit int      `toml:"no_progress_limit"` // 0 keeps purging through failed batches
}

// GitHubConfig selects the gh binary and repository
type GitHubConfig struct {
	Repo   string `toml:"repo"`
	Binary string `toml:"gh_binary"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig holds the cron expression for repeated purges
type ScheduleConfig struct {
	Cron string `toml:"cron"`
}

// Duration is a time.Duration written as "90s" or "5m" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Purge: PurgeConfig{
			Statuses:        "completed",
			BatchSize:       runs.DefaultBatchSize,
			Concurrency:     runs.DefaultConcurrency,
			Threshold:       ratelimit.DefaultThreshold,
			SafetyMargin:    Duration{ratelimit.DefaultMargin},
			MaxHibernation:  Duration{ratelimit.DefaultCeiling},
			ProbeRetryDelay: Duration{5 * time.Second},
			ProbeAttempts:   5,
			NetworkDelay:    Duration{30 * time.Second},
			FetchRetryDelay: Duration{5 * time.Second},
			Backoff:         Duration{60 * time.Second},
			BatchPause:      Duration{2 * time.Second},
			DeleteTimeout:   Duration{runs.DefaultDeleteTimeout},
		},
		GitHub: GitHubConfig{
			Binary: "gh",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Expand paths
	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.GitHub.Binary = ExpandPath(cfg.GitHub.Binary)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the purge loop cannot work with
func (c *Config) Validate() error {
	p := c.Purge
	if p.BatchSize <= 0 {
		return fmt.Errorf("purge.batch_size must be positive")
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("purge.concurrency must be positive")
	}
	if p.ProbeAttempts <= 0 {
		return fmt.Errorf("purge.probe_attempts must be positive")
	}
	if p.ProbeRetryDelay.Duration <= 0 || p.NetworkDelay.Duration <= 0 || p.FetchRetryDelay.Duration <= 0 {
		return fmt.Errorf("purge retry delays must be positive")
	}
	if p.SafetyMargin.Duration < 0 || p.MaxHibernation.Duration < 0 || p.Backoff.Duration < 0 ||
		p.BatchPause.Duration < 0 || p.DeleteTimeout.Duration < 0 {
		return fmt.Errorf("purge durations must not be negative")
	}
	if p.DispatchRate < 0 {
		return fmt.Errorf("purge.dispatch_rate must not be negative")
	}
	if p.NoProgressLimit < 0 {
		return fmt.Errorf("purge.no_progress_limit must not be negative")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gh-run-purge", "config.toml")
}
