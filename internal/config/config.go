// Package config handles loading and validating eldesmon configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level eldesmon configuration.
type Config struct {
	Listen        string               `yaml:"listen"`
	DBPath        string               `yaml:"db_path"`
	LogLevel      string               `yaml:"log_level"`
	LogFormat     string               `yaml:"log_format"`
	EncryptionKey string               `yaml:"encryption_key"`
	Upstream      UpstreamConfig       `yaml:"upstream"`
	Retry         RetryConfig          `yaml:"retry"`
	Sync          SyncConfig           `yaml:"sync"`
	Demo          DemoConfig           `yaml:"demo"`
	History       HistoryConfig        `yaml:"history"`
	Notifications []NotificationConfig `yaml:"notifications"`
	Alerts        AlertsConfig         `yaml:"alerts"`
}

// UpstreamConfig describes how to reach ELDES Cloud.
type UpstreamConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Whitelabel        string   `yaml:"whitelabel"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"` // 0 disables pacing
}

// RetryConfig controls backoff for transient network failures.
type RetryConfig struct {
	MaxRetries   int      `yaml:"max_retries"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
}

// SyncConfig controls the background sync schedule.
type SyncConfig struct {
	Schedule   string `yaml:"schedule"`     // standard 5-field cron expression
	AutoStart  bool   `yaml:"auto_start"`   // start the schedule at boot; else wait for POST /api/sync/start
	RunOnStart bool   `yaml:"run_on_start"` // run one pass as soon as the schedule starts
}

// DemoConfig names the sentinel credential that never reaches the network.
type DemoConfig struct {
	Login  string `yaml:"login"`
	Secret string `yaml:"secret"`
}

// HistoryConfig controls optional pruning. A zero retention keeps history forever.
type HistoryConfig struct {
	Retention Duration `yaml:"retention"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy" or "webhook"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// AlertsConfig holds settings for each alert type. A nil entry disables it.
type AlertsConfig struct {
	AuthFailed      *AlertAuthFailed  `yaml:"auth_failed,omitempty"`
	RateLimited     *AlertRateLimited `yaml:"rate_limited,omitempty"`
	SyncStale       *AlertSyncStale   `yaml:"sync_stale,omitempty"`
	ArmChanged      *AlertArmChanged  `yaml:"arm_changed,omitempty"`
	TemperatureHigh *AlertTemperature `yaml:"temperature_high,omitempty"`
	TemperatureLow  *AlertTemperature `yaml:"temperature_low,omitempty"`
}

type AlertAuthFailed struct {
	Severity string `yaml:"severity"`
}

type AlertRateLimited struct {
	Duration Duration `yaml:"duration"`
	Severity string   `yaml:"severity"`
}

type AlertSyncStale struct {
	MaxAge   Duration `yaml:"max_age"`
	Severity string   `yaml:"severity"`
}

type AlertArmChanged struct {
	Severity string `yaml:"severity"`
}

type AlertTemperature struct {
	Threshold float64  `yaml:"threshold"`
	Duration  Duration `yaml:"duration"`
	Severity  string   `yaml:"severity"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. If no path is given, defaults and
// environment variables are used. If a path is given and the file does not
// exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required")
	}
	if len(c.EncryptionKey) < 16 {
		return fmt.Errorf("encryption_key must be at least 16 characters")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must be http or https")
	}
	if c.Upstream.Timeout.Duration <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second must be >= 0")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.InitialDelay.Duration <= 0 {
		return fmt.Errorf("retry.initial_delay must be > 0")
	}
	if c.Retry.MaxDelay.Duration < c.Retry.InitialDelay.Duration {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}

	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule: %w", err)
	}
	if c.History.Retention.Duration < 0 {
		return fmt.Errorf("history.retention must be >= 0")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy or webhook)", i, n.Type)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}

	if a := c.Alerts.RateLimited; a != nil && a.Duration.Duration <= 0 {
		return fmt.Errorf("alerts.rate_limited: duration must be > 0")
	}
	if a := c.Alerts.SyncStale; a != nil && a.MaxAge.Duration <= 0 {
		return fmt.Errorf("alerts.sync_stale: max_age must be > 0")
	}
	if a := c.Alerts.TemperatureHigh; a != nil && a.Duration.Duration < 0 {
		return fmt.Errorf("alerts.temperature_high: duration must be >= 0")
	}
	if a := c.Alerts.TemperatureLow; a != nil && a.Duration.Duration < 0 {
		return fmt.Errorf("alerts.temperature_low: duration must be >= 0")
	}
	if hi, lo := c.Alerts.TemperatureHigh, c.Alerts.TemperatureLow; hi != nil && lo != nil && lo.Threshold >= hi.Threshold {
		return fmt.Errorf("alerts.temperature_low threshold must be below temperature_high")
	}

	return nil
}

func defaults() *Config {
	return &Config{
		Listen:    ":3900",
		DBPath:    "/data/eldesmon.db",
		LogLevel:  "info",
		LogFormat: "text",
		Upstream: UpstreamConfig{
			BaseURL:    "https://cloud.eldesalarms.com:8083/api",
			Whitelabel: "eldes",
			Timeout:    Duration{30 * time.Second},
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: Duration{time.Second},
			MaxDelay:     Duration{10 * time.Second},
			Multiplier:   2,
		},
		Sync: SyncConfig{
			Schedule:   "0 * * * *",
			AutoStart:  true,
			RunOnStart: true,
		},
		Demo: DemoConfig{
			Login:  "demo@eldes.demo",
			Secret: "demo",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ELDESMON_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("ELDESMON_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ELDESMON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ELDESMON_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("ELDESMON_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("ELDESMON_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("ELDESMON_SYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := os.Getenv("ELDESMON_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("ELDESMON_HISTORY_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.Retention = Duration{d}
		}
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("ELDESMON_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("ELDESMON_NTFY_TOPIC")
			if topic == "" {
				topic = "eldesmon-alerts"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   ntfyURL,
				Topic: topic,
			})
		}
	}
}
