// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Live     LiveConfig     `mapstructure:"live"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	Secret          string `mapstructure:"secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// ScannerConfig governs the scan worker pool and fetch retry policy.
type ScannerConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// FetchConfig bounds individual fetches.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	UserAgent      string `mapstructure:"user_agent"`
	TorProxy       string `mapstructure:"tor_proxy"`
}

// AlertConfig configures the notification channel and its retry budget.
type AlertConfig struct {
	TelegramToken    string `mapstructure:"telegram_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	QueueDepth       int    `mapstructure:"queue_depth"`
}

// LiveConfig bounds per-subscriber live-feed buffers.
type LiveConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// StorageConfig selects and configures the persistence driver.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	LifetimeMins int    `mapstructure:"conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WatchConfig seeds the default watchlist evaluated against every snapshot.
type WatchConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// ScheduleConfig controls recurring scans.
type ScheduleConfig struct {
	IntervalMinutes int            `mapstructure:"interval_minutes"`
	Targets         []TargetConfig `mapstructure:"targets"`
}

// TargetConfig is one recurring target seeded at startup.
type TargetConfig struct {
	URL    string `mapstructure:"url"`
	Source string `mapstructure:"source"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DARKMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl_minutes", 60)
	v.SetDefault("scanner.workers", 4)
	v.SetDefault("scanner.queue_depth", 64)
	v.SetDefault("scanner.max_retries", 2)
	v.SetDefault("scanner.backoff_initial_ms", 250)
	v.SetDefault("scanner.backoff_max_ms", 2000)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 2*1024*1024)
	v.SetDefault("fetch.user_agent", "darkmon-bot/1.0")
	v.SetDefault("fetch.tor_proxy", "127.0.0.1:9050")
	v.SetDefault("alert.max_retries", 3)
	v.SetDefault("alert.backoff_initial_ms", 500)
	v.SetDefault("alert.backoff_max_ms", 5000)
	v.SetDefault("alert.queue_depth", 256)
	v.SetDefault("live.subscriber_buffer", 64)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("logging.development", true)
	v.SetDefault("watch.keywords", []string{
		"password", "leak", "ssn", "credit card", "cvv", "credentials",
		"account", "bank", "exploit", "ransomware", "database dump",
	})
	v.SetDefault("schedule.interval_minutes", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must be set")
	}
	if c.Scanner.Workers <= 0 {
		return fmt.Errorf("scanner.workers must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Alert.MaxRetries < 0 {
		return fmt.Errorf("alert.max_retries must be >= 0")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when driver is postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// FetchTimeout returns the per-fetch deadline as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// TokenTTL returns the access token validity window.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// ScanBackoff returns the initial and max fetch retry backoff.
func (c Config) ScanBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Scanner.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Scanner.BackoffMaxMs) * time.Millisecond
}

// AlertBackoff returns the initial and max alert retry backoff.
func (c Config) AlertBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Alert.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Alert.BackoffMaxMs) * time.Millisecond
}

// ScheduleInterval returns the recurring scan interval.
func (c Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}
