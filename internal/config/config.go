package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TRENDSCOUT_STORAGE_DRIVER overrides storage.driver.
const EnvPrefix = "TRENDSCOUT"

// Config represents the complete application configuration
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Events   EventsConfig   `mapstructure:"events"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig holds the trend gateway configuration
type ProviderConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Language string        `mapstructure:"language"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FetcherConfig holds pacing and retry configuration for provider calls
type FetcherConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryMinDelay     time.Duration `mapstructure:"retry_min_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

// StorageConfig holds the database configuration
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RunnerConfig holds mission scheduling and enrichment configuration
type RunnerConfig struct {
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	TimeseriesTop    int           `mapstructure:"timeseries_top"`
	RelatedTop       int           `mapstructure:"related_top"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	TopN       int           `mapstructure:"top_n"`
}

// EventsConfig holds NATS run-event configuration
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	TopN           int           `mapstructure:"top_n"`
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	CorsOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from a .env file, the config file at path and
// environment variables, in increasing order of precedence. An empty path
// skips the config file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so that environment overrides are seen.
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("provider.base_url", "http://localhost:5010")
	v.SetDefault("provider.language", "en-US")
	v.SetDefault("provider.timeout", "30s")

	// Fetcher defaults
	v.SetDefault("fetcher.requests_per_minute", 10)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.retry_min_delay", "4s")
	v.SetDefault("fetcher.retry_max_delay", "60s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./data/trendscout.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 4)

	// Runner defaults
	v.SetDefault("runner.schedule_interval", "1h")
	v.SetDefault("runner.timeseries_top", 5)
	v.SetDefault("runner.related_top", 3)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")
	v.SetDefault("telegram.top_n", 10)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://localhost:4222")
	v.SetDefault("events.subject_prefix", "trendscout")
	v.SetDefault("events.max_reconnects", 10)
	v.SetDefault("events.reconnect_wait", "1s")
	v.SetDefault("events.connect_timeout", "2s")
	v.SetDefault("events.top_n", 10)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Provider config
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}

	// Validate Fetcher config
	if c.Fetcher.RequestsPerMinute < 0 {
		return fmt.Errorf("fetcher.requests_per_minute must not be negative")
	}
	if c.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("fetcher.max_attempts must be at least 1")
	}
	if c.Fetcher.RetryMinDelay <= 0 {
		return fmt.Errorf("fetcher.retry_min_delay must be positive")
	}
	if c.Fetcher.RetryMaxDelay < c.Fetcher.RetryMinDelay {
		return fmt.Errorf("fetcher.retry_max_delay must not be less than fetcher.retry_min_delay")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		if c.Storage.MaxConns < 1 {
			return fmt.Errorf("storage.max_conns must be at least 1")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	// Validate Runner config
	if c.Runner.ScheduleInterval < 1*time.Minute {
		return fmt.Errorf("runner.schedule_interval must be at least 1 minute")
	}
	if c.Runner.TimeseriesTop < 0 || c.Runner.RelatedTop < 0 {
		return fmt.Errorf("runner.timeseries_top and runner.related_top must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Events config
	if c.Events.Enabled {
		if c.Events.URL == "" {
			return fmt.Errorf("events.url is required when events are enabled")
		}
		if c.Events.SubjectPrefix == "" {
			return fmt.Errorf("events.subject_prefix is required when events are enabled")
		}
	}

	// Validate API config
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
