// Package config provides configuration management for the signal tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Scanner       ScannerConfig      `mapstructure:"scanner"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Retry         RetryConfig        `mapstructure:"retry"`
	Store         StoreConfig        `mapstructure:"store"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`

	// Path is the file the configuration was read from.
	Path string `mapstructure:"-"`
	// Created is set when Load wrote a fresh template.
	Created bool `mapstructure:"-"`
}

// ScannerConfig controls indicator polling.
type ScannerConfig struct {
	Exchange         string        `mapstructure:"exchange"`
	Screener         string        `mapstructure:"screener"`
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	EntryTimeframe   string        `mapstructure:"entry_timeframe"`
	MonitorTimeframe string        `mapstructure:"monitor_timeframe"`
	EntryInterval    time.Duration `mapstructure:"entry_interval"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	Concurrency      int           `mapstructure:"concurrency"`
	WatchlistFile    string        `mapstructure:"watchlist_file"`
	WatchlistName    string        `mapstructure:"watchlist_name"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// StrategyConfig holds entry and exit thresholds.
type StrategyConfig struct {
	RSIOverbought          float64       `mapstructure:"rsi_overbought"`
	RSIOversold            float64       `mapstructure:"rsi_oversold"`
	MaxEMA200Distance      float64       `mapstructure:"max_ema200_distance"`
	ConfirmationTimeframes []string      `mapstructure:"confirmation_timeframes"`
	StopPercent            float64       `mapstructure:"stop_percent"`
	TPMultiples            []float64     `mapstructure:"tp_multiples"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
}

// RetryConfig is the bounded retry policy for indicator fetches.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// StoreConfig selects and configures the position store.
type StoreConfig struct {
	Driver string      `mapstructure:"driver"` // memory, sqlite, redis
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	// Terminal mirrors every alert to stdout.
	Terminal bool `mapstructure:"terminal"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// DryRun prints alerts instead of sending them.
	DryRun bool `mapstructure:"dry_run"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age_days"`
}

// MetricsConfig controls the ops HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/signal-tracker"
	}
	return filepath.Join(home, ".config", "signal-tracker")
}

// ConfigPath returns the config.toml path inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("scanner.exchange", "BYBIT")
	v.SetDefault("scanner.screener", "crypto")
	v.SetDefault("scanner.base_url", "https://scanner.tradingview.com")
	v.SetDefault("scanner.timeout", "15s")
	v.SetDefault("scanner.entry_timeframe", string(models.Timeframe1Min))
	v.SetDefault("scanner.monitor_timeframe", string(models.Timeframe5Min))
	v.SetDefault("scanner.entry_interval", "60s")
	v.SetDefault("scanner.monitor_interval", "300s")
	v.SetDefault("scanner.concurrency", 4)
	v.SetDefault("scanner.watchlist_file", "")
	v.SetDefault("scanner.watchlist_name", "default")
	v.SetDefault("scanner.breaker_failures", 10)
	v.SetDefault("scanner.breaker_timeout", "30s")

	v.SetDefault("strategy.rsi_overbought", 65.0)
	v.SetDefault("strategy.rsi_oversold", 35.0)
	v.SetDefault("strategy.max_ema200_distance", 0.017)
	v.SetDefault("strategy.confirmation_timeframes", []string{"15m", "30m", "1h", "4h"})
	v.SetDefault("strategy.stop_percent", 0.02)
	v.SetDefault("strategy.tp_multiples", []float64{1.68, 2.68, 3.68})
	v.SetDefault("strategy.cooldown", "2h")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", "5s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(configDir, "tracker.db"))
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "signal:")

	v.SetDefault("notifications.telegram.enabled", true)
	v.SetDefault("notifications.telegram.timeout", "10s")
	v.SetDefault("notifications.telegram.dry_run", false)
	v.SetDefault("notifications.terminal", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "tracker.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9102")
}

// Load loads configuration from config.toml in configDir. If configDir is
// empty the default directory is used. A missing file is replaced by the
// commented template and loading continues from it.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the working directory, then in the config directory; neither is required.
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	created := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
		created = true
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.Created = created

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Notifications.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notifications.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setBool(&cfg.Notifications.Telegram.DryRun, "TRACKER_DRY_RUN")

	setStr(&cfg.Store.Driver, "TRACKER_STORE_DRIVER")
	setStr(&cfg.Store.Path, "TRACKER_STORE_PATH")
	setStr(&cfg.Store.Redis.Addr, "TRACKER_REDIS_ADDR")
	setStr(&cfg.Store.Redis.Password, "TRACKER_REDIS_PASSWORD")

	setStr(&cfg.Logging.Level, "TRACKER_LOG_LEVEL")
	setStr(&cfg.Metrics.Addr, "TRACKER_METRICS_ADDR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func invalid(field string, value interface{}, message string) error {
	return fmt.Errorf("%w: %v", trerrors.ErrConfigInvalid, trerrors.NewValidationError(field, value, message))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	s := c.Scanner
	if s.Exchange == "" {
		return invalid("scanner.exchange", s.Exchange, "required")
	}
	if s.BaseURL == "" {
		return invalid("scanner.base_url", s.BaseURL, "required")
	}
	if !models.Timeframe(s.EntryTimeframe).Valid() {
		return invalid("scanner.entry_timeframe", s.EntryTimeframe, "unknown timeframe")
	}
	if !models.Timeframe(s.MonitorTimeframe).Valid() {
		return invalid("scanner.monitor_timeframe", s.MonitorTimeframe, "unknown timeframe")
	}
	if s.EntryInterval <= 0 || s.MonitorInterval <= 0 {
		return invalid("scanner.*_interval", fmt.Sprintf("%s/%s", s.EntryInterval, s.MonitorInterval), "must be positive")
	}
	if s.Concurrency < 1 {
		return invalid("scanner.concurrency", s.Concurrency, "must be at least 1")
	}

	st := c.Strategy
	if st.RSIOversold <= 0 || st.RSIOverbought >= 100 || st.RSIOversold >= st.RSIOverbought {
		return invalid("strategy.rsi_*", fmt.Sprintf("%v/%v", st.RSIOversold, st.RSIOverbought), "need 0 < oversold < overbought < 100")
	}
	if st.MaxEMA200Distance <= 0 {
		return invalid("strategy.max_ema200_distance", st.MaxEMA200Distance, "must be positive")
	}
	if len(st.ConfirmationTimeframes) == 0 {
		return invalid("strategy.confirmation_timeframes", st.ConfirmationTimeframes, "at least one timeframe required")
	}
	for _, tf := range st.ConfirmationTimeframes {
		if !models.Timeframe(tf).Valid() {
			return invalid("strategy.confirmation_timeframes", tf, "unknown timeframe")
		}
	}
	if st.StopPercent <= 0 || st.StopPercent >= 1 {
		return invalid("strategy.stop_percent", st.StopPercent, "must be between 0 and 1")
	}
	if len(st.TPMultiples) != 3 {
		return invalid("strategy.tp_multiples", st.TPMultiples, "exactly three multiples required")
	}
	for i := range st.TPMultiples {
		if st.TPMultiples[i] <= 0 || (i > 0 && st.TPMultiples[i] <= st.TPMultiples[i-1]) {
			return invalid("strategy.tp_multiples", st.TPMultiples, "must be positive and strictly increasing")
		}
	}
	if st.Cooldown <= 0 {
		return invalid("strategy.cooldown", st.Cooldown, "must be positive")
	}

	if c.Retry.Attempts < 1 {
		return invalid("retry.attempts", c.Retry.Attempts, "must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return invalid("retry.delay", c.Retry.Delay, "must not be negative")
	}

	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return invalid("store.path", c.Store.Path, "required for sqlite")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr", c.Store.Redis.Addr, "required for redis")
		}
	default:
		return invalid("store.driver", c.Store.Driver, "must be memory, sqlite or redis")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr", c.Metrics.Addr, "required when metrics are enabled")
	}
	return nil
}

// Timeframes returns the configured confirmation set as typed timeframes.
func (s StrategyConfig) Timeframes() []models.Timeframe {
	out := make([]models.Timeframe, len(s.ConfirmationTimeframes))
	for i, tf := range s.ConfirmationTimeframes {
		out[i] = models.Timeframe(tf)
	}
	return out
}

// TelegramReady reports whether live Telegram delivery is configured.
func (c *Config) TelegramReady() bool {
	t := c.Notifications.Telegram
	return t.Enabled && !t.DryRun && t.BotToken != "" && t.ChatID != ""
}
