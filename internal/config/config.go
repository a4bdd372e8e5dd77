// Package config loads and validates application configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Service  ServiceConfig  `mapstructure:"service"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScraperConfig holds consensus page fetch configuration
type ScraperConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Sport            string        `mapstructure:"sport"`
	Timezone         string        `mapstructure:"timezone"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CircuitThreshold int           `mapstructure:"circuit_failure_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_recovery_timeout"`
}

// AlertConfig holds the consensus qualification thresholds
type AlertConfig struct {
	Threshold  int `mapstructure:"threshold"`   // minimum consensus percentage
	MinExperts int `mapstructure:"min_experts"` // minimum expert count
	MinDelta   int `mapstructure:"min_delta"`   // movement considered significant
}

// ScheduleConfig holds pregame job scheduling configuration
type ScheduleConfig struct {
	OffsetMinutes int            `mapstructure:"offset_minutes"`
	SportOffsets  map[string]int `mapstructure:"sport_offsets"`
	PollInterval  time.Duration  `mapstructure:"poll_interval"`
	Tolerance     time.Duration  `mapstructure:"tolerance"`
}

// ServiceConfig holds background service configuration
type ServiceConfig struct {
	CleanupCron   string        `mapstructure:"cleanup_cron"`
	ReportCron    string        `mapstructure:"report_cron"`
	RetentionDays int           `mapstructure:"retention_days"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An
// empty path skips the file and runs on defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FADEWATCH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.base_url", "https://www.lineconsensus.example.com/mlb/totals")
	v.SetDefault("scraper.sport", "mlb")
	v.SetDefault("scraper.timezone", "America/New_York")
	v.SetDefault("scraper.request_delay", "2s")
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.retry_delay", "5s")
	v.SetDefault("scraper.circuit_failure_threshold", 5)
	v.SetDefault("scraper.circuit_recovery_timeout", "60s")

	v.SetDefault("alert.threshold", 70)
	v.SetDefault("alert.min_experts", 15)
	v.SetDefault("alert.min_delta", 5)

	v.SetDefault("schedule.offset_minutes", 15)
	v.SetDefault("schedule.poll_interval", "1m")
	v.SetDefault("schedule.tolerance", "2m")

	v.SetDefault("service.cleanup_cron", "0 4 * * *")
	v.SetDefault("service.report_cron", "0 23 * * *")
	v.SetDefault("service.retention_days", 14)
	v.SetDefault("service.job_timeout", "30s")

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("storage.db_path", "./data/fadewatch.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is required")
	}
	if c.Scraper.Sport == "" {
		return fmt.Errorf("scraper.sport is required")
	}
	if _, err := time.LoadLocation(c.Scraper.Timezone); err != nil {
		return fmt.Errorf("scraper.timezone is invalid: %w", err)
	}
	if c.Scraper.RequestDelay < 0 {
		return fmt.Errorf("scraper.request_delay must not be negative")
	}
	if c.Scraper.MaxRetries < 0 || c.Scraper.MaxRetries > 10 {
		return fmt.Errorf("scraper.max_retries must be between 0 and 10")
	}
	if c.Scraper.CircuitThreshold < 1 {
		return fmt.Errorf("scraper.circuit_failure_threshold must be at least 1")
	}
	if c.Scraper.CircuitTimeout < 1*time.Second {
		return fmt.Errorf("scraper.circuit_recovery_timeout must be at least 1 second")
	}

	if c.Alert.Threshold < 50 || c.Alert.Threshold > 100 {
		return fmt.Errorf("alert.threshold must be between 50 and 100")
	}
	if c.Alert.MinExperts < 1 {
		return fmt.Errorf("alert.min_experts must be at least 1")
	}
	if c.Alert.MinDelta < 1 {
		return fmt.Errorf("alert.min_delta must be at least 1")
	}

	if c.Schedule.OffsetMinutes < 1 {
		return fmt.Errorf("schedule.offset_minutes must be at least 1")
	}
	if c.Schedule.PollInterval < 10*time.Second {
		return fmt.Errorf("schedule.poll_interval must be at least 10 seconds")
	}
	if c.Schedule.Tolerance < c.Schedule.PollInterval {
		return fmt.Errorf("schedule.tolerance must be at least the poll interval")
	}

	if c.Service.RetentionDays < 1 {
		return fmt.Errorf("service.retention_days must be at least 1")
	}
	if c.Service.JobTimeout < 1*time.Second {
		return fmt.Errorf("service.job_timeout must be at least 1 second")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

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
