package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Browser   BrowserConfig   `yaml:"browser"`
	Messaging MessagingConfig `yaml:"messaging"`
	Callback  CallbackConfig  `yaml:"callback"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port               int `yaml:"port"`
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`
}

// SessionConfig points at the stored browser session artifact
type SessionConfig struct {
	Path             string `yaml:"path"`
	LoginWaitSeconds int    `yaml:"login_wait_seconds"`
	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`
}

// BrowserConfig contains the launch settings and fingerprint profile
type BrowserConfig struct {
	Headless          bool   `yaml:"headless"`
	BinPath           string `yaml:"bin_path"`
	UserAgent         string `yaml:"user_agent"`
	Locale            string `yaml:"locale"`
	Timezone          string `yaml:"timezone"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	MaxConcurrentRuns int64  `yaml:"max_concurrent_runs"`
}

// MessagingConfig contains send/check settings
type MessagingConfig struct {
	BaseURL                  string    `yaml:"base_url"`
	DailyLimit               int       `yaml:"daily_limit"`
	NavigationTimeoutSeconds int       `yaml:"navigation_timeout_seconds"`
	InboxTimeoutSeconds      int       `yaml:"inbox_timeout_seconds"`
	MaxUnread                int       `yaml:"max_unread"`
	Selectors                Selectors `yaml:"selectors"`

	HourlyLimit       int           `yaml:"hourly_limit"`
	Cooldown          bool          `yaml:"cooldown"`
	Breaks            bool          `yaml:"breaks"`
	BusinessHoursOnly bool          `yaml:"business_hours_only"`
	BusinessHours     BusinessHours `yaml:"business_hours"`
	WorkDays          []string      `yaml:"work_days"`
}

// BusinessHours defines the operating hours
type BusinessHours struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Selectors overrides the built-in selector lists. Empty lists keep the defaults.
type Selectors struct {
	LoggedIn      []string `yaml:"logged_in"`
	MessageButton []string `yaml:"message_button"`
	TextBox       []string `yaml:"text_box"`
	SendButton    []string `yaml:"send_button"`
}

// CallbackConfig contains background callback delivery settings
type CallbackConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	QueueSize      int `yaml:"queue_size"`
}

// SchedulerConfig contains the periodic inbox poll settings
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	InboxCron  string `yaml:"inbox_cron"`
	WebhookURL string `yaml:"webhook_url"`
}

// RateLimitConfig contains per-client request limits for the HTTP API
type RateLimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	Burst           int `yaml:"burst"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	ToFile bool   `yaml:"to_file"`
	Dir    string `yaml:"dir"`
}

// DefaultConfigPath is used when CONFIG_PATH is not set
const DefaultConfigPath = "./config/config.yaml"

var (
	// Global configuration instance
	globalConfig *Config
)

// Defaults returns a configuration that runs without a config file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               3000,
			ReadTimeoutSeconds: 15,
		},
		Session: SessionConfig{
			Path:             "./data/linkedin-session.json",
			LoginWaitSeconds: 45,
			MaxUploadBytes:   5 << 20,
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Locale:            "fr-FR",
			Timezone:          "Europe/Paris",
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			MaxConcurrentRuns: 1,
		},
		Messaging: MessagingConfig{
			BaseURL:                  "https://www.linkedin.com",
			DailyLimit:               50,
			NavigationTimeoutSeconds: 45,
			InboxTimeoutSeconds:      30,
			MaxUnread:                5,
			BusinessHours:            BusinessHours{Start: 9, End: 18},
			WorkDays:                 []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
		},
		Callback: CallbackConfig{
			TimeoutSeconds: 10,
			QueueSize:      16,
		},
		Scheduler: SchedulerConfig{
			InboxCron: "*/30 9-18 * * 1-5",
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour: 120,
			Burst:           10,
		},
		Database: DatabaseConfig{
			Path: "./data/history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			ToFile: true,
			Dir:    "./logs",
		},
	}
}

// Load loads configuration from YAML file and environment variables.
// An empty path falls back to CONFIG_PATH, then DefaultConfigPath. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if not present)
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// keep defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Parse expands ${VAR} references in data and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		panic("configuration not loaded, call Load() first")
	}
	return globalConfig
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Session.Path == "" {
		return fmt.Errorf("session path is required")
	}
	if c.Session.LoginWaitSeconds <= 0 {
		return fmt.Errorf("login_wait_seconds must be positive")
	}

	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if c.Browser.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max_concurrent_runs must be positive")
	}

	if c.Messaging.BaseURL == "" {
		return fmt.Errorf("messaging base_url is required")
	}
	if c.Messaging.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must be non-negative")
	}
	if c.Messaging.NavigationTimeoutSeconds <= 0 || c.Messaging.InboxTimeoutSeconds <= 0 {
		return fmt.Errorf("navigation timeouts must be positive")
	}
	if c.Messaging.MaxUnread <= 0 {
		return fmt.Errorf("max_unread must be positive")
	}
	if c.Messaging.HourlyLimit < 0 {
		return fmt.Errorf("hourly_limit must be non-negative")
	}
	if c.Messaging.BusinessHours.Start < 0 || c.Messaging.BusinessHours.Start > 23 {
		return fmt.Errorf("business hours start must be between 0 and 23")
	}
	if c.Messaging.BusinessHours.End < 1 || c.Messaging.BusinessHours.End > 24 {
		return fmt.Errorf("business hours end must be between 1 and 24")
	}
	if c.Messaging.BusinessHoursOnly && c.Messaging.BusinessHours.Start >= c.Messaging.BusinessHours.End {
		return fmt.Errorf("business hours start must be before end")
	}
	for _, d := range c.Messaging.WorkDays {
		if !validWeekdays[d] {
			return fmt.Errorf("invalid work day: %s", d)
		}
	}

	if c.Callback.QueueSize <= 0 {
		return fmt.Errorf("callback queue_size must be positive")
	}

	if c.Scheduler.Enabled && c.Scheduler.InboxCron == "" {
		return fmt.Errorf("scheduler inbox_cron is required when the scheduler is enabled")
	}

	if c.RateLimit.RequestsPerHour < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must be non-negative")
	}
	if c.RateLimit.RequestsPerHour > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1 when requests_per_hour is set")
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

var validWeekdays = map[string]bool{
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true,
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(s string) string {
	pattern := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return pattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := pattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// GetNavigationTimeout returns the profile navigation timeout
func (c *Config) GetNavigationTimeout() time.Duration {
	return time.Duration(c.Messaging.NavigationTimeoutSeconds) * time.Second
}

// GetInboxTimeout returns the messaging view navigation timeout
func (c *Config) GetInboxTimeout() time.Duration {
	return time.Duration(c.Messaging.InboxTimeoutSeconds) * time.Second
}

// GetCallbackTimeout returns the HTTP timeout for callback delivery
func (c *Config) GetCallbackTimeout() time.Duration {
	return time.Duration(c.Callback.TimeoutSeconds) * time.Second
}

// GetLoginWait returns how long the login command waits for a manual login
func (c *Config) GetLoginWait() time.Duration {
	return time.Duration(c.Session.LoginWaitSeconds) * time.Second
}
