// Package config loads the bot configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Telegram update modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	Telegram      TelegramConfig
	HTTP          HTTPConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Catalog       CatalogConfig
	Observability ObservabilityConfig

	// Feature Flags
	Features *FeatureFlags
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// TelegramConfig holds Telegram Bot settings.
type TelegramConfig struct {
	// Bot token from @BotFather
	Token string

	// Mode is "polling" (default) or "webhook".
	Mode string

	// Webhook settings (production)
	WebhookURL    string
	WebhookSecret string

	// MaxConcurrent bounds updates processed at once.
	MaxConcurrent int

	// UpdateTimeout bounds the processing of a single update.
	UpdateTimeout time.Duration
}

// HTTPConfig holds the health/stats/webhook server settings.
type HTTPConfig struct {
	Enabled bool
	Host    string
	Port    int

	// APIKeys protect /stats. Empty leaves it open.
	APIKeys []string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Redis is optional: without it the limiter is local and events stay in-process.
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int

	// Pool settings
	PoolSize int

	DialTimeout time.Duration

	// KeyPrefix namespaces keys and channels.
	KeyPrefix string
}

// RateLimitConfig holds per-user limiter settings.
type RateLimitConfig struct {
	PerMinute    int
	Burst        int
	BanDuration  time.Duration
	BanThreshold int
}

// CatalogConfig points at an optional catalog override.
type CatalogConfig struct {
	// Path to a TOML catalog. Empty uses the embedded default.
	Path string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Telegram:      loadTelegramConfig(),
		HTTP:          loadHTTPConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		Catalog:       CatalogConfig{Path: getEnv("CATALOG_PATH", "")},
		Observability: loadObservabilityConfig(),
		Features:      LoadFeatureFlags(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", string(EnvDevelopment)))

	return AppConfig{
		Name:            getEnv("APP_NAME", "ecobot"),
		Environment:     env,
		Debug:           getEnvBool("APP_DEBUG", false),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func loadTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		Mode:          strings.ToLower(getEnv("TELEGRAM_MODE", ModePolling)),
		WebhookURL:    getEnv("TELEGRAM_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		MaxConcurrent: getEnvInt("TELEGRAM_MAX_CONCURRENT", 100),
		UpdateTimeout: getEnvDuration("TELEGRAM_UPDATE_TIMEOUT", 30*time.Second),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Enabled: getEnvBool("HTTP_ENABLED", true),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvInt("HTTP_PORT", 8080),
		APIKeys: getEnvStringSlice("HTTP_API_KEYS", nil),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:     getEnvBool("REDIS_ENABLED", false),
		Host:        getEnv("REDIS_HOST", "localhost"),
		Port:        getEnvInt("REDIS_PORT", 6379),
		Password:    getEnv("REDIS_PASSWORD", ""),
		DB:          getEnvInt("REDIS_DB", 0),
		PoolSize:    getEnvInt("REDIS_POOL_SIZE", 10),
		DialTimeout: getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		KeyPrefix:   getEnv("REDIS_KEY_PREFIX", "ecobot:"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		Burst:        getEnvInt("RATE_LIMIT_BURST", 5),
		BanDuration:  getEnvDuration("RATE_LIMIT_BAN_DURATION", 10*time.Minute),
		BanThreshold: getEnvInt("RATE_LIMIT_BAN_THRESHOLD", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}

	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if u, err := url.Parse(c.Telegram.WebhookURL); c.Telegram.WebhookURL == "" || err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, "TELEGRAM_WEBHOOK_URL must be an https URL in webhook mode")
		}
		if !c.HTTP.Enabled {
			errs = append(errs, "HTTP_ENABLED must be true in webhook mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("TELEGRAM_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.Telegram.Mode))
	}

	if c.Telegram.MaxConcurrent <= 0 {
		errs = append(errs, "TELEGRAM_MAX_CONCURRENT must be positive")
	}

	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		errs = append(errs, "HTTP_PORT must be 1-65535")
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			errs = append(errs, "REDIS_HOST is required when REDIS_ENABLED=true")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, "REDIS_PORT must be 1-65535")
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			errs = append(errs, "REDIS_DB must be 0-15")
		}
	}

	if c.RateLimit.PerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT %q is not one of json, text", c.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// EffectiveLogLevel is LOG_LEVEL, forced to debug by APP_DEBUG.
func (c *Config) EffectiveLogLevel() string {
	if c.App.Debug {
		return "debug"
	}
	return c.Observability.LogLevel
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
