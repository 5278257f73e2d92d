package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModePolling, cfg.Telegram.Mode)
	assert.Equal(t, 100, cfg.Telegram.MaxConcurrent)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, "", cfg.Catalog.Path)
	assert.Equal(t, 15*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "info", cfg.EffectiveLogLevel())
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Features.IsEnabled(FeatureTipsSearch, 42))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_MODE", "Webhook")
	t.Setenv("TELEGRAM_WEBHOOK_URL", "https://eco.example.com/webhook/telegram")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "s3cret")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("HTTP_API_KEYS", " a , ,b")
	t.Setenv("CATALOG_PATH", "/etc/ecobot/catalog.toml")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeWebhook, cfg.Telegram.Mode)
	assert.Equal(t, "s3cret", cfg.Telegram.WebhookSecret)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis", cfg.Redis.Host)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.Equal(t, []string{"a", "b"}, cfg.HTTP.APIKeys)
	assert.Equal(t, "/etc/ecobot/catalog.toml", cfg.Catalog.Path)
	assert.Equal(t, 5*time.Second, cfg.App.ShutdownTimeout)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.EffectiveLogLevel())
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.App.ShutdownTimeout)
}

func validConfig() *Config {
	return &Config{
		Telegram:      TelegramConfig{Token: "123:abc", Mode: ModePolling, MaxConcurrent: 10},
		HTTP:          HTTPConfig{Enabled: true, Port: 8080},
		RateLimit:     RateLimitConfig{PerMinute: 30, Burst: 5},
		Observability: ObservabilityConfig{LogLevel: "info", LogFormat: "text"},
		Features:      NewFeatureFlags(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   []string
	}{
		{"valid", func(*Config) {}, nil},
		{
			"missing token",
			func(c *Config) { c.Telegram.Token = "" },
			[]string{"TELEGRAM_BOT_TOKEN is required"},
		},
		{
			"unknown mode",
			func(c *Config) { c.Telegram.Mode = "push" },
			[]string{`TELEGRAM_MODE must be "polling" or "webhook", got "push"`},
		},
		{
			"webhook without url and http",
			func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.HTTP.Enabled = false
			},
			[]string{"TELEGRAM_WEBHOOK_URL must be an https URL", "HTTP_ENABLED must be true"},
		},
		{
			"webhook over plain http",
			func(c *Config) {
				c.Telegram.Mode = ModeWebhook
				c.Telegram.WebhookURL = "http://eco.example.com/hook"
			},
			[]string{"TELEGRAM_WEBHOOK_URL must be an https URL"},
		},
		{
			"redis ranges",
			func(c *Config) {
				c.Redis = RedisConfig{Enabled: true, Host: "", Port: 0, DB: 16}
			},
			[]string{"REDIS_HOST is required", "REDIS_PORT must be 1-65535", "REDIS_DB must be 0-15"},
		},
		{
			"limits and logging",
			func(c *Config) {
				c.RateLimit = RateLimitConfig{}
				c.Observability = ObservabilityConfig{LogLevel: "loud", LogFormat: "xml"}
			},
			[]string{"RATE_LIMIT_PER_MINUTE must be positive", "RATE_LIMIT_BURST must be positive", `LOG_LEVEL "loud"`, `LOG_FORMAT "xml"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_TIPS_SEARCH", "false")
	t.Setenv("FEATURE_EVENTS_REDIS_FANOUT", "25")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureTipsSearch, 4))

	// Partial rollout: process-wide checks are off, users are bucketed.
	assert.False(t, ff.IsEnabled(FeatureEventsRedisFanout, 0))
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureTipsSearch, 25))

	// fnv32a("tips.search"+id) % 100: 4 -> 17, 11 -> 9, 1 -> 74.
	assert.True(t, ff.IsEnabled(FeatureTipsSearch, 4))
	assert.True(t, ff.IsEnabled(FeatureTipsSearch, 11))
	assert.False(t, ff.IsEnabled(FeatureTipsSearch, 1))

	// Stable across calls.
	assert.Equal(t, ff.IsEnabled(FeatureTipsSearch, 4), ff.IsEnabled(FeatureTipsSearch, 4))
}

func TestFeatureFlags_Overrides(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureTipsSearch, 0))

	ff.SetUserOverride(7, FeatureTipsSearch, true)

	pred := ff.ForUser(FeatureTipsSearch)
	assert.True(t, pred(7))
	assert.False(t, pred(8))
}

func TestFeatureFlags_Errors(t *testing.T) {
	ff := NewFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureTipsSearch, 101), ErrInvalidRolloutPercent)
	assert.False(t, ff.IsEnabled("nope", 1))

	all := ff.All()
	require.Len(t, all, 2)
	assert.Equal(t, FeatureEventsRedisFanout, all[0].Name)
	assert.Equal(t, FeatureTipsSearch, all[1].Name)
}
