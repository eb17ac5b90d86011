package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("StateTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{StateTTLSeconds: 600}
		assert.Equal(t, 10*time.Minute, cfg.StateTTL())
	})

	t.Run("RefreshSkew converts seconds to duration", func(t *testing.T) {
		cfg := &Config{RefreshSkewSeconds: 60}
		assert.Equal(t, time.Minute, cfg.RefreshSkew())
	})

	t.Run("SyncRetention converts days to duration", func(t *testing.T) {
		cfg := &Config{SyncRetentionDays: 30}
		assert.Equal(t, 30*24*time.Hour, cfg.SyncRetention())
	})

	t.Run("RedirectURI joins base URL and callback path", func(t *testing.T) {
		cfg := &Config{SiteBaseURL: "https://app.example.com"}
		assert.Equal(t, "https://app.example.com/oauth/fitbit/callback", cfg.RedirectURI())
	})

	t.Run("RedirectURI strips trailing slash", func(t *testing.T) {
		cfg := &Config{SiteBaseURL: "https://app.example.com/"}
		assert.Equal(t, "https://app.example.com/oauth/fitbit/callback", cfg.RedirectURI())
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			FitbitClientID:     "client-id",
			FitbitClientSecret: "client-secret",
			SiteBaseURL:        "https://app.example.com",
			RedisURL:           "rediss://cache.example.com:6379",
			StateTTLSeconds:    600,
		}
	}

	t.Run("valid production config passes", func(t *testing.T) {
		assert.NoError(t, base().Validate(true))
	})

	t.Run("missing credentials fail in production", func(t *testing.T) {
		cfg := base()
		cfg.FitbitClientSecret = ""
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("missing credentials only warn in development", func(t *testing.T) {
		cfg := base()
		cfg.FitbitClientID = ""
		cfg.FitbitClientSecret = ""
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("plain-http base URL fails in production", func(t *testing.T) {
		cfg := base()
		cfg.SiteBaseURL = "http://app.example.com"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("state TTL below one minute is rejected", func(t *testing.T) {
		cfg := base()
		cfg.StateTTLSeconds = 30
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                 os.Getenv("PORT"),
		"DATABASE_URL":         os.Getenv("DATABASE_URL"),
		"REDIS_URL":            os.Getenv("REDIS_URL"),
		"FITBIT_CLIENT_ID":     os.Getenv("FITBIT_CLIENT_ID"),
		"FITBIT_CLIENT_SECRET": os.Getenv("FITBIT_CLIENT_SECRET"),
		"SITE_BASE_URL":        os.Getenv("SITE_BASE_URL"),
		"LOG_LEVEL":            os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads with required values set", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/pulsefit")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "9090")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "postgres://localhost/pulsefit", cfg.DatabaseURL)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 600, cfg.StateTTLSeconds)
		assert.Equal(t, 60, cfg.RateLimitPerMin)
	})

	t.Run("fails without DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}
