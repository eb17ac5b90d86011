package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	FitbitClientID     string `env:"FITBIT_CLIENT_ID"`
	FitbitClientSecret string `env:"FITBIT_CLIENT_SECRET"`
	SiteBaseURL        string `env:"SITE_BASE_URL" envDefault:"http://localhost:3000"`
	StateTTLSeconds    int    `env:"OAUTH_STATE_TTL_SECONDS" envDefault:"600"`
	RefreshSkewSeconds int    `env:"TOKEN_REFRESH_SKEW_SECONDS" envDefault:"60"`
	SyncRetentionDays  int    `env:"SYNC_LOG_RETENTION_DAYS" envDefault:"30"`
	RateLimitPerMin    int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSeconds) * time.Second
}

// RefreshSkew is how long before the recorded expiry an access token is
// already treated as stale, so a token never reaches the provider with only
// seconds left on the clock.
func (c *Config) RefreshSkew() time.Duration {
	return time.Duration(c.RefreshSkewSeconds) * time.Second
}

func (c *Config) SyncRetention() time.Duration {
	return time.Duration(c.SyncRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedirectURI is the callback registered with the provider. It must match the
// redirect_uri sent on both the authorize and the token-exchange request.
func (c *Config) RedirectURI() string {
	return strings.TrimSuffix(c.SiteBaseURL, "/") + "/oauth/fitbit/callback"
}

func (c *Config) Validate(isProduction bool) error {
	if c.FitbitClientID == "" || c.FitbitClientSecret == "" {
		if isProduction {
			return fmt.Errorf("FITBIT_CLIENT_ID and FITBIT_CLIENT_SECRET are required in production")
		}
		log.Warn().Msg("Fitbit client credentials not set: connect requests will fail until configured")
	}

	if c.StateTTLSeconds < 60 {
		return fmt.Errorf("OAUTH_STATE_TTL_SECONDS must be at least 60, got %d", c.StateTTLSeconds)
	}

	if isProduction {
		if !strings.HasPrefix(c.SiteBaseURL, "https://") {
			return fmt.Errorf("SITE_BASE_URL must use https in production (the provider rejects plain-http redirect URIs)")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
