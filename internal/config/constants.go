package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 1 * time.Hour

// Outbound calls to the provider
const (
	ProviderHTTPTimeout = 10 * time.Second

	// How long a per-user refresh lease is held before Redis reclaims it.
	// Covers one token-endpoint round trip with margin.
	RefreshLeaseTTL = 15 * time.Second

	// How long a caller that lost the refresh lease waits for the winner
	// to persist the new token before giving up.
	RefreshWaitTimeout = 12 * time.Second
)

// Default per-user rate limiting
const DefaultRateLimitPerMin = 60
