package service

import (
	"context"

	"github.com/pulsefit/sync-server-go/internal/fitbit"
)

// ProviderClient is the surface of the Fitbit client the services use.
// Implemented by *fitbit.Client; tests substitute fakes.
type ProviderClient interface {
	Configured() bool
	AuthorizeURL(state, codeChallenge, redirectURI string) string
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*fitbit.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*fitbit.TokenResponse, error)
	DailyActivity(ctx context.Context, accessToken, date string) (*fitbit.ActivityResponse, error)
	HeartRate(ctx context.Context, accessToken, date string) (*fitbit.HeartResponse, error)
	Sleep(ctx context.Context, accessToken, date string) (*fitbit.SleepResponse, error)
}

var _ ProviderClient = (*fitbit.Client)(nil)
