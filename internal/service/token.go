package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/audit"
	"github.com/pulsefit/sync-server-go/internal/config"
	apperrors "github.com/pulsefit/sync-server-go/internal/errors"
	"github.com/pulsefit/sync-server-go/internal/fitbit"
	"github.com/pulsefit/sync-server-go/internal/model"
	"github.com/pulsefit/sync-server-go/internal/repository"
)

const refreshPollInterval = 200 * time.Millisecond

// TokenService hands out valid access tokens, refreshing them when the stored
// one is stale. Refresh is single-flight per user: one caller wins the Redis
// lease and talks to the provider, the rest wait for the record to update.
type TokenService struct {
	cfg       *config.Config
	provider  ProviderClient
	tokenRepo repository.TokenRepository
	locker    Locker

	// now is swappable for tests.
	now func() time.Time
}

func NewTokenService(
	cfg *config.Config,
	provider ProviderClient,
	tokenRepo repository.TokenRepository,
	locker Locker,
) *TokenService {
	return &TokenService{
		cfg:       cfg,
		provider:  provider,
		tokenRepo: tokenRepo,
		locker:    locker,
		now:       time.Now,
	}
}

// EnsureAccessToken returns an access token that is valid for at least the
// configured skew. The fast path makes no network or Redis call.
func (s *TokenService) EnsureAccessToken(ctx context.Context, userID string) (string, error) {
	record, err := s.tokenRepo.Find(ctx, userID, model.ProviderFitbit)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if record == nil {
		return "", apperrors.NotConnected()
	}
	if !record.Expired(s.now(), s.cfg.RefreshSkew()) {
		return record.AccessToken, nil
	}

	lease, won, err := s.locker.Acquire(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("refresh lease unavailable; waiting for holder")
		won = false
	}
	if !won {
		return s.awaitRefreshed(ctx, userID)
	}
	defer s.locker.Release(ctx, userID, lease)

	return s.refresh(ctx, userID)
}

// refresh runs under the lease. The record is re-read first: another instance
// may have refreshed between our staleness check and the lock acquisition.
func (s *TokenService) refresh(ctx context.Context, userID string) (string, error) {
	record, err := s.tokenRepo.Find(ctx, userID, model.ProviderFitbit)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if record == nil {
		return "", apperrors.NotConnected()
	}
	if !record.Expired(s.now(), s.cfg.RefreshSkew()) {
		return record.AccessToken, nil
	}

	resp, err := s.provider.Refresh(ctx, record.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, fitbit.ErrInvalidGrant):
			return "", s.invalidateTokens(ctx, userID, err)
		case errors.Is(err, fitbit.ErrRateLimited):
			log.Warn().Str("userId", userID).Msg("token refresh rate limited by provider")
			return "", apperrors.UpstreamRateLimited()
		default:
			log.Error().Err(err).Str("userId", userID).Msg("token refresh failed")
			return "", apperrors.Upstream("token refresh", err)
		}
	}

	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = record.RefreshToken
	}
	expiresAt := s.now().Add(time.Duration(resp.ExpiresIn) * time.Second)

	swapped, err := s.tokenRepo.UpdateIfRefreshMatches(
		ctx, userID, model.ProviderFitbit,
		record.RefreshToken, resp.AccessToken, newRefresh, expiresAt,
	)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if !swapped {
		// Lost the conditional update: another writer rotated the refresh
		// token first. Their result is the authoritative one.
		return s.awaitRefreshed(ctx, userID)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventTokenRefresh,
		UserID:  userID,
		Details: map[string]interface{}{"provider": model.ProviderFitbit},
	})

	return resp.AccessToken, nil
}

// invalidateTokens handles an irrecoverable refresh rejection: the record is
// deleted so the user is cleanly back in the not-connected state, and the
// caller learns a reconnect is required. Retrying with a dead refresh token
// cannot succeed, so nothing is retried.
func (s *TokenService) invalidateTokens(ctx context.Context, userID string, cause error) error {
	if err := s.tokenRepo.Delete(ctx, userID, model.ProviderFitbit); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to delete invalidated token record")
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventRefreshInvalid,
		UserID:  userID,
		Details: map[string]interface{}{"provider": model.ProviderFitbit},
	})

	log.Warn().Err(cause).Str("userId", userID).Msg("refresh token revoked; token record deleted")
	return apperrors.RefreshTokenInvalid()
}

// awaitRefreshed polls the token record while the lease holder refreshes it.
func (s *TokenService) awaitRefreshed(ctx context.Context, userID string) (string, error) {
	deadline := s.now().Add(config.RefreshWaitTimeout)
	ticker := time.NewTicker(refreshPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", apperrors.Upstream("token refresh wait", ctx.Err())
		case <-ticker.C:
		}

		record, err := s.tokenRepo.Find(ctx, userID, model.ProviderFitbit)
		if err != nil {
			return "", apperrors.Database(err)
		}
		if record == nil {
			// The holder hit an invalid grant and deleted the record.
			return "", apperrors.RefreshTokenInvalid()
		}
		if !record.Expired(s.now(), s.cfg.RefreshSkew()) {
			return record.AccessToken, nil
		}

		if s.now().After(deadline) {
			return "", apperrors.Upstream("token refresh wait", errors.New("timed out waiting for concurrent refresh"))
		}
	}
}
