package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/audit"
	"github.com/pulsefit/sync-server-go/internal/config"
	apperrors "github.com/pulsefit/sync-server-go/internal/errors"
	"github.com/pulsefit/sync-server-go/internal/fitbit"
	"github.com/pulsefit/sync-server-go/internal/model"
	"github.com/pulsefit/sync-server-go/internal/repository"
	"github.com/pulsefit/sync-server-go/internal/util"
)

// ConnectService owns the provider connection lifecycle: building the consent
// URL, handling the callback exchange, reporting status, and disconnecting.
type ConnectService struct {
	cfg       *config.Config
	provider  ProviderClient
	tokenRepo repository.TokenRepository
	stateRepo repository.StateRepository
}

func NewConnectService(
	cfg *config.Config,
	provider ProviderClient,
	tokenRepo repository.TokenRepository,
	stateRepo repository.StateRepository,
) *ConnectService {
	return &ConnectService{
		cfg:       cfg,
		provider:  provider,
		tokenRepo: tokenRepo,
		stateRepo: stateRepo,
	}
}

// AuthorizeURL starts an authorization flow for a user and returns the
// provider consent URL. The PKCE verifier and the user binding live only in
// the server-side state record, never in the URL.
func (s *ConnectService) AuthorizeURL(ctx context.Context, userID, origin string, popup bool) (string, error) {
	if !s.provider.Configured() {
		log.Error().Msg("fitbit client credentials missing")
		return "", apperrors.ServerConfig("Provider client is not configured")
	}

	state, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Internal("Failed to generate state token").WithCause(err)
	}
	nonce, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Internal("Failed to generate nonce").WithCause(err)
	}
	verifier, err := util.GenerateCodeVerifier()
	if err != nil {
		return "", apperrors.Internal("Failed to generate code verifier").WithCause(err)
	}

	payload := model.OAuthState{
		UserID:       userID,
		Nonce:        nonce,
		CodeVerifier: verifier,
		Origin:       origin,
		Popup:        popup,
	}
	if err := s.stateRepo.Put(ctx, state, payload, s.cfg.StateTTL()); err != nil {
		return "", apperrors.Internal("Failed to store authorization state").WithCause(err)
	}

	challenge := util.CodeChallengeS256(verifier)
	authURL := s.provider.AuthorizeURL(state, challenge, s.cfg.RedirectURI())

	log.Info().Str("userId", userID).Bool("popup", popup).Msg("authorization flow started")

	return authURL, nil
}

// CallbackResult tells the handler how to answer the browser after a callback.
type CallbackResult struct {
	UserID string
	Popup  bool
	Origin string
}

// HandleCallback consumes the state, exchanges the authorization code, and
// persists the token record. The state is removed atomically up front so a
// replayed callback can never reach the token endpoint.
func (s *ConnectService) HandleCallback(ctx context.Context, code, state, providerError string) (*CallbackResult, error) {
	if state == "" {
		return nil, apperrors.MissingRequired("state")
	}

	stored, err := s.stateRepo.Consume(ctx, state)
	if err != nil {
		return nil, apperrors.Internal("Failed to look up authorization state").WithCause(err)
	}

	result := &CallbackResult{}
	if stored != nil {
		result.UserID = stored.UserID
		result.Popup = stored.Popup
		result.Origin = stored.Origin
	}

	if providerError != "" {
		log.Warn().Str("error", providerError).Msg("consent declined at provider")
		return result, apperrors.OAuthDenied()
	}
	if stored == nil {
		return nil, apperrors.InvalidState()
	}
	if code == "" {
		return result, apperrors.MissingRequired("code")
	}

	tokenResp, err := s.provider.ExchangeCode(ctx, code, stored.CodeVerifier, s.cfg.RedirectURI())
	if err != nil {
		log.Error().Err(err).Str("userId", stored.UserID).Msg("authorization code exchange failed")
		if errors.Is(err, fitbit.ErrRateLimited) {
			return result, apperrors.UpstreamRateLimited()
		}
		return result, apperrors.Upstream("token exchange", err)
	}

	record, err := s.tokenRepo.Upsert(ctx, model.UpsertTokenParams{
		UserID:         stored.UserID,
		Provider:       model.ProviderFitbit,
		AccessToken:    tokenResp.AccessToken,
		RefreshToken:   tokenResp.RefreshToken,
		ExpiresAt:      time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		Scope:          tokenResp.Scope,
		ProviderUserID: tokenResp.UserID,
	})
	if err != nil {
		return result, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:   audit.EventProviderConnect,
		UserID: record.UserID,
		Details: map[string]interface{}{
			"provider": record.Provider,
			"scope":    record.Scope,
		},
	})

	return result, nil
}

// Status returns the current token record, or nil when the user has no
// connection.
func (s *ConnectService) Status(ctx context.Context, userID string) (*model.TokenRecord, error) {
	record, err := s.tokenRepo.Find(ctx, userID, model.ProviderFitbit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return record, nil
}

// Disconnect removes the token record. Deletion is the only disconnect
// mechanism; there is no soft-delete state.
func (s *ConnectService) Disconnect(ctx context.Context, userID string) error {
	if err := s.tokenRepo.Delete(ctx, userID, model.ProviderFitbit); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventProviderDisconnect,
		UserID:  userID,
		Details: map[string]interface{}{"provider": model.ProviderFitbit},
	})

	log.Info().Str("userId", userID).Msg("provider disconnected")
	return nil
}

// SuccessRedirectURL is where the full-page flow lands after a completed
// callback.
func (s *ConnectService) SuccessRedirectURL() string {
	return fmt.Sprintf("%s?fitbit=connected", s.cfg.SiteBaseURL)
}

// FailureRedirectURL carries a machine-readable reason back to the app.
func (s *ConnectService) FailureRedirectURL(reason string) string {
	return fmt.Sprintf("%s?fitbit=error&reason=%s", s.cfg.SiteBaseURL, reason)
}
