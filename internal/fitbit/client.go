package fitbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/config"
)

const (
	DefaultAuthBase = "https://www.fitbit.com"
	DefaultAPIBase  = "https://api.fitbit.com"

	// Scopes requested on connect. heartrate and sleep cover the two
	// non-activity summary endpoints.
	Scopes = "activity heartrate sleep profile"
)

var (
	// ErrInvalidGrant means the provider rejected the credential itself
	// (revoked refresh token, reused authorization code). Retrying the same
	// request cannot succeed.
	ErrInvalidGrant = errors.New("fitbit: invalid grant")

	// ErrRateLimited is returned on HTTP 429 from any endpoint.
	ErrRateLimited = errors.New("fitbit: rate limited")
)

// APIError reports a non-2xx, non-429 response from a data endpoint, keeping
// enough detail to diagnose which call failed.
type APIError struct {
	Endpoint string
	Status   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitbit: %s endpoint returned status %d", e.Endpoint, e.Status)
}

// Client talks to the Fitbit OAuth2 and Web API endpoints. Base URLs are
// configurable for tests; zero values fall back to the production hosts.
type Client struct {
	clientID     string
	clientSecret string
	authBase     string
	apiBase      string
	httpClient   *http.Client
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		authBase:     DefaultAuthBase,
		apiBase:      DefaultAPIBase,
		httpClient:   &http.Client{Timeout: config.ProviderHTTPTimeout},
	}
}

// WithBaseURLs overrides the provider hosts. Used by tests pointing at a
// local server.
func (c *Client) WithBaseURLs(authBase, apiBase string) *Client {
	c.authBase = strings.TrimSuffix(authBase, "/")
	c.apiBase = strings.TrimSuffix(apiBase, "/")
	return c
}

// Configured reports whether client credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// AuthorizeURL builds the consent-screen URL for an authorization-code + PKCE
// flow.
func (c *Client) AuthorizeURL(state, codeChallenge, redirectURI string) string {
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {Scopes},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return c.authBase + "/oauth2/authorize?" + params.Encode()
}

// ExchangeCode trades an authorization code and its PKCE verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {c.clientID},
		"code_verifier": {codeVerifier},
	}
	return c.tokenRequest(ctx, data)
}

// Refresh trades a refresh token for a new access token. The provider rotates
// refresh tokens, so the response carries the replacement.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.tokenRequest(ctx, data)
}

func (c *Client) tokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		if isInvalidGrant(resp.StatusCode, body) {
			log.Warn().Int("status", resp.StatusCode).Msg("fitbit rejected stored grant")
			return nil, ErrInvalidGrant
		}
		log.Error().Int("status", resp.StatusCode).Str("grant", data.Get("grant_type")).Msg("fitbit token request failed")
		return nil, &APIError{Endpoint: "token", Status: resp.StatusCode}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tokenResp, nil
}

// isInvalidGrant inspects a token-endpoint failure for the irrecoverable
// cases. Fitbit reports invalid_grant with 400 and expired/revoked tokens
// with 401.
func isInvalidGrant(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	for _, e := range errResp.Errors {
		switch e.ErrorType {
		case "invalid_grant", "invalid_token", "expired_token":
			return true
		}
	}
	return false
}

// DailyActivity fetches the activity summary for a date (YYYY-MM-DD).
func (c *Client) DailyActivity(ctx context.Context, accessToken, date string) (*ActivityResponse, error) {
	var out ActivityResponse
	path := fmt.Sprintf("/1/user/-/activities/date/%s.json", date)
	if err := c.getJSON(ctx, accessToken, "activity", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeartRate fetches the daily heart-rate series for a date.
func (c *Client) HeartRate(ctx context.Context, accessToken, date string) (*HeartResponse, error) {
	var out HeartResponse
	path := fmt.Sprintf("/1/user/-/activities/heart/date/%s/1d.json", date)
	if err := c.getJSON(ctx, accessToken, "heart", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sleep fetches the sleep summary for a date.
func (c *Client) Sleep(ctx context.Context, accessToken, date string) (*SleepResponse, error) {
	var out SleepResponse
	path := fmt.Sprintf("/1.2/user/-/sleep/date/%s.json", date)
	if err := c.getJSON(ctx, accessToken, "sleep", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, endpoint, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("fitbit data request failed")
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
