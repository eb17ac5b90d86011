package model

import "time"

const ProviderFitbit = "fitbit"

// TokenRecord holds one user's provider credentials. There is at most one
// record per (user, provider) pair; writes are upserts on that key.
type TokenRecord struct {
	UserID         string    `db:"user_id" json:"userId"`
	Provider       string    `db:"provider" json:"provider"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	ExpiresAt      time.Time `db:"expires_at" json:"-"`
	Scope          string    `db:"scope" json:"scope"`
	ProviderUserID string    `db:"provider_user_id" json:"providerUserId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether the access token must not be used at the given
// instant. skew widens the window so a token is refreshed shortly before its
// recorded expiry rather than at it.
func (t *TokenRecord) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(t.ExpiresAt.Add(-skew))
}

type UpsertTokenParams struct {
	UserID         string
	Provider       string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	Scope          string
	ProviderUserID string
}

// OAuthState is the ephemeral record created when an authorization flow
// starts. It lives in Redis under the state token with a short TTL and is
// consumed exactly once by the callback.
type OAuthState struct {
	UserID       string `json:"userId"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"codeVerifier"`
	Origin       string `json:"origin,omitempty"`
	Popup        bool   `json:"popup,omitempty"`
}
