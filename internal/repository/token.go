package repository

import (
	"context"
	"time"

	"github.com/pulsefit/sync-server-go/internal/database"
	"github.com/pulsefit/sync-server-go/internal/model"
)

type TokenRepository interface {
	Find(ctx context.Context, userID, provider string) (*model.TokenRecord, error)
	Upsert(ctx context.Context, params model.UpsertTokenParams) (*model.TokenRecord, error)
	// UpdateIfRefreshMatches replaces the stored tokens only when the current
	// refresh token still equals expectedRefresh. Returns false when another
	// writer rotated the token first.
	UpdateIfRefreshMatches(ctx context.Context, userID, provider, expectedRefresh, accessToken, refreshToken string, expiresAt time.Time) (bool, error)
	Delete(ctx context.Context, userID, provider string) error
}

type tokenRepo struct {
	db database.DBTX
}

func NewTokenRepository(db database.DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Find(ctx context.Context, userID, provider string) (*model.TokenRecord, error) {
	var record model.TokenRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT * FROM provider_tokens
		WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	return HandleNotFound(&record, err)
}

func (r *tokenRepo) Upsert(ctx context.Context, params model.UpsertTokenParams) (*model.TokenRecord, error) {
	var record model.TokenRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO provider_tokens (user_id, provider, access_token, refresh_token, expires_at, scope, provider_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			provider_user_id = EXCLUDED.provider_user_id,
			updated_at = NOW()
		RETURNING *
	`, params.UserID, params.Provider, params.AccessToken, params.RefreshToken,
		params.ExpiresAt, params.Scope, params.ProviderUserID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *tokenRepo) UpdateIfRefreshMatches(ctx context.Context, userID, provider, expectedRefresh, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE provider_tokens
		SET access_token = $4, refresh_token = $5, expires_at = $6, updated_at = NOW()
		WHERE user_id = $1 AND provider = $2 AND refresh_token = $3
	`, userID, provider, expectedRefresh, accessToken, refreshToken, expiresAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *tokenRepo) Delete(ctx context.Context, userID, provider string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM provider_tokens WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	return err
}
