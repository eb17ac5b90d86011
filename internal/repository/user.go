package repository

import (
	"context"

	"github.com/pulsefit/sync-server-go/internal/database"
	"github.com/pulsefit/sync-server-go/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
	Create(ctx context.Context, email, tokenHash string) (*model.User, error)
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepository(db database.DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE id = $1
	`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE api_token_hash = $1
	`, tokenHash)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, email, tokenHash string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (email, api_token_hash)
		VALUES ($1, $2)
		RETURNING *
	`, email, tokenHash)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
