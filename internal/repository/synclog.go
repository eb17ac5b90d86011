package repository

import (
	"context"
	"time"

	"github.com/pulsefit/sync-server-go/internal/database"
	"github.com/pulsefit/sync-server-go/internal/model"
)

type SyncLogRepository interface {
	Create(ctx context.Context, params model.CreateSyncLogParams) (*model.SyncLogEntry, error)
	FindByUserID(ctx context.Context, userID string, limit int) ([]model.SyncLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type syncLogRepo struct {
	db database.DBTX
}

func NewSyncLogRepository(db database.DBTX) SyncLogRepository {
	return &syncLogRepo{db: db}
}

func (r *syncLogRepo) Create(ctx context.Context, params model.CreateSyncLogParams) (*model.SyncLogEntry, error) {
	var entry model.SyncLogEntry
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO sync_log (user_id, date, outcome, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.UserID, params.Date, params.Outcome, params.Detail)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *syncLogRepo) FindByUserID(ctx context.Context, userID string, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []model.SyncLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM sync_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *syncLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_log WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
