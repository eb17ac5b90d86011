package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsefit/sync-server-go/internal/model"
	redisclient "github.com/pulsefit/sync-server-go/internal/redis"
)

// StateRepository stores pending OAuth authorization states. The store is
// Redis rather than process memory so every server instance sees the same
// states and TTL expiry is enforced externally.
type StateRepository interface {
	Put(ctx context.Context, state string, payload model.OAuthState, ttl time.Duration) error
	// Consume removes and returns the state in one atomic step. A second call
	// with the same state returns nil even if the first is still in flight.
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
}

type stateRepo struct {
	client *redisclient.Client
}

func NewStateRepository(client *redisclient.Client) StateRepository {
	return &stateRepo{client: client}
}

func (r *stateRepo) Put(ctx context.Context, state string, payload model.OAuthState, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}
	if err := r.client.Set(ctx, redisclient.StateKey(state), data, ttl).Err(); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

func (r *stateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	data, err := r.client.GetDel(ctx, redisclient.StateKey(state)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	var payload model.OAuthState
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal oauth state: %w", err)
	}
	return &payload, nil
}
