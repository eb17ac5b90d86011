package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// StateKey is the key holding a pending OAuth authorization state.
func StateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}

// RefreshLockKey is the per-user lease guarding token refresh.
func RefreshLockKey(userID string) string {
	return fmt.Sprintf("refresh_lock:%s", userID)
}
