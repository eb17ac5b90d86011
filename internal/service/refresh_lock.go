package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/config"
	redisclient "github.com/pulsefit/sync-server-go/internal/redis"
	"github.com/pulsefit/sync-server-go/internal/util"
)

// Locker serializes token refresh per user so two callers observing the same
// expired token cannot both hit the provider with one refresh token.
type Locker interface {
	// Acquire returns a lease value when the caller wins the lock.
	Acquire(ctx context.Context, userID string) (lease string, ok bool, err error)
	Release(ctx context.Context, userID, lease string)
}

// releaseScript deletes the lock only if it still holds our lease value, so
// an expired lease cannot release a lock some other caller now owns.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisRefreshLock is a Redis lease. The TTL bounds how long a crashed holder
// can block other callers.
type RedisRefreshLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRefreshLock(client *redis.Client) *RedisRefreshLock {
	return &RedisRefreshLock{client: client, ttl: config.RefreshLeaseTTL}
}

func (l *RedisRefreshLock) Acquire(ctx context.Context, userID string) (string, bool, error) {
	lease, err := util.GenerateToken()
	if err != nil {
		return "", false, err
	}

	ok, err := l.client.SetNX(ctx, redisclient.RefreshLockKey(userID), lease, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return lease, true, nil
}

func (l *RedisRefreshLock) Release(ctx context.Context, userID, lease string) {
	if err := releaseScript.Run(ctx, l.client, []string{redisclient.RefreshLockKey(userID)}, lease).Err(); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to release refresh lease; it will expire on its own")
	}
}
