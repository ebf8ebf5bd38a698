package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/pkg"
)

const defaultRetryInterval = 25 * time.Millisecond

var ErrLockNotHeld = errors.New("lock is not held")

// UnlockFunc releases a lock taken by Locker.Lock.
type UnlockFunc func(ctx context.Context) error

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a Redis lock shared by every replica that talks to the same Redis.
type Locker struct {
	client        *redis.Client
	prefix        string
	retryInterval time.Duration
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{
		client:        client,
		prefix:        prefix,
		retryInterval: defaultRetryInterval,
	}
}

// Lock blocks until key is acquired or ctx is done. The lock expires after ttl
// if the holder never releases it.
func (that *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := that.prefix + "lock:" + key
	token := pkg.GenerateToken()

	ticker := time.NewTicker(that.retryInterval)
	defer ticker.Stop()

	for {
		acquired, err := that.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if acquired {
			return func(ctx context.Context) error {
				released, err := releaseScript.Run(ctx, that.client, []string{lockKey}, token).Int()
				if err != nil {
					return fmt.Errorf("failed to release lock %s: %w", key, err)
				}

				if released == 0 {
					return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
				}

				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
