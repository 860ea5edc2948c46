package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const redisLockPrefix = "settlement:lock:"

// RedisLocker is a Locker shared by every process pointed at the same Redis.
// A lock expires after ttl if its holder dies; holders must finish well within it.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, retry time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		retry:  retry,
	}, nil
}

// TryLock makes a single attempt and returns the holder token on success.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisLockPrefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock polls until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("unable to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	// The caller's context may already be cancelled; release regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.script.Run(ctx, l.client, []string{redisLockPrefix + key}, token).Err(); err != nil {
		zap.L().Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
	}
}
