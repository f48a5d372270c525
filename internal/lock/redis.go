package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when a distributed lock could not be taken.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the key only while it still carries our token so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes a RedisLocker.
type RedisConfig struct {
	KeyPrefix    string
	TTL          time.Duration
	PollInterval time.Duration
}

// DefaultRedisConfig returns the defaults used when fields are zero.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:    "reservations:lock:",
		TTL:          10 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// RedisLocker takes per-key locks with SET NX PX so that several service
// instances serialize on the same room. The TTL bounds how long a crashed
// holder can block others.
type RedisLocker struct {
	client *redis.Client
	config RedisConfig
	logger *slog.Logger
}

// NewRedisLocker constructs a RedisLocker over client.
func NewRedisLocker(client *redis.Client, config RedisConfig, logger *slog.Logger) *RedisLocker {
	defaults := DefaultRedisConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, config: config, logger: logger}
}

// Acquire polls until the key is set or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.config.KeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, redisKey, err)
		}
		if ok {
			return l.releaseFunc(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaseFunc(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release room lock", "key", redisKey, "error", err)
		}
	}
}
