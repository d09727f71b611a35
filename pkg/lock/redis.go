package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/log"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another holder is never released by us
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by controllers running in separate processes.
// Locks expire after TTL so a crashed holder cannot wedge a lineage.
type RedisLocker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisLocker connects to Redis and verifies the connection
func NewRedisLocker(addr, password string, db int, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{
		client:  client,
		prefix:  "rollout:lock:",
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  log.WithComponent("redis-lock"),
	}, nil
}

// TryLock implements Locker with SET NX PX
func (l *RedisLocker) TryLock(ctx context.Context, lineage string) (func(), error) {
	key := l.prefix + lineage
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lineage, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// The caller's context may already be done; release on our own deadline
		rctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("lineage", lineage).Msg("failed to release lock")
		}
	}, nil
}

// Close closes the Redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
