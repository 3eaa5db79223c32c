package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisLockTTL = 5 * time.Second
	redisLockPrefix     = "meetup:lock:"
)

// Deletes the key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis opens a client and verifies the server answers.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// RedisLocker shares per-session locks between service instances. Locks are
// leased for ttl so a crashed holder cannot wedge a session.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	key = redisLockPrefix + key

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("acquire lock %s: %w: %w", key, domain.ErrStorageUnavailable, err)
	}

	if !acquired {
		return nil, ErrLockHeld
	}

	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}

	if deleted == 0 {
		return fmt.Errorf("release lock %s: %w", l.key, ErrLeaseLost)
	}

	return nil
}
