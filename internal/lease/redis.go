package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisLocker keeps leases as expiring Redis keys.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker connects and pings the server.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisLocker(client, cfg.Prefix, ttl), nil
}

func newRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "pdfflow:lease:"
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLocker) Acquire(ctx context.Context, key Key) (Lease, error) {
	redisKey := r.prefix + key.String()
	token := newToken()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lease %s: %w", key, err)
	}
	if !ok {
		holder, _ := r.client.Get(ctx, redisKey).Result()
		return nil, fmt.Errorf("%w: %s by %s", ErrHeld, key, holder)
	}

	return &heldLease{
		key:   key,
		token: token,
		release: func(ctx context.Context) error {
			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
				return fmt.Errorf("redis release %s: %w", key, err)
			}
			return nil
		},
	}, nil
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}
