package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps memoized evaluations and entity locks in Redis so every
// Pro node sees the same entries.
type RedisCache struct {
	client *redis.Client
}

// unlockScript deletes KEYS[1] only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = defaultRedisAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// GetEvaluation returns a memoized evaluation, or nil, nil on a miss.
func (c *RedisCache) GetEvaluation(ctx context.Context, tenantID string, key string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	data, err := c.client.Get(ctx, evalKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get evaluation: %w", err)
	}
	return decodeEvaluation(data)
}

// SetEvaluation memoizes eval with ttl as the Redis expiry.
func (c *RedisCache) SetEvaluation(ctx context.Context, tenantID string, key string, eval *domain.Evaluation, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	data, err := encodeEvaluation(eval)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, evalKey(tenantID, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set evaluation: %w", err)
	}
	return nil
}

// AcquireLock takes a cluster-wide lock with SET NX and a fresh token.
func (c *RedisCache) AcquireLock(ctx context.Context, tenantID string, name string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, lockKey(tenantID, name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

// ReleaseLock deletes the lock if token still owns it.
func (c *RedisCache) ReleaseLock(ctx context.Context, tenantID string, name string, token string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if err := unlockScript.Run(ctx, c.client, []string{lockKey(tenantID, name)}, token).Err(); err != nil {
		return fmt.Errorf("redis release lock %s: %w", name, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
