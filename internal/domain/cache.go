package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by AcquireLock when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another owner")

// Cache memoizes evaluations and hands out short-lived entity locks.
// Every key is scoped to a tenant; an empty tenantID is an error.
type Cache interface {
	// GetEvaluation returns the evaluation memoized under key, or nil, nil
	// on a miss. The caller owns the returned value.
	GetEvaluation(ctx context.Context, tenantID string, key string) (*Evaluation, error)

	// SetEvaluation memoizes an evaluation under a content key.
	SetEvaluation(ctx context.Context, tenantID string, key string, eval *Evaluation, ttl time.Duration) error

	// AcquireLock takes the named lock for ttl and returns a token that
	// identifies this acquisition. It returns ErrLockHeld when the lock is
	// taken.
	AcquireLock(ctx context.Context, tenantID string, name string, ttl time.Duration) (token string, err error)

	// ReleaseLock frees the lock if token still owns it. Releasing a lock
	// that expired or passed to another owner is a no-op.
	ReleaseLock(ctx context.Context, tenantID string, name string, token string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `json:"type" yaml:"type"`

	// In-process tier
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"localTtl"`

	// Redis tier (Pro)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// EnableTwoPhase fronts Redis with the in-process tier for reads.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"`

	// EvaluationTTL is how long memoized evaluations are kept.
	EvaluationTTL time.Duration `json:"evaluationTtl" yaml:"evaluationTtl"`
}
