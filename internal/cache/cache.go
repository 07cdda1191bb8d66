// Package cache memoizes evaluations and provides entity locks, in process
// for the Community tier and on Redis for the Pro tier.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

// ErrTenantRequired is returned for calls without a tenant.
var ErrTenantRequired = errors.New("tenantID is required")

const (
	keyPrefix        = "larder"
	defaultLocalSize = 10000
	defaultLocalTTL  = 5 * time.Minute
	defaultRedisAddr = "localhost:6379"
	redisDialTimeout = 5 * time.Second
)

// New builds the cache named by cfg.Type. A redis cache with
// EnableTwoPhase is fronted by an in-process tier.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTieredCache(NewMemoryCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type %q", cfg.Type)
	}
}

// evalKey and lockKey namespace the two kinds of entries so a lock name can
// never shadow a memoized evaluation.
func evalKey(tenantID, key string) string {
	return keyPrefix + ":" + tenantID + ":eval:" + key
}

func lockKey(tenantID, name string) string {
	return keyPrefix + ":" + tenantID + ":lock:" + name
}

func encodeEvaluation(eval *domain.Evaluation) ([]byte, error) {
	if eval == nil {
		return nil, errors.New("nil evaluation")
	}
	data, err := json.Marshal(eval)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation: %w", err)
	}
	return data, nil
}

func decodeEvaluation(data []byte) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	if err := json.Unmarshal(data, &eval); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}
	return &eval, nil
}
