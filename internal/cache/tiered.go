package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

// TieredCache reads evaluations from an in-process front tier before the
// shared back tier and fills the front on a back hit. Locks always go to
// the back tier, since a lock only serializes work if every node sees it.
type TieredCache struct {
	front    *MemoryCache
	back     domain.Cache
	frontTTL time.Duration
}

// NewTieredCache fronts back with front. frontTTL caps how long an entry
// stays in the front tier.
func NewTieredCache(front *MemoryCache, back domain.Cache, frontTTL time.Duration) *TieredCache {
	if frontTTL <= 0 {
		frontTTL = defaultLocalTTL
	}
	return &TieredCache{front: front, back: back, frontTTL: frontTTL}
}

func (c *TieredCache) GetEvaluation(ctx context.Context, tenantID string, key string) (*domain.Evaluation, error) {
	eval, err := c.front.GetEvaluation(ctx, tenantID, key)
	if err != nil || eval != nil {
		return eval, err
	}

	eval, err = c.back.GetEvaluation(ctx, tenantID, key)
	if err != nil || eval == nil {
		return nil, err
	}
	if err := c.front.SetEvaluation(ctx, tenantID, key, eval, c.frontTTL); err != nil {
		slog.Debug("front cache fill failed", "tenant_id", tenantID, "error", err)
	}
	return eval, nil
}

// SetEvaluation writes the back tier first so the front never holds an
// entry other nodes cannot see.
func (c *TieredCache) SetEvaluation(ctx context.Context, tenantID string, key string, eval *domain.Evaluation, ttl time.Duration) error {
	if err := c.back.SetEvaluation(ctx, tenantID, key, eval, ttl); err != nil {
		return err
	}
	return c.front.SetEvaluation(ctx, tenantID, key, eval, min(ttl, c.frontTTL))
}

func (c *TieredCache) AcquireLock(ctx context.Context, tenantID string, name string, ttl time.Duration) (string, error) {
	return c.back.AcquireLock(ctx, tenantID, name, ttl)
}

func (c *TieredCache) ReleaseLock(ctx context.Context, tenantID string, name string, token string) error {
	return c.back.ReleaseLock(ctx, tenantID, name, token)
}

func (c *TieredCache) Ping(ctx context.Context) error {
	if err := c.back.Ping(ctx); err != nil {
		return fmt.Errorf("back tier: %w", err)
	}
	return nil
}

func (c *TieredCache) Close() error {
	c.front.Close()
	return c.back.Close()
}
