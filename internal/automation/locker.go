package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

// Locker serializes automation per entity.
type Locker interface {
	// Lock blocks until the entity is free or ctx is done.
	Lock(ctx context.Context, tenantID, entityID string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker with one mutex per entity.
// Idle entries are removed when their last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the entity lock.
func (k *KeyedMutex) Lock(ctx context.Context, tenantID, entityID string) (func(), error) {
	key := tenantID + "\x00" + entityID

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// CacheLocker extends a KeyedMutex across processes with cache locks
// (Redis SET NX in the Pro tier).
type CacheLocker struct {
	local *KeyedMutex
	cache domain.Cache
	ttl   time.Duration
	retry time.Duration
}

// NewCacheLocker creates a distributed locker. ttl bounds how long a
// crashed holder can block an entity.
func NewCacheLocker(cache domain.Cache, ttl time.Duration) *CacheLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CacheLocker{
		local: NewKeyedMutex(),
		cache: cache,
		ttl:   ttl,
		retry: 25 * time.Millisecond,
	}
}

// Lock acquires the local lock first, then polls the cache lock.
func (c *CacheLocker) Lock(ctx context.Context, tenantID, entityID string) (func(), error) {
	unlockLocal, err := c.local.Lock(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}

	name := "automation:" + entityID
	ticker := time.NewTicker(c.retry)
	defer ticker.Stop()

	var token string
	for {
		token, err = c.cache.AcquireLock(ctx, tenantID, name, c.ttl)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			unlockLocal()
			return nil, fmt.Errorf("failed to acquire entity lock: %w", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release with a fresh context so a cancelled caller still frees the lock.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.cache.ReleaseLock(releaseCtx, tenantID, name, token); err != nil {
				slog.Warn("failed to release entity lock",
					"tenant_id", tenantID,
					"entity_id", entityID,
					"error", err,
				)
			}
			unlockLocal()
		})
	}, nil
}
