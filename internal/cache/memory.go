package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opensource-finance/larder/internal/domain"
)

// MemoryCache is the in-process cache of the Community tier and the front
// tier of a TieredCache. Evaluations are held as encoded JSON so readers
// never share a value; the least recently used entry goes first when the
// cache is full.
type MemoryCache struct {
	evals *lru.Cache[string, memoEntry]

	mu    sync.Mutex
	locks map[string]lease
}

type memoEntry struct {
	data      []byte
	expiresAt time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

// NewMemoryCache creates an in-process cache holding up to size evaluations.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = defaultLocalSize
	}
	// lru.New only fails for a non-positive size.
	evals, _ := lru.New[string, memoEntry](size)
	return &MemoryCache{
		evals: evals,
		locks: make(map[string]lease),
	}
}

// GetEvaluation returns a memoized evaluation. Expired entries are removed
// on read.
func (c *MemoryCache) GetEvaluation(ctx context.Context, tenantID string, key string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	k := evalKey(tenantID, key)
	entry, ok := c.evals.Get(k)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.evals.Remove(k)
		return nil, nil
	}
	return decodeEvaluation(entry.data)
}

// SetEvaluation memoizes eval for ttl.
func (c *MemoryCache) SetEvaluation(ctx context.Context, tenantID string, key string, eval *domain.Evaluation, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	data, err := encodeEvaluation(eval)
	if err != nil {
		return err
	}
	c.evals.Add(evalKey(tenantID, key), memoEntry{data: data, expiresAt: time.Now().Add(ttl)})
	return nil
}

// AcquireLock takes a process-local lock. An expired lock is taken over.
func (c *MemoryCache) AcquireLock(ctx context.Context, tenantID string, name string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	k := lockKey(tenantID, name)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.locks[k]; ok && now.Before(held.expiresAt) {
		return "", domain.ErrLockHeld
	}
	token := uuid.NewString()
	c.locks[k] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// ReleaseLock frees the lock when token still owns it.
func (c *MemoryCache) ReleaseLock(ctx context.Context, tenantID string, name string, token string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	k := lockKey(tenantID, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if held, ok := c.locks[k]; ok && held.token == token {
		delete(c.locks, k)
	}
	return nil
}

// Len reports how many evaluations are held, expired ones included.
func (c *MemoryCache) Len() int {
	return c.evals.Len()
}

func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and lock.
func (c *MemoryCache) Close() error {
	c.evals.Purge()
	c.mu.Lock()
	c.locks = make(map[string]lease)
	c.mu.Unlock()
	return nil
}
