package automation

import (
	"context"
	"sync"

	"github.com/opensource-finance/larder/internal/domain"
)

// MemoryLog is an in-process append-only action log.
// Reads return copies; appended records are never modified.
type MemoryLog struct {
	mu      sync.RWMutex
	records []domain.ActionRecord
	index   map[string]int // tenant/entity/trigger -> position
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{index: make(map[string]int)}
}

func logKey(tenantID, entityID, triggerID string) string {
	return tenantID + "\x00" + entityID + "\x00" + triggerID
}

// AppendAction adds a record. A second record for the same
// (entity, trigger) pair is rejected with ErrDuplicateAction.
func (l *MemoryLog) AppendAction(_ context.Context, rec *domain.ActionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := logKey(rec.TenantID, rec.EntityID, rec.TriggerID)
	if _, exists := l.index[key]; exists {
		return domain.ErrDuplicateAction
	}
	l.index[key] = len(l.records)
	l.records = append(l.records, copyRecord(rec))
	return nil
}

// FindAction returns a copy of the record for the pair, or nil.
func (l *MemoryLog) FindAction(_ context.Context, tenantID, entityID, triggerID string) (*domain.ActionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.index[logKey(tenantID, entityID, triggerID)]
	if !ok {
		return nil, nil
	}
	rec := copyRecord(&l.records[pos])
	return &rec, nil
}

// ListActions returns copies in append order.
func (l *MemoryLog) ListActions(_ context.Context, tenantID, entityID string) ([]domain.ActionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.ActionRecord, 0)
	for i := range l.records {
		r := &l.records[i]
		if r.TenantID != tenantID {
			continue
		}
		if entityID != "" && r.EntityID != entityID {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

// copyRecord deep-copies the pointer fields of a record.
func copyRecord(rec *domain.ActionRecord) domain.ActionRecord {
	c := *rec
	if rec.Params.Offer != nil {
		offer := *rec.Params.Offer
		c.Params.Offer = &offer
	}
	return c
}
