package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // by ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Activate(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deactivate-then-insert under one lock hold.
	for _, r := range m.records {
		if r.TenantID == rec.TenantID && r.Status == StatusActive {
			r.Status = StatusExpired
			r.UpdatedAt = rec.CreatedAt
		}
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) ActiveForTenant(ctx context.Context, tenantID string, now time.Time) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Record
	for _, r := range m.records {
		if r.TenantID != tenantID || r.Status != StatusActive || !r.DueAt.After(now) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.Reference != "" && r.Reference == reference {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Record
	for _, r := range m.records {
		if r.TenantID == tenantID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
