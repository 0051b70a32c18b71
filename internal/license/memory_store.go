package license

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryOverrideStore is an in-memory OverrideStore for development and tests.
type MemoryOverrideStore struct {
	mu   sync.Mutex
	rows map[string]*Override
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{rows: make(map[string]*Override)}
}

func (m *MemoryOverrideStore) Create(ctx context.Context, o *Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.rows[o.ID] = &cp
	return nil
}

func (m *MemoryOverrideStore) LatestActive(ctx context.Context, tenantID string, now time.Time) (*Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Override
	for _, o := range m.rows {
		if o.TenantID != tenantID || o.Expired(now) {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, ErrOverrideNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryOverrideStore) ListByTenant(ctx context.Context, tenantID string) ([]*Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Override
	for _, o := range m.rows {
		if o.TenantID == tenantID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryOverrideStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrOverrideNotFound
	}
	delete(m.rows, id)
	return nil
}

// MemoryKeyStore is an in-memory KeyStore for development and tests.
type MemoryKeyStore struct {
	mu   sync.Mutex
	rows map[string]*Key // by ID
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{rows: make(map[string]*Key)}
}

func (m *MemoryKeyStore) Create(ctx context.Context, k *Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.rows[k.ID] = &cp
	return nil
}

func (m *MemoryKeyStore) GetByCode(ctx context.Context, code string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.rows {
		if strings.EqualFold(k.Code, code) {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MemoryKeyStore) MarkRedeemed(ctx context.Context, id, tenantID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.rows[id]
	if !ok {
		return ErrKeyNotFound
	}
	if k.RedeemedBy != "" {
		return ErrKeyRedeemed
	}
	k.RedeemedBy = tenantID
	t := at
	k.RedeemedAt = &t
	return nil
}
