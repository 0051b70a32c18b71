package account

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant // by ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if strings.EqualFold(existing.Email, t.Email) {
			return ErrEmailTaken
		}
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.Email, email) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByConfirmToken(ctx context.Context, token string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.ConfirmToken != "" && t.ConfirmToken == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *MemoryStore) Update(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
