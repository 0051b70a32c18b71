package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	byRef map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRef: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[tx.Reference]; ok {
		return ErrDuplicateReference
	}
	cp := *tx
	m.byRef[tx.Reference] = &cp
	return nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetByGatewayID(ctx context.Context, gatewayID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gatewayID == "" {
		return nil, ErrNotFound
	}
	for _, tx := range m.byRef {
		if tx.GatewayID == gatewayID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, tx := range m.byRef {
		if tx.TenantID == tenantID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Settle(ctx context.Context, reference string, apply func(*Transaction) (*Mutation, error)) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *tx
	mut, err := apply(&cp)
	if err != nil {
		return nil, err
	}
	if mut == nil {
		return &cp, nil
	}

	if mut.GatewayID != "" {
		for ref, other := range m.byRef {
			if ref != reference && other.GatewayID == mut.GatewayID {
				return nil, ErrGatewayIDBound
			}
		}
	}

	tx.Status = mut.Status
	tx.GatewayID = mut.GatewayID
	tx.PaymentMethod = mut.PaymentMethod
	tx.UpdatedAt = time.Now()
	out := *tx
	return &out, nil
}
