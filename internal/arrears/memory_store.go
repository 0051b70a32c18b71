package arrears

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	arrears  map[string]*Arrear
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
		arrears:  make(map[string]*Arrear),
	}
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, tenantID string, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeletePayment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(m.payments, id)
	for aid, a := range m.arrears {
		if a.PaymentID == id {
			delete(m.arrears, aid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateArrear(ctx context.Context, a *Arrear) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.arrears[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetArrear(ctx context.Context, id string) (*Arrear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arrears[id]
	if !ok {
		return nil, ErrArrearNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateArrear(ctx context.Context, a *Arrear) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.arrears[a.ID]; !ok {
		return ErrArrearNotFound
	}
	cp := *a
	m.arrears[a.ID] = &cp
	return nil
}

func (m *MemoryStore) ListArrears(ctx context.Context, tenantID string, status ArrearStatus) ([]*Arrear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Arrear
	for _, a := range m.arrears {
		if a.TenantID != tenantID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
