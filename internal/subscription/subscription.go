// Package subscription manages paid subscription records.
//
// Invariant: at most one row per tenant is active at a time. Activation
// always deactivates prior rows before inserting the new one, and the
// whole sequence runs under a per-tenant lock (memory path) or a single
// database transaction (Postgres path) so two concurrent approvals cannot
// both insert.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/idgen"
	"github.com/fleetmaster/fleetmaster/internal/metrics"
	"github.com/fleetmaster/fleetmaster/internal/plan"
	"github.com/fleetmaster/fleetmaster/internal/syncutil"
)

var (
	ErrNotFound = errors.New("subscription: not found")
)

// Status represents a subscription row's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Record is one subscription row. Rows are deactivated, never deleted.
type Record struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Plan      plan.Plan     `json:"plan"`
	Duration  plan.Duration `json:"duration"`
	Price     int64         `json:"price"` // whole COP charged for the period
	Reference string        `json:"reference,omitempty"`
	StartsAt  time.Time     `json:"startDate"`
	DueAt     time.Time     `json:"dueDate"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Store persists subscription records.
type Store interface {
	// Activate deactivates all of the tenant's active rows and inserts rec
	// as the single active one, atomically.
	Activate(ctx context.Context, rec *Record) error
	// ActiveForTenant returns the tenant's active row with a due date after
	// now, or ErrNotFound.
	ActiveForTenant(ctx context.Context, tenantID string, now time.Time) (*Record, error)
	// GetByReference returns the row created for a payment reference, or
	// ErrNotFound.
	GetByReference(ctx context.Context, reference string) (*Record, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Record, error)
}

// Fulfillment turns an approved purchase into subscription state.
type Fulfillment struct {
	store  Store
	locks  syncutil.KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFulfillment creates a fulfillment engine.
func NewFulfillment(store Store, logger *slog.Logger) *Fulfillment {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fulfillment{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (f *Fulfillment) WithClock(now func() time.Time) *Fulfillment {
	f.now = now
	return f
}

// Store exposes the underlying store.
func (f *Fulfillment) Store() Store { return f.store }

// Activate extends or creates the tenant's subscription for the plan and
// duration, deactivating any prior active rows.
//
// When reference is non-empty the call is idempotent by reference: a
// retried webhook delivery for an already-fulfilled payment returns the
// existing record without touching subscription state. This is what keeps
// "ledger row approved" and "subscription extended" convergent under
// at-least-once delivery: a delivery that approved the row but crashed
// before fulfillment is healed by the gateway's retry.
func (f *Fulfillment) Activate(ctx context.Context, tenantID string, p plan.Plan, d plan.Duration, reference string) (*Record, error) {
	if !plan.Valid(p) {
		return nil, plan.ErrUnknownPlan
	}
	if !plan.ValidDuration(d) {
		return nil, plan.ErrUnknownDuration
	}

	unlock := f.locks.Lock(tenantID)
	defer unlock()

	if reference != "" {
		if existing, err := f.store.GetByReference(ctx, reference); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	price, err := plan.PriceFor(p, d)
	if err != nil {
		return nil, err
	}

	now := f.now()
	rec := &Record{
		ID:        idgen.WithPrefix("sub_"),
		TenantID:  tenantID,
		Plan:      p,
		Duration:  d,
		Price:     price,
		Reference: reference,
		StartsAt:  now,
		DueAt:     now.AddDate(0, 0, d.Days()),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.Activate(ctx, rec); err != nil {
		return nil, err
	}

	metrics.SubscriptionsActivated.WithLabelValues(string(p)).Inc()
	f.logger.Info("subscription activated",
		"tenant_id", tenantID,
		"plan", string(p),
		"duration", string(d),
		"due_at", rec.DueAt,
		"reference", reference,
	)
	return rec, nil
}
