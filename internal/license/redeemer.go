package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/plan"
	"github.com/fleetmaster/fleetmaster/internal/subscription"
)

// Fulfiller activates the key's plan once the guard passes.
type Fulfiller interface {
	Activate(ctx context.Context, tenantID string, p plan.Plan, d plan.Duration, reference string) (*subscription.Record, error)
}

// Redeemer applies pre-generated keys to tenant accounts.
//
// Unlike the purchase path, redemption carries a downgrade guard: a key
// whose plan weight does not exceed the tenant's current paid plan is
// refused. Keys are courtesy/prepaid instruments and must never rewrite
// a better subscription a customer paid for.
type Redeemer struct {
	keys    KeyStore
	subs    subscription.Store
	fulfill Fulfiller
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedeemer(keys KeyStore, subs subscription.Store, fulfill Fulfiller, logger *slog.Logger) *Redeemer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeemer{keys: keys, subs: subs, fulfill: fulfill, logger: logger, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (r *Redeemer) WithClock(now func() time.Time) *Redeemer {
	r.now = now
	return r
}

// Redeem applies the key code to the tenant's account and returns the
// resulting subscription record.
func (r *Redeemer) Redeem(ctx context.Context, tenantID, code string) (*subscription.Record, error) {
	key, err := r.keys.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if key.RedeemedBy != "" {
		return nil, ErrKeyRedeemed
	}

	now := r.now()
	if current, err := r.subs.ActiveForTenant(ctx, tenantID, now); err == nil {
		if plan.WeightOf(current.Plan) >= plan.WeightOf(key.Plan) {
			return nil, ErrDowngrade
		}
	} else if !errors.Is(err, subscription.ErrNotFound) {
		return nil, err
	}

	if err := r.keys.MarkRedeemed(ctx, key.ID, tenantID, now); err != nil {
		return nil, err
	}

	rec, err := r.fulfill.Activate(ctx, tenantID, key.Plan, key.Duration, "")
	if err != nil {
		return nil, err
	}

	r.logger.Info("license key redeemed",
		"tenant_id", tenantID,
		"key_id", key.ID,
		"plan", string(key.Plan),
		"duration", string(key.Duration),
	)
	return rec, nil
}
