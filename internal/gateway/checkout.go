package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/idgen"
	"github.com/fleetmaster/fleetmaster/internal/ledger"
	"github.com/fleetmaster/fleetmaster/internal/plan"
	"github.com/fleetmaster/fleetmaster/internal/subscription"
	"github.com/fleetmaster/fleetmaster/internal/traces"
)

// ErrActiveSubscription rejects a purchase while a paid period is still
// running. The tenant has to wait it out (or support applies an
// override); stacking payments is not supported.
var ErrActiveSubscription = errors.New("gateway: tenant already has an active subscription")

// Checkout prepares payment-widget sessions: it prices the request,
// opens a PENDING ledger row and signs the amount so the gateway can
// reject client-side tampering.
type Checkout struct {
	ledger    ledger.Store
	subs      subscription.Store
	signer    *Signer
	publicKey string
	currency  string
	redirect  string
	logger    *slog.Logger
	now       func() time.Time
}

func NewCheckout(store ledger.Store, subs subscription.Store, signer *Signer, publicKey, currency, redirect string, logger *slog.Logger) *Checkout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkout{
		ledger:    store,
		subs:      subs,
		signer:    signer,
		publicKey: publicKey,
		currency:  currency,
		redirect:  redirect,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (co *Checkout) WithClock(now func() time.Time) *Checkout {
	co.now = now
	return co
}

// Session is everything the client-side payment widget needs.
type Session struct {
	PublicKey     string `json:"publicKey"`
	Currency      string `json:"currency"`
	AmountInCents int64  `json:"amountInCents"`
	Reference     string `json:"reference"`
	Signature     string `json:"signature"`
	RedirectURL   string `json:"redirectUrl"`
}

// Begin opens a payment session for the tenant.
func (co *Checkout) Begin(ctx context.Context, tenantID string, p plan.Plan, d plan.Duration) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.checkout",
		traces.TenantID(tenantID), traces.PlanName(string(p)))
	defer span.End()

	if !plan.Purchasable(p) {
		return nil, plan.ErrUnknownPlan
	}
	if !plan.ValidDuration(d) {
		return nil, plan.ErrUnknownDuration
	}

	now := co.now()
	if _, err := co.subs.ActiveForTenant(ctx, tenantID, now); err == nil {
		return nil, ErrActiveSubscription
	} else if !errors.Is(err, subscription.ErrNotFound) {
		return nil, err
	}

	price, err := plan.PriceFor(p, d)
	if err != nil {
		return nil, err
	}

	reference := idgen.Reference()
	row := &ledger.Transaction{
		ID:        idgen.WithPrefix("txn_"),
		Reference: reference,
		TenantID:  tenantID,
		Plan:      string(p),
		Duration:  string(d),
		Amount:    price,
		Status:    ledger.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := co.ledger.Create(ctx, row); err != nil {
		return nil, err
	}

	amountInCents := price * 100
	co.logger.Info("checkout session opened",
		"tenant_id", tenantID,
		"reference", reference,
		"plan", string(p),
		"duration", string(d),
		"amount", price,
	)
	return &Session{
		PublicKey:     co.publicKey,
		Currency:      co.currency,
		AmountInCents: amountInCents,
		Reference:     reference,
		Signature:     co.signer.Integrity(reference, amountInCents, co.currency),
		RedirectURL:   co.redirect,
	}, nil
}
