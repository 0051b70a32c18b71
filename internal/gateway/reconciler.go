package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fleetmaster/fleetmaster/internal/ledger"
	"github.com/fleetmaster/fleetmaster/internal/metrics"
	"github.com/fleetmaster/fleetmaster/internal/plan"
	"github.com/fleetmaster/fleetmaster/internal/subscription"
	"github.com/fleetmaster/fleetmaster/internal/traces"
)

var (
	ErrBadSignature     = errors.New("gateway: webhook checksum verification failed")
	ErrAmountMismatch   = errors.New("gateway: event amount does not match ledger row")
	ErrCurrencyMismatch = errors.New("gateway: event currency does not match settlement currency")
)

// Outcome classifies what a webhook delivery did to the ledger.
type Outcome string

const (
	// OutcomeApplied means the row transitioned out of PENDING.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the row was already terminal; nothing written.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event was not a transaction update.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnknownReference means no ledger row matched the reference.
	OutcomeUnknownReference Outcome = "unknown_reference"
)

// Fulfiller extends a tenant's subscription after an approved payment.
type Fulfiller interface {
	Activate(ctx context.Context, tenantID string, p plan.Plan, d plan.Duration, reference string) (*subscription.Record, error)
}

// Notifier reports an approved payment to an operator. Implementations
// must be fire-and-forget; the reconciler never waits on them.
type Notifier interface {
	PaymentApproved(tenantID, reference, planName, duration string, amount int64)
}

// Reconciler consumes verified webhook events and settles ledger rows.
//
// Webhooks arrive at least once, so every path here has to be safe under
// redelivery: terminal rows absorb repeats, fulfillment is idempotent by
// reference, and a delivery that settled the row but failed to fulfill
// is healed by the gateway's retry.
type Reconciler struct {
	ledger   ledger.Store
	fulfill  Fulfiller
	notify   Notifier
	signer   *Signer
	currency string
	logger   *slog.Logger
}

func NewReconciler(store ledger.Store, fulfill Fulfiller, notify Notifier, signer *Signer, currency string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		ledger:   store,
		fulfill:  fulfill,
		notify:   notify,
		signer:   signer,
		currency: currency,
		logger:   logger,
	}
}

// Process runs one webhook delivery through the state machine.
//
// Error mapping for the HTTP layer: ErrBadSignature means 401; any other
// error means 500 so the gateway retries; a nil error with any outcome
// means 200.
func (r *Reconciler) Process(ctx context.Context, ev *Event, checksum string) (Outcome, error) {
	if !r.signer.VerifyEvent(ev, checksum) {
		SignatureFailures.Inc()
		return "", ErrBadSignature
	}

	if ev.Event != EventTransactionUpdated || ev.Data.Transaction == nil {
		WebhookOutcomes.WithLabelValues(string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	evTx := ev.Data.Transaction

	ctx, span := traces.StartSpan(ctx, "gateway.reconcile",
		traces.Reference(evTx.Reference), traces.GatewayID(evTx.ID))
	defer span.End()

	applied := false
	row, err := r.ledger.Settle(ctx, evTx.Reference, func(tx *ledger.Transaction) (*ledger.Mutation, error) {
		if evTx.AmountInCents != tx.Amount*100 {
			return nil, fmt.Errorf("%w: got %d cents, ledger amount %d", ErrAmountMismatch, evTx.AmountInCents, tx.Amount)
		}
		if evTx.Currency != r.currency {
			return nil, fmt.Errorf("%w: got %q, want %q", ErrCurrencyMismatch, evTx.Currency, r.currency)
		}
		if tx.Status.Terminal() {
			return nil, nil
		}
		applied = true
		return &ledger.Mutation{
			Status:        mapStatus(evTx.Status),
			GatewayID:     evTx.ID,
			PaymentMethod: evTx.PaymentMethodType,
		}, nil
	})

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// Foreign or malformed event. Acknowledge so the gateway stops
		// retrying; nothing was credited.
		UnknownReferences.Inc()
		WebhookOutcomes.WithLabelValues(string(OutcomeUnknownReference)).Inc()
		r.logger.Warn("webhook for unknown reference",
			"reference", evTx.Reference, "gateway_id", evTx.ID)
		return OutcomeUnknownReference, nil
	case errors.Is(err, ledger.ErrGatewayIDBound):
		ReplayAborts.Inc()
		r.logger.Error("gateway id already bound to another reference",
			"reference", evTx.Reference, "gateway_id", evTx.ID)
		return "", err
	case errors.Is(err, ErrAmountMismatch) || errors.Is(err, ErrCurrencyMismatch):
		FraudAborts.Inc()
		r.logger.Error("webhook failed integrity check",
			"reference", evTx.Reference, "gateway_id", evTx.ID, "error", err)
		return "", err
	case err != nil:
		return "", err
	}

	// An approved row must always end up with its subscription extended.
	// Activate is idempotent by reference, so running it on the duplicate
	// path too heals a crash between settle and fulfillment: the gateway's
	// redelivery lands here and completes the pairing.
	if row.Status == ledger.StatusApproved {
		if _, err := r.fulfill.Activate(ctx, row.TenantID, plan.Plan(row.Plan), plan.Duration(row.Duration), row.Reference); err != nil {
			r.logger.Error("fulfillment failed for approved payment",
				"reference", row.Reference, "tenant_id", row.TenantID, "error", err)
			return "", fmt.Errorf("fulfill approved payment: %w", err)
		}
	}

	if !applied {
		WebhookOutcomes.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	WebhookOutcomes.WithLabelValues(string(OutcomeApplied)).Inc()
	metrics.TransactionsSettled.WithLabelValues(string(row.Status)).Inc()
	r.logger.Info("ledger row settled",
		"reference", row.Reference,
		"status", string(row.Status),
		"gateway_id", row.GatewayID,
		"payment_method", row.PaymentMethod,
	)

	if row.Status == ledger.StatusApproved && r.notify != nil {
		r.notify.PaymentApproved(row.TenantID, row.Reference, row.Plan, row.Duration, row.Amount)
	}

	return OutcomeApplied, nil
}

// mapStatus translates the gateway's status vocabulary into ours.
// Anything unrecognised lands in ERROR rather than being dropped, so a
// new gateway status shows up in the ledger instead of vanishing.
func mapStatus(gatewayStatus string) ledger.Status {
	switch gatewayStatus {
	case gatewayStatusApproved:
		return ledger.StatusApproved
	case gatewayStatusDeclined:
		return ledger.StatusDeclined
	default:
		return ledger.StatusError
	}
}
