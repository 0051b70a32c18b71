package arrears

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/metrics"
	"github.com/fleetmaster/fleetmaster/internal/traces"
)

// Engine reconciles recorded payments against expected rent.
type Engine struct {
	store    Store
	vehicles VehicleDirectory
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, vehicles VehicleDirectory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, vehicles: vehicles, logger: logger, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RecordPayment stores the payment and, for rent payments below the
// vehicle's expected value, opens a pending arrear for the shortfall.
// Other pending arrears are untouched; each underpayment is its own
// debt line.
func (e *Engine) RecordPayment(ctx context.Context, p *Payment) (*Arrear, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "arrears.record_payment",
		traces.TenantID(p.TenantID), traces.VehicleID(p.VehicleID))
	defer span.End()

	now := e.now()
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = now
	}
	p.CreatedAt = now
	if err := e.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	if p.Type != PaymentRent {
		return nil, nil
	}

	expected, err := e.vehicles.ExpectedRent(ctx, p.VehicleID)
	if err != nil {
		return nil, err
	}
	if p.Amount >= expected {
		return nil, nil
	}

	arrear := &Arrear{
		ID:         NewID(),
		TenantID:   p.TenantID,
		DriverID:   p.DriverID,
		VehicleID:  p.VehicleID,
		PaymentID:  p.ID,
		AmountOwed: expected - p.Amount,
		Status:     ArrearPending,
		DueAt:      p.PaidAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateArrear(ctx, arrear); err != nil {
		return nil, err
	}

	metrics.ArrearsOpened.Inc()
	e.logger.Info("arrear opened",
		"driver_id", p.DriverID,
		"vehicle_id", p.VehicleID,
		"payment_id", p.ID,
		"expected", expected,
		"paid", p.Amount,
		"owed", arrear.AmountOwed,
	)
	return arrear, nil
}

// Pay applies a repayment to one arrear. Covering the full balance flips
// it to paid with a zero balance; anything less decrements it. The owed
// amount never goes negative.
func (e *Engine) Pay(ctx context.Context, arrearID string, amount int64) (*Arrear, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	arrear, err := e.store.GetArrear(ctx, arrearID)
	if err != nil {
		return nil, err
	}
	if arrear.Status == ArrearPaid {
		return arrear, nil
	}

	if amount >= arrear.AmountOwed {
		arrear.AmountOwed = 0
		arrear.Status = ArrearPaid
	} else {
		arrear.AmountOwed -= amount
	}
	arrear.UpdatedAt = e.now()

	if err := e.store.UpdateArrear(ctx, arrear); err != nil {
		return nil, err
	}
	e.logger.Info("arrear repayment",
		"arrear_id", arrear.ID,
		"amount", amount,
		"remaining", arrear.AmountOwed,
		"status", string(arrear.Status),
	)
	return arrear, nil
}

// DeletePayment removes a payment and cascades to the arrear it opened.
func (e *Engine) DeletePayment(ctx context.Context, paymentID string) error {
	if _, err := e.store.GetPayment(ctx, paymentID); err != nil {
		return err
	}
	if err := e.store.DeletePayment(ctx, paymentID); err != nil {
		return err
	}
	e.logger.Info("payment deleted", "payment_id", paymentID)
	return nil
}
