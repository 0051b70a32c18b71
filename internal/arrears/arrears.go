// Package arrears tracks rent shortfalls per vehicle.
//
// Every underpaid rent payment opens its own debt line; repayments only
// ever touch the arrear they name. Deleting a payment removes the arrear
// it originated, and nothing else.
package arrears

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound = errors.New("arrears: payment not found")
	ErrArrearNotFound  = errors.New("arrears: arrear not found")
	ErrInvalidAmount   = errors.New("arrears: amount must be positive")
)

// PaymentType distinguishes rent from other charges. Only rent payments
// are measured against the vehicle's expected value.
type PaymentType string

const (
	PaymentRent  PaymentType = "rent"
	PaymentOther PaymentType = "other"
)

// Payment is a recorded driver payment for a vehicle.
type Payment struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	DriverID  string      `json:"driverId"`
	VehicleID string      `json:"vehicleId"`
	Type      PaymentType `json:"type"`
	Amount    int64       `json:"amount"` // whole COP
	PaidAt    time.Time   `json:"paidAt"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ArrearStatus is an arrear's lifecycle state.
type ArrearStatus string

const (
	ArrearPending ArrearStatus = "pending"
	ArrearPaid    ArrearStatus = "paid"
)

// Arrear is one outstanding shortfall, tagged with the payment that
// produced it so deleting that payment can cascade.
type Arrear struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenantId"`
	DriverID   string       `json:"driverId"`
	VehicleID  string       `json:"vehicleId"`
	PaymentID  string       `json:"paymentId"`
	AmountOwed int64        `json:"amountOwed"`
	Status     ArrearStatus `json:"status"`
	DueAt      time.Time    `json:"dueAt"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Store persists payments and arrears.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListPayments(ctx context.Context, tenantID string, limit int) ([]*Payment, error)
	// DeletePayment removes the payment and every arrear whose PaymentID
	// matches, atomically.
	DeletePayment(ctx context.Context, id string) error

	CreateArrear(ctx context.Context, a *Arrear) error
	GetArrear(ctx context.Context, id string) (*Arrear, error)
	UpdateArrear(ctx context.Context, a *Arrear) error
	ListArrears(ctx context.Context, tenantID string, status ArrearStatus) ([]*Arrear, error)
}

// VehicleDirectory resolves a vehicle's expected rent value. The fleet
// inventory lives outside this subsystem; billing only needs the number.
type VehicleDirectory interface {
	ExpectedRent(ctx context.Context, vehicleID string) (int64, error)
}

// NewID returns a payment or arrear id.
func NewID() string { return uuid.NewString() }
