// Package ledger records payment transactions.
//
// Flow:
//  1. Checkout creates a PENDING row with a fresh reference
//  2. The payment gateway reports an outcome via webhook
//  3. The reconciler settles the row into a terminal status
//  4. Approved rows drive subscription fulfillment
//
// Terminal statuses are absorbing: once a row leaves PENDING its status
// never changes again, no matter how many times the gateway redelivers.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("ledger: transaction not found")
	ErrDuplicateReference = errors.New("ledger: reference already exists")
	ErrGatewayIDBound     = errors.New("ledger: gateway id bound to another reference")
)

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusError    Status = "ERROR"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusError
}

// Transaction is one payment attempt.
type Transaction struct {
	ID            string    `json:"id"`
	Reference     string    `json:"reference"`
	GatewayID     string    `json:"gatewayId,omitempty"`
	TenantID      string    `json:"tenantId"`
	Plan          string    `json:"plan"`
	Duration      string    `json:"duration"`
	Amount        int64     `json:"amount"` // whole COP
	Status        Status    `json:"status"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Mutation describes the settle outcome to apply to a pending row.
type Mutation struct {
	Status        Status
	GatewayID     string
	PaymentMethod string
}

// Store persists transactions.
//
// Settle loads the row for reference with an exclusive lock, invokes
// apply, and writes the returned mutation in the same transaction. apply
// returning (nil, nil) means no-op: the row is returned unchanged. Any
// error from apply aborts the write and is returned verbatim. Before
// writing, the store verifies the mutation's gateway id is not already
// bound to a different reference and returns ErrGatewayIDBound if it is.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*Transaction, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Transaction, error)
	Settle(ctx context.Context, reference string, apply func(*Transaction) (*Mutation, error)) (*Transaction, error)
}
