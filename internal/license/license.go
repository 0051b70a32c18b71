// Package license covers the two manual paths around the payment
// gateway: operator-granted overrides and pre-generated plan keys.
package license

import (
	"context"
	"errors"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/plan"
)

var (
	ErrOverrideNotFound = errors.New("license: override not found")
	ErrKeyNotFound      = errors.New("license: key not found")
	ErrKeyRedeemed      = errors.New("license: key already redeemed")
	ErrDowngrade        = errors.New("license: active plan outranks key plan")
)

// Override grants a tenant full access outside billing. A nil ExpiresAt
// means indefinite.
type Override struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	Plan      plan.Plan  `json:"plan"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Expired reports whether the override has lapsed at now.
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Key is a prepaid plan voucher, handed out by sales or support.
type Key struct {
	ID         string        `json:"id"`
	Code       string        `json:"code"`
	Plan       plan.Plan     `json:"plan"`
	Duration   plan.Duration `json:"duration"`
	RedeemedBy string        `json:"redeemedBy,omitempty"`
	RedeemedAt *time.Time    `json:"redeemedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// OverrideStore persists overrides.
type OverrideStore interface {
	Create(ctx context.Context, o *Override) error
	// LatestActive returns the most recently created unexpired override
	// for the tenant, or ErrOverrideNotFound.
	LatestActive(ctx context.Context, tenantID string, now time.Time) (*Override, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Override, error)
	Delete(ctx context.Context, id string) error
}

// KeyStore persists keys.
type KeyStore interface {
	Create(ctx context.Context, k *Key) error
	GetByCode(ctx context.Context, code string) (*Key, error)
	// MarkRedeemed binds the key to a tenant. Returns ErrKeyRedeemed if
	// another redemption won the race.
	MarkRedeemed(ctx context.Context, id, tenantID string, at time.Time) error
}
