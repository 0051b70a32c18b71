// Package account manages tenant identity for the FleetMaster platform.
//
// A tenant is created unconfirmed on registration and starts its 5-day
// trial clock immediately; the confirmed flag flips exactly once via an
// emailed token. Tenants are never deleted by this subsystem.
package account

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fleetmaster/fleetmaster/internal/idgen"
)

var (
	ErrNotFound      = errors.New("account: tenant not found")
	ErrEmailTaken    = errors.New("account: email already registered")
	ErrTokenNotFound = errors.New("account: confirmation token not found")
	ErrBadPassword   = errors.New("account: invalid credentials")
)

// Roles
const (
	RoleOperator   = "OPERATOR"
	RoleSuperAdmin = "SUPERADMIN"
)

// Tenant represents an organisation account.
type Tenant struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Confirmed    bool      `json:"confirmed"`
	ConfirmToken string    `json:"-"` // cleared once used
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists tenants.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetByEmail(ctx context.Context, email string) (*Tenant, error)
	GetByConfirmToken(ctx context.Context, token string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
}

// Service implements registration and confirmation.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new account service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() Store { return s.store }

// Register creates an unconfirmed operator tenant and returns it along
// with the one-time confirmation token.
func (s *Service) Register(ctx context.Context, email, name, password string) (*Tenant, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	token := idgen.Hex(24)
	t := &Tenant{
		ID:           idgen.WithPrefix("usr_"),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         RoleOperator,
		Confirmed:    false,
		ConfirmToken: token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, "", err
	}
	return t, token, nil
}

// Confirm flips the confirmed flag for the tenant holding the token.
// The token is cleared so a second use fails with ErrTokenNotFound.
func (s *Service) Confirm(ctx context.Context, token string) (*Tenant, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	t, err := s.store.GetByConfirmToken(ctx, token)
	if err != nil {
		return nil, err
	}
	t.Confirmed = true
	t.ConfirmToken = ""
	t.UpdatedAt = s.now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Authenticate checks email + password and returns the tenant.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Tenant, error) {
	t, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadPassword // don't leak which emails exist
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadPassword
	}
	return t, nil
}
