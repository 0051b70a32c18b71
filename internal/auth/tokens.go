// Package auth issues and validates session tokens.
//
// A session token is a signed JWT carrying the tenant id plus a snapshot
// of the access decision (level, role, plan). Access can change between
// logins (trial expiry, subscription lapse, webhook settlement), so
// clients are expected to refresh the token on every privileged page load
// and treat the embedded snapshot as advisory, not durable.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("auth: session token required")
	ErrInvalidToken = errors.New("auth: invalid or expired session token")
)

// Claims is the session token payload.
type Claims struct {
	TenantID    string `json:"tenantId"`
	Role        string `json:"role"`
	AccessLevel string `json:"accessLevel"`
	Plan        string `json:"plan"`
	jwt.RegisteredClaims
}

// Tokens signs and parses session JWTs.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token signer.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// Issue signs a session token for the given identity snapshot.
func (t *Tokens) Issue(tenantID, role, accessLevel, planName string) (string, error) {
	now := t.now()
	claims := Claims{
		TenantID:    tenantID,
		Role:        role,
		AccessLevel: accessLevel,
		Plan:        planName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
