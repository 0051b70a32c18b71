package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/plan"
)

// PostgresOverrideStore implements OverrideStore with PostgreSQL.
type PostgresOverrideStore struct {
	db *sql.DB
}

func NewPostgresOverrideStore(db *sql.DB) *PostgresOverrideStore {
	return &PostgresOverrideStore{db: db}
}

func (p *PostgresOverrideStore) Create(ctx context.Context, o *Override) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO license_overrides (id, tenant_id, plan, expires_at, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.TenantID, string(o.Plan), o.ExpiresAt, o.Reason, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

func (p *PostgresOverrideStore) LatestActive(ctx context.Context, tenantID string, now time.Time) (*Override, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan, expires_at, COALESCE(reason, ''), created_at
		FROM license_overrides
		WHERE tenant_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, now)
	return scanOverride(row)
}

func (p *PostgresOverrideStore) ListByTenant(ctx context.Context, tenantID string) ([]*Override, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, plan, expires_at, COALESCE(reason, ''), created_at
		FROM license_overrides WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresOverrideStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM license_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOverride(row rowScanner) (*Override, error) {
	o := &Override{}
	var planName string
	var expiresAt sql.NullTime
	err := row.Scan(&o.ID, &o.TenantID, &planName, &expiresAt, &o.Reason, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Plan = plan.Plan(planName)
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	return o, nil
}

// PostgresKeyStore implements KeyStore with PostgreSQL.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (p *PostgresKeyStore) Create(ctx context.Context, k *Key) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO license_keys (id, code, plan, duration, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.Code, string(k.Plan), string(k.Duration), k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

func (p *PostgresKeyStore) GetByCode(ctx context.Context, code string) (*Key, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, code, plan, duration, COALESCE(redeemed_by, ''), redeemed_at, created_at
		FROM license_keys WHERE UPPER(code) = UPPER($1)
	`, code)

	k := &Key{}
	var planName, duration string
	var redeemedAt sql.NullTime
	err := row.Scan(&k.ID, &k.Code, &planName, &duration, &k.RedeemedBy, &redeemedAt, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	k.Plan = plan.Plan(planName)
	k.Duration = plan.Duration(duration)
	if redeemedAt.Valid {
		t := redeemedAt.Time
		k.RedeemedAt = &t
	}
	return k, nil
}

func (p *PostgresKeyStore) MarkRedeemed(ctx context.Context, id, tenantID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE license_keys SET redeemed_by = $2, redeemed_at = $3
		WHERE id = $1 AND redeemed_by IS NULL
	`, id, tenantID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or already claimed; disambiguate for the caller.
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM license_keys WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrKeyNotFound
		}
		return ErrKeyRedeemed
	}
	return nil
}
