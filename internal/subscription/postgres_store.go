package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/plan"
)

// PostgresStore persists subscription records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Activate deactivates the tenant's active rows and inserts the new one
// inside a single transaction. The UPDATE takes row locks on the tenant's
// active rows, so a concurrent Activate for the same tenant serializes
// behind it, so two approvals cannot both end up active.
func (p *PostgresStore) Activate(ctx context.Context, rec *Record) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'expired', updated_at = $1
		WHERE tenant_id = $2 AND status = 'active'`,
		rec.CreatedAt, rec.TenantID,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, tenant_id, plan, duration, price, reference, starts_at, due_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.TenantID, string(rec.Plan), string(rec.Duration), rec.Price,
		nullable(rec.Reference), rec.StartsAt, rec.DueAt, string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) ActiveForTenant(ctx context.Context, tenantID string, now time.Time) (*Record, error) {
	return p.scanRecord(p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan, duration, price, reference, starts_at, due_at, status, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active' AND due_at > $2
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, now))
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Record, error) {
	return p.scanRecord(p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan, duration, price, reference, starts_at, due_at, status, created_at, updated_at
		FROM subscriptions WHERE reference = $1`, reference))
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, plan, duration, price, reference, starts_at, due_at, status, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanRecordRow(row rowScanner) (*Record, error) {
	rec := &Record{}
	var planName, duration, status string
	var reference sql.NullString
	err := row.Scan(&rec.ID, &rec.TenantID, &planName, &duration, &rec.Price, &reference,
		&rec.StartsAt, &rec.DueAt, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Plan = plan.Plan(planName)
	rec.Duration = plan.Duration(duration)
	rec.Status = Status(status)
	if reference.Valid {
		rec.Reference = reference.String
	}
	return rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
