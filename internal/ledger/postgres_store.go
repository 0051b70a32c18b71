package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, reference, COALESCE(gateway_id, ''), tenant_id, plan, duration, amount, status, COALESCE(payment_method, ''), created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, reference, tenant_id, plan, duration, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.Reference, tx.TenantID, tx.Plan, tx.Duration, tx.Amount, string(tx.Status), tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE reference = $1
	`, reference)
	return scanTransaction(row)
}

func (p *PostgresStore) GetByGatewayID(ctx context.Context, gatewayID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE gateway_id = $1
	`, gatewayID)
	return scanTransaction(row)
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Settle runs apply against the row locked FOR UPDATE so concurrent
// webhook deliveries for the same reference serialize on the database.
func (p *PostgresStore) Settle(ctx context.Context, reference string, apply func(*Transaction) (*Mutation, error)) (*Transaction, error) {
	dbtx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	row := dbtx.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE reference = $1 FOR UPDATE
	`, reference)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	mut, err := apply(tx)
	if err != nil {
		return nil, err
	}
	if mut == nil {
		return tx, nil
	}

	if mut.GatewayID != "" {
		var other string
		err := dbtx.QueryRowContext(ctx, `
			SELECT reference FROM transactions WHERE gateway_id = $1 AND reference <> $2
		`, mut.GatewayID, reference).Scan(&other)
		if err == nil {
			return nil, ErrGatewayIDBound
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	now := time.Now()
	_, err = dbtx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, gateway_id = NULLIF($3, ''), payment_method = NULLIF($4, ''), updated_at = $5
		WHERE reference = $1
	`, reference, string(mut.Status), mut.GatewayID, mut.PaymentMethod, now)
	if err != nil {
		return nil, fmt.Errorf("settle transaction: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}

	tx.Status = mut.Status
	tx.GatewayID = mut.GatewayID
	tx.PaymentMethod = mut.PaymentMethod
	tx.UpdatedAt = now
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	tx := &Transaction{}
	var status string
	err := row.Scan(&tx.ID, &tx.Reference, &tx.GatewayID, &tx.TenantID, &tx.Plan, &tx.Duration,
		&tx.Amount, &status, &tx.PaymentMethod, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.Status = Status(status)
	return tx, nil
}
