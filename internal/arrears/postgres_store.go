package arrears

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreatePayment(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, driver_id, vehicle_id, type, amount, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pay.ID, pay.TenantID, pay.DriverID, pay.VehicleID, string(pay.Type), pay.Amount, pay.PaidAt, pay.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, driver_id, vehicle_id, type, amount, paid_at, created_at
		FROM payments WHERE id = $1
	`, id)

	pay := &Payment{}
	var typ string
	err := row.Scan(&pay.ID, &pay.TenantID, &pay.DriverID, &pay.VehicleID, &typ, &pay.Amount, &pay.PaidAt, &pay.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	pay.Type = PaymentType(typ)
	return pay, nil
}

func (p *PostgresStore) ListPayments(ctx context.Context, tenantID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, driver_id, vehicle_id, type, amount, paid_at, created_at
		FROM payments WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		pay := &Payment{}
		var typ string
		if err := rows.Scan(&pay.ID, &pay.TenantID, &pay.DriverID, &pay.VehicleID, &typ, &pay.Amount, &pay.PaidAt, &pay.CreatedAt); err != nil {
			return nil, err
		}
		pay.Type = PaymentType(typ)
		out = append(out, pay)
	}
	return out, rows.Err()
}

// DeletePayment removes the payment and its originated arrears in one
// transaction. The cascade is application-level on purpose: arrears
// reference payments loosely and other rows must survive.
func (p *PostgresStore) DeletePayment(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM arrears WHERE payment_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateArrear(ctx context.Context, a *Arrear) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO arrears (id, tenant_id, driver_id, vehicle_id, payment_id, amount_owed, status, due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.TenantID, a.DriverID, a.VehicleID, a.PaymentID, a.AmountOwed, string(a.Status), a.DueAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert arrear: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetArrear(ctx context.Context, id string) (*Arrear, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, driver_id, vehicle_id, payment_id, amount_owed, status, due_at, created_at, updated_at
		FROM arrears WHERE id = $1
	`, id)
	return scanArrear(row)
}

func (p *PostgresStore) UpdateArrear(ctx context.Context, a *Arrear) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE arrears SET amount_owed = $2, status = $3, updated_at = $4 WHERE id = $1
	`, a.ID, a.AmountOwed, string(a.Status), a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrArrearNotFound
	}
	return nil
}

func (p *PostgresStore) ListArrears(ctx context.Context, tenantID string, status ArrearStatus) ([]*Arrear, error) {
	query := `
		SELECT id, tenant_id, driver_id, vehicle_id, payment_id, amount_owed, status, due_at, created_at, updated_at
		FROM arrears WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Arrear
	for rows.Next() {
		a, err := scanArrear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArrear(row rowScanner) (*Arrear, error) {
	a := &Arrear{}
	var status string
	err := row.Scan(&a.ID, &a.TenantID, &a.DriverID, &a.VehicleID, &a.PaymentID, &a.AmountOwed, &status, &a.DueAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArrearNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Status = ArrearStatus(status)
	return a, nil
}
