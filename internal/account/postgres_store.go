package account

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, email, name, password_hash, role, confirmed, confirm_token, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Email, t.Name, t.PasswordHash, t.Role, t.Confirmed,
		nullable(t.ConfirmToken), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, confirmed, confirm_token, created_at, updated_at
		FROM tenants WHERE id = $1`, id), ErrNotFound)
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, confirmed, confirm_token, created_at, updated_at
		FROM tenants WHERE email = LOWER($1)`, email), ErrNotFound)
}

func (p *PostgresStore) GetByConfirmToken(ctx context.Context, token string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, confirmed, confirm_token, created_at, updated_at
		FROM tenants WHERE confirm_token = $1`, token), ErrTokenNotFound)
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, password_hash = $2, role = $3, confirmed = $4,
			confirm_token = $5, updated_at = $6
		WHERE id = $7`,
		t.Name, t.PasswordHash, t.Role, t.Confirmed, nullable(t.ConfirmToken), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) scanTenant(row *sql.Row, notFound error) (*Tenant, error) {
	t := &Tenant{}
	var token sql.NullString
	err := row.Scan(&t.ID, &t.Email, &t.Name, &t.PasswordHash, &t.Role, &t.Confirmed,
		&token, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	if token.Valid {
		t.ConfirmToken = token.String
	}
	return t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
