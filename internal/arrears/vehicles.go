package arrears

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrVehicleNotFound means the vehicle has no registered expected rent.
var ErrVehicleNotFound = errors.New("arrears: vehicle not found")

// MemoryVehicles is an in-memory VehicleDirectory.
type MemoryVehicles struct {
	mu    sync.RWMutex
	rents map[string]int64
}

func NewMemoryVehicles() *MemoryVehicles {
	return &MemoryVehicles{rents: make(map[string]int64)}
}

func (m *MemoryVehicles) Set(vehicleID string, expectedRent int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rents[vehicleID] = expectedRent
}

func (m *MemoryVehicles) ExpectedRent(ctx context.Context, vehicleID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rent, ok := m.rents[vehicleID]
	if !ok {
		return 0, ErrVehicleNotFound
	}
	return rent, nil
}

// PostgresVehicles reads expected rent from the fleet's vehicles table.
type PostgresVehicles struct {
	db *sql.DB
}

func NewPostgresVehicles(db *sql.DB) *PostgresVehicles {
	return &PostgresVehicles{db: db}
}

func (p *PostgresVehicles) ExpectedRent(ctx context.Context, vehicleID string) (int64, error) {
	var rent int64
	err := p.db.QueryRowContext(ctx, `SELECT expected_rent FROM vehicles WHERE id = $1`, vehicleID).Scan(&rent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVehicleNotFound
	}
	if err != nil {
		return 0, err
	}
	return rent, nil
}

func (p *PostgresVehicles) Set(ctx context.Context, vehicleID string, expectedRent int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, expected_rent)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET expected_rent = EXCLUDED.expected_rent
	`, vehicleID, expectedRent)
	return err
}
