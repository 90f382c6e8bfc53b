package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. The pool invariants
// are mirrored as CHECK constraints so a bug in the application layer
// cannot corrupt balances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed pool store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the pool tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_pools (
			id         VARCHAR(64) PRIMARY KEY,
			name       TEXT NOT NULL,
			currency   VARCHAR(8) NOT NULL DEFAULT 'USD',
			capacity   BIGINT NOT NULL DEFAULT 0,
			available  BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
			reserved   BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
			tier1      BIGINT NOT NULL DEFAULT 0,
			tier2      BIGINT NOT NULL DEFAULT 0,
			tier3      BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (available + reserved <= capacity)
		);

		CREATE TABLE IF NOT EXISTS pool_reservations (
			pool_id    VARCHAR(64) NOT NULL REFERENCES risk_pools(id),
			claim_id   VARCHAR(64) NOT NULL,
			amount     BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_pool_reservations_pool ON pool_reservations(pool_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, pool *RiskPool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_pools (id, name, currency, capacity, available, reserved,
			tier1, tier2, tier3, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, pool.ID, pool.Name, pool.Currency, pool.CurrentCapacity, pool.AvailableLiquidity,
		pool.ReservedLiquidity, pool.Tier1, pool.Tier2, pool.Tier3, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*RiskPool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, currency, capacity, available, reserved,
		       tier1, tier2, tier3, created_at, updated_at
		FROM risk_pools WHERE id = $1
	`, id)

	pool, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pool, err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*RiskPool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, currency, capacity, available, reserved,
		       tier1, tier2, tier3, created_at, updated_at
		FROM risk_pools ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RiskPool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, rows.Err()
}

// Reserve is a single conditional UPDATE: the WHERE clause is the
// atomicity guarantee under concurrent reservations.
func (p *PostgresStore) Reserve(ctx context.Context, poolID, claimID string, amount int64) (*RiskPool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE risk_pools
		SET available = available - $2, reserved = reserved + $2, updated_at = NOW()
		WHERE id = $1 AND available >= $2
		RETURNING id, name, currency, capacity, available, reserved,
		          tier1, tier2, tier3, created_at, updated_at
	`, poolID, amount)

	pool, err := scanPool(row)
	if err == sql.ErrNoRows {
		if _, getErr := p.Get(ctx, poolID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInsufficientLiquidity
	}
	if err != nil {
		if isCheckViolation(err) {
			return nil, ErrInsufficientLiquidity
		}
		return nil, fmt.Errorf("failed to reserve liquidity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_reservations (pool_id, claim_id, amount) VALUES ($1, $2, $3)
	`, poolID, claimID, amount); err != nil {
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *PostgresStore) Release(ctx context.Context, poolID, claimID string, amount int64, wasUsed bool) (*RiskPool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE risk_pools
		SET reserved = reserved - $2, available = available + $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2
		RETURNING id, name, currency, capacity, available, reserved,
		          tier1, tier2, tier3, created_at, updated_at`
	if wasUsed {
		query = `
		UPDATE risk_pools
		SET reserved = reserved - $2, capacity = capacity - $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2
		RETURNING id, name, currency, capacity, available, reserved,
		          tier1, tier2, tier3, created_at, updated_at`
	}

	row := tx.QueryRowContext(ctx, query, poolID, amount)
	pool, err := scanPool(row)
	if err == sql.ErrNoRows {
		if _, getErr := p.Get(ctx, poolID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInsufficientReserved
	}
	if err != nil {
		if isCheckViolation(err) {
			return nil, ErrInsufficientReserved
		}
		return nil, fmt.Errorf("failed to release liquidity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pool_reservations
		WHERE ctid IN (
			SELECT ctid FROM pool_reservations
			WHERE pool_id = $1 AND claim_id = $2 AND amount = $3
			LIMIT 1
		)
	`, poolID, claimID, amount); err != nil {
		return nil, fmt.Errorf("failed to remove reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *PostgresStore) Credit(ctx context.Context, poolID string, amount int64) (*RiskPool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE risk_pools
		SET capacity = capacity + $2, available = available + $2,
		    tier1 = tier1 + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, currency, capacity, available, reserved,
		          tier1, tier2, tier3, created_at, updated_at
	`, poolID, amount)

	pool, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit pool: %w", err)
	}
	return pool, nil
}

func (p *PostgresStore) ListReservations(ctx context.Context, poolID string) ([]*Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pool_id, claim_id, amount, created_at
		FROM pool_reservations WHERE pool_id = $1 ORDER BY created_at
	`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.PoolID, &r.ClaimID, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// isCheckViolation reports whether err is a CHECK constraint failure,
// which here always means an invariant would have been broken.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row rowScanner) (*RiskPool, error) {
	var p RiskPool
	err := row.Scan(&p.ID, &p.Name, &p.Currency, &p.CurrentCapacity, &p.AvailableLiquidity,
		&p.ReservedLiquidity, &p.Tier1, &p.Tier2, &p.Tier3, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
