package cession

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed cession store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the cessions table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cessions (
			id           VARCHAR(64) PRIMARY KEY,
			policy_id    VARCHAR(64) NOT NULL,
			payout_id    VARCHAR(64) NOT NULL,
			reinsurer_id VARCHAR(64) NOT NULL,
			amount       BIGINT NOT NULL CHECK (amount > 0),
			status       VARCHAR(20) NOT NULL,
			ledger_tx_id VARCHAR(64),
			reason       TEXT NOT NULL DEFAULT '',
			requested_at TIMESTAMPTZ NOT NULL,
			funded_at    TIMESTAMPTZ,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_cessions_payout ON cessions(payout_id);
		CREATE INDEX IF NOT EXISTS idx_cessions_status ON cessions(status);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, c *Cession) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cessions (id, policy_id, payout_id, reinsurer_id, amount,
			status, ledger_tx_id, reason, requested_at, funded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.PolicyID, c.PayoutID, c.ReinsurerID, c.Amount, c.Status,
		nullString(c.LedgerTxID), c.Reason, c.RequestedAt, c.FundedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cession: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Cession, error) {
	row := p.db.QueryRowContext(ctx, selectCession+` WHERE id = $1`, id)
	c, err := scanCession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Cession) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE cessions SET status = $2, ledger_tx_id = $3, reason = $4,
			funded_at = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Status, nullString(c.LedgerTxID), c.Reason, c.FundedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update cession: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetByPayout(ctx context.Context, payoutID string) (*Cession, error) {
	row := p.db.QueryRowContext(ctx, selectCession+` WHERE payout_id = $1 ORDER BY requested_at DESC LIMIT 1`, payoutID)
	c, err := scanCession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit int) ([]*Cession, error) {
	query := selectCession
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY requested_at LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY requested_at LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Cession
	for rows.Next() {
		c, err := scanCession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const selectCession = `
	SELECT id, policy_id, payout_id, reinsurer_id, amount, status,
	       ledger_tx_id, reason, requested_at, funded_at, updated_at
	FROM cessions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCession(row rowScanner) (*Cession, error) {
	var c Cession
	var ledgerTxID sql.NullString

	err := row.Scan(&c.ID, &c.PolicyID, &c.PayoutID, &c.ReinsurerID, &c.Amount,
		&c.Status, &ledgerTxID, &c.Reason, &c.RequestedAt, &c.FundedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.LedgerTxID = ledgerTxID.String
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
