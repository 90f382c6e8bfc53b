package payout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payout tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payouts (
			id          VARCHAR(64) PRIMARY KEY,
			policy_id   VARCHAR(64) NOT NULL,
			trigger_id  VARCHAR(64) NOT NULL UNIQUE,
			pool_id     VARCHAR(64) NOT NULL,
			calculation JSONB NOT NULL,
			status      VARCHAR(20) NOT NULL,
			cession_id  VARCHAR(64),
			reason      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_payouts_policy ON payouts(policy_id);

		CREATE TABLE IF NOT EXISTS payout_transactions (
			id             VARCHAR(64) PRIMARY KEY,
			payout_id      VARCHAR(64) NOT NULL REFERENCES payouts(id),
			source         VARCHAR(10) NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount >= 0),
			status         VARCHAR(20) NOT NULL,
			current_retry  INTEGER NOT NULL DEFAULT 0,
			next_retry_at  TIMESTAMPTZ,
			ledger_tx_id   VARCHAR(64),
			finalized_at   TIMESTAMPTZ,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_payout_transactions_payout ON payout_transactions(payout_id);
		CREATE INDEX IF NOT EXISTS idx_payout_transactions_retry
			ON payout_transactions(next_retry_at) WHERE status = 'pending_execution';
	`)
	return err
}

func (p *PostgresStore) CreatePayout(ctx context.Context, pay *Payout) error {
	calc, _ := json.Marshal(pay.Calculation)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payouts (id, policy_id, trigger_id, pool_id, calculation,
			status, cession_id, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pay.ID, pay.PolicyID, pay.TriggerID, pay.PoolID, calc, pay.Status,
		nullString(pay.CessionID), pay.Reason, pay.CreatedAt, pay.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, selectPayout+` WHERE id = $1`, id)
	pay, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pay, err
}

func (p *PostgresStore) UpdatePayout(ctx context.Context, pay *Payout) error {
	calc, _ := json.Marshal(pay.Calculation)

	result, err := p.db.ExecContext(ctx, `
		UPDATE payouts SET calculation = $2, status = $3, cession_id = $4,
			reason = $5, updated_at = $6
		WHERE id = $1
	`, pay.ID, calc, pay.Status, nullString(pay.CessionID), pay.Reason, pay.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetPayoutByTrigger(ctx context.Context, triggerID string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx, selectPayout+` WHERE trigger_id = $1`, triggerID)
	pay, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pay, err
}

func (p *PostgresStore) ListPayouts(ctx context.Context, policyID string, status Status, limit int) ([]*Payout, error) {
	query := selectPayout
	args := []interface{}{}
	n := 0
	where := ""
	if policyID != "" {
		n++
		where = fmt.Sprintf(" WHERE policy_id = $%d", n)
		args = append(args, policyID)
	}
	if status != "" {
		n++
		if where == "" {
			where = fmt.Sprintf(" WHERE status = $%d", n)
		} else {
			where += fmt.Sprintf(" AND status = $%d", n)
		}
		args = append(args, status)
	}
	n++
	query += where + fmt.Sprintf(" ORDER BY created_at LIMIT $%d", n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payout
	for rows.Next() {
		pay, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_transactions (id, payout_id, source, amount, status,
			current_retry, next_retry_at, ledger_tx_id, finalized_at, failure_reason,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tx.ID, tx.PayoutID, tx.Source, tx.Amount, tx.Status, tx.CurrentRetry,
		tx.NextRetryAt, nullString(tx.LedgerTxID), tx.FinalizedAt, tx.FailureReason,
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectTransaction+` WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return tx, err
}

func (p *PostgresStore) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payout_transactions SET status = $2, current_retry = $3,
			next_retry_at = $4, ledger_tx_id = $5, finalized_at = $6,
			failure_reason = $7, updated_at = $8
		WHERE id = $1
	`, tx.ID, tx.Status, tx.CurrentRetry, tx.NextRetryAt, nullString(tx.LedgerTxID),
		tx.FinalizedAt, tx.FailureReason, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payout transaction: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, payoutID string) ([]*Transaction, error) {
	return p.queryTransactions(ctx, selectTransaction+`
		WHERE payout_id = $1 ORDER BY created_at
	`, payoutID)
}

func (p *PostgresStore) ListRetryDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return p.queryTransactions(ctx, selectTransaction+`
		WHERE status = 'pending_execution' AND next_retry_at IS NOT NULL AND next_retry_at < $1
		ORDER BY next_retry_at LIMIT $2
	`, before, limit)
}

func (p *PostgresStore) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
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

const selectPayout = `
	SELECT id, policy_id, trigger_id, pool_id, calculation, status,
	       cession_id, reason, created_at, updated_at
	FROM payouts`

const selectTransaction = `
	SELECT id, payout_id, source, amount, status, current_retry, next_retry_at,
	       ledger_tx_id, finalized_at, failure_reason, created_at, updated_at
	FROM payout_transactions`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row rowScanner) (*Payout, error) {
	var pay Payout
	var calc []byte
	var cessionID sql.NullString

	err := row.Scan(&pay.ID, &pay.PolicyID, &pay.TriggerID, &pay.PoolID, &calc,
		&pay.Status, &cessionID, &pay.Reason, &pay.CreatedAt, &pay.UpdatedAt)
	if err != nil {
		return nil, err
	}

	pay.CessionID = cessionID.String
	_ = json.Unmarshal(calc, &pay.Calculation)
	return &pay, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var ledgerTxID sql.NullString

	err := row.Scan(&tx.ID, &tx.PayoutID, &tx.Source, &tx.Amount, &tx.Status,
		&tx.CurrentRetry, &tx.NextRetryAt, &ledgerTxID, &tx.FinalizedAt,
		&tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.LedgerTxID = ledgerTxID.String
	return &tx, nil
}
