package attestation

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

// NewPostgresStore creates a new PostgreSQL-backed attestation store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the attestation tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attestations (
			id          VARCHAR(64) PRIMARY KEY,
			parameter   TEXT NOT NULL,
			location    TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end   TIMESTAMPTZ NOT NULL,
			required_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
			signatures  JSONB NOT NULL DEFAULT '[]',
			panel       INTEGER NOT NULL DEFAULT 0,
			status      VARCHAR(20) NOT NULL,
			result      JSONB,
			expires_at  TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_attestations_status ON attestations(status);
		CREATE INDEX IF NOT EXISTS idx_attestations_expires ON attestations(expires_at) WHERE status = 'pending';
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, a *Attestation) error {
	sigs, _ := json.Marshal(a.Signatures)
	result, _ := marshalResult(a.Result)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attestations (
			id, parameter, location, window_start, window_end, required_accuracy,
			signatures, panel, status, result, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.Request.Parameter, a.Request.Location, a.Request.WindowStart,
		a.Request.WindowEnd, a.Request.RequiredAccuracy, sigs, a.Panel, a.Status,
		result, a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attestation: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Attestation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, parameter, location, window_start, window_end, required_accuracy,
		       signatures, panel, status, result, expires_at, created_at, updated_at
		FROM attestations WHERE id = $1
	`, id)

	a, err := scanAttestation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *Attestation) error {
	sigs, _ := json.Marshal(a.Signatures)
	result, _ := marshalResult(a.Result)

	res, err := p.db.ExecContext(ctx, `
		UPDATE attestations SET
			signatures = $2, status = $3, result = $4, updated_at = $5
		WHERE id = $1
	`, a.ID, sigs, a.Status, result, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update attestation: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Attestation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, parameter, location, window_start, window_end, required_accuracy,
		       signatures, panel, status, result, expires_at, created_at, updated_at
		FROM attestations
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attestation
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func marshalResult(r *ConsensusResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttestation(row rowScanner) (*Attestation, error) {
	var a Attestation
	var sigs, result []byte

	err := row.Scan(&a.ID, &a.Request.Parameter, &a.Request.Location,
		&a.Request.WindowStart, &a.Request.WindowEnd, &a.Request.RequiredAccuracy,
		&sigs, &a.Panel, &a.Status, &result, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(sigs, &a.Signatures)
	if len(result) > 0 {
		a.Result = &ConsensusResult{}
		_ = json.Unmarshal(result, a.Result)
	}
	return &a, nil
}
