package policy

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

// NewPostgresStore creates a new PostgreSQL-backed policy store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the policy tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS policies (
			id                 VARCHAR(64) PRIMARY KEY,
			holder_id          VARCHAR(64) NOT NULL,
			asset_description  TEXT NOT NULL DEFAULT '',
			location           TEXT NOT NULL,
			pool_id            VARCHAR(64) NOT NULL,
			trigger_conditions JSONB NOT NULL DEFAULT '[]',
			max_payout         BIGINT NOT NULL CHECK (max_payout > 0),
			deductible         BIGINT NOT NULL DEFAULT 0 CHECK (deductible >= 0),
			currency           VARCHAR(8) NOT NULL DEFAULT 'USD',
			premium            BIGINT NOT NULL DEFAULT 0,
			reinsurance        JSONB,
			status             VARCHAR(20) NOT NULL,
			effective_from     TIMESTAMPTZ NOT NULL,
			effective_until    TIMESTAMPTZ NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);
		CREATE INDEX IF NOT EXISTS idx_policies_holder ON policies(holder_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, pol *Policy) error {
	conditions, _ := json.Marshal(pol.TriggerConditions)
	reinsurance, _ := marshalReinsurance(pol.Reinsurance)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (
			id, holder_id, asset_description, location, pool_id, trigger_conditions,
			max_payout, deductible, currency, premium, reinsurance, status,
			effective_from, effective_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, pol.ID, pol.HolderID, pol.AssetDescription, pol.Location, pol.PoolID, conditions,
		pol.Coverage.MaxPayout, pol.Coverage.Deductible, pol.Coverage.Currency,
		pol.Premium, reinsurance, pol.Status, pol.EffectiveFrom, pol.EffectiveUntil,
		pol.CreatedAt, pol.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Policy, error) {
	row := p.db.QueryRowContext(ctx, selectPolicy+` WHERE id = $1`, id)

	pol, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pol, err
}

func (p *PostgresStore) Update(ctx context.Context, pol *Policy) error {
	conditions, _ := json.Marshal(pol.TriggerConditions)
	reinsurance, _ := marshalReinsurance(pol.Reinsurance)

	result, err := p.db.ExecContext(ctx, `
		UPDATE policies SET
			trigger_conditions = $2, max_payout = $3, deductible = $4,
			premium = $5, reinsurance = $6, status = $7,
			effective_from = $8, effective_until = $9, updated_at = $10
		WHERE id = $1
	`, pol.ID, conditions, pol.Coverage.MaxPayout, pol.Coverage.Deductible,
		pol.Premium, reinsurance, pol.Status, pol.EffectiveFrom, pol.EffectiveUntil,
		pol.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, status Status, holderID string, limit int) ([]*Policy, error) {
	query := selectPolicy
	args := []interface{}{}
	n := 0
	where := ""
	if status != "" {
		n++
		where = fmt.Sprintf(" WHERE status = $%d", n)
		args = append(args, status)
	}
	if holderID != "" {
		n++
		if where == "" {
			where = fmt.Sprintf(" WHERE holder_id = $%d", n)
		} else {
			where += fmt.Sprintf(" AND holder_id = $%d", n)
		}
		args = append(args, holderID)
	}
	n++
	query += where + fmt.Sprintf(" ORDER BY created_at LIMIT $%d", n)
	args = append(args, limit)

	return p.queryPolicies(ctx, query, args...)
}

func (p *PostgresStore) ListActiveExpired(ctx context.Context, before time.Time, limit int) ([]*Policy, error) {
	return p.queryPolicies(ctx, selectPolicy+`
		WHERE status IN ('draft', 'active') AND effective_until < $1
		ORDER BY effective_until LIMIT $2
	`, before, limit)
}

func (p *PostgresStore) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*Policy, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

const selectPolicy = `
	SELECT id, holder_id, asset_description, location, pool_id, trigger_conditions,
	       max_payout, deductible, currency, premium, reinsurance, status,
	       effective_from, effective_until, created_at, updated_at
	FROM policies`

func marshalReinsurance(r *ReinsuranceDetails) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var pol Policy
	var conditions, reinsurance []byte

	err := row.Scan(&pol.ID, &pol.HolderID, &pol.AssetDescription, &pol.Location,
		&pol.PoolID, &conditions, &pol.Coverage.MaxPayout, &pol.Coverage.Deductible,
		&pol.Coverage.Currency, &pol.Premium, &reinsurance, &pol.Status,
		&pol.EffectiveFrom, &pol.EffectiveUntil, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(conditions, &pol.TriggerConditions)
	if len(reinsurance) > 0 {
		pol.Reinsurance = &ReinsuranceDetails{}
		_ = json.Unmarshal(reinsurance, pol.Reinsurance)
	}
	return &pol, nil
}
