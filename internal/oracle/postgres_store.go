package oracle

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

// NewPostgresStore creates a new PostgreSQL-backed oracle store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the oracle tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS oracles (
			id                    VARCHAR(64) PRIMARY KEY,
			name                  TEXT NOT NULL,
			public_key            TEXT NOT NULL,
			parameters            JSONB NOT NULL DEFAULT '[]',
			regions               JSONB NOT NULL DEFAULT '[]',
			data_source_ids       JSONB NOT NULL DEFAULT '[]',
			status                VARCHAR(20) NOT NULL,
			total_attestations    INTEGER NOT NULL DEFAULT 0,
			accurate_attestations INTEGER NOT NULL DEFAULT 0,
			accuracy_rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
			uptime                DOUBLE PRECISION NOT NULL DEFAULT 1,
			staking_amount        BIGINT NOT NULL DEFAULT 0,
			slashing_history      JSONB NOT NULL DEFAULT '[]',
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_oracles_status ON oracles(status);

		CREATE TABLE IF NOT EXISTS data_sources (
			id               VARCHAR(64) PRIMARY KEY,
			name             TEXT NOT NULL,
			provider         TEXT NOT NULL,
			parameters       JSONB NOT NULL DEFAULT '[]',
			regions          JSONB NOT NULL DEFAULT '[]',
			update_frequency BIGINT NOT NULL DEFAULT 0,
			sla_uptime       DOUBLE PRECISION NOT NULL DEFAULT 0,
			status           VARCHAR(20) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_data_sources_status ON data_sources(status);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, o *Oracle) error {
	params, _ := json.Marshal(o.Parameters)
	regions, _ := json.Marshal(o.Regions)
	sources, _ := json.Marshal(o.DataSourceIDs)
	slashing, _ := json.Marshal(o.Reputation.SlashingHistory)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO oracles (
			id, name, public_key, parameters, regions, data_source_ids, status,
			total_attestations, accurate_attestations, accuracy_rate,
			uptime, staking_amount, slashing_history, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, o.ID, o.Name, o.PublicKey, params, regions, sources, o.Status,
		o.Reputation.TotalAttestations, o.Reputation.AccurateAttestations,
		o.Reputation.AccuracyRate, o.Reputation.Uptime, o.Reputation.StakingAmount,
		slashing, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Oracle, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, public_key, parameters, regions, data_source_ids, status,
		       total_attestations, accurate_attestations, accuracy_rate,
		       uptime, staking_amount, slashing_history, created_at, updated_at
		FROM oracles WHERE id = $1
	`, id)

	o, err := scanOracle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Oracle) error {
	params, _ := json.Marshal(o.Parameters)
	regions, _ := json.Marshal(o.Regions)
	sources, _ := json.Marshal(o.DataSourceIDs)
	slashing, _ := json.Marshal(o.Reputation.SlashingHistory)

	result, err := p.db.ExecContext(ctx, `
		UPDATE oracles SET
			name = $2, public_key = $3, parameters = $4, regions = $5,
			data_source_ids = $6, status = $7, total_attestations = $8,
			accurate_attestations = $9, accuracy_rate = $10, uptime = $11,
			staking_amount = $12, slashing_history = $13, updated_at = $14
		WHERE id = $1
	`, o.ID, o.Name, o.PublicKey, params, regions, sources, o.Status,
		o.Reputation.TotalAttestations, o.Reputation.AccurateAttestations,
		o.Reputation.AccuracyRate, o.Reputation.Uptime, o.Reputation.StakingAmount,
		slashing, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update oracle: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit int) ([]*Oracle, error) {
	query := `
		SELECT id, name, public_key, parameters, regions, data_source_ids, status,
		       total_attestations, accurate_attestations, accuracy_rate,
		       uptime, staking_amount, slashing_history, created_at, updated_at
		FROM oracles`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Oracle
	for rows.Next() {
		o, err := scanOracle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOracle(row rowScanner) (*Oracle, error) {
	var o Oracle
	var params, regions, sources, slashing []byte

	err := row.Scan(&o.ID, &o.Name, &o.PublicKey, &params, &regions, &sources, &o.Status,
		&o.Reputation.TotalAttestations, &o.Reputation.AccurateAttestations,
		&o.Reputation.AccuracyRate, &o.Reputation.Uptime, &o.Reputation.StakingAmount,
		&slashing, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(params, &o.Parameters)
	_ = json.Unmarshal(regions, &o.Regions)
	_ = json.Unmarshal(sources, &o.DataSourceIDs)
	_ = json.Unmarshal(slashing, &o.Reputation.SlashingHistory)
	return &o, nil
}

func (p *PostgresStore) CreateDataSource(ctx context.Context, ds *DataSource) error {
	params, _ := json.Marshal(ds.Parameters)
	regions, _ := json.Marshal(ds.Regions)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO data_sources (
			id, name, provider, parameters, regions, update_frequency,
			sla_uptime, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ds.ID, ds.Name, ds.Provider, params, regions, int64(ds.UpdateFrequency),
		ds.SLAUptime, ds.Status, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create data source: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, provider, parameters, regions, update_frequency,
		       sla_uptime, status, created_at, updated_at
		FROM data_sources WHERE id = $1
	`, id)

	ds, err := scanDataSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownDataSource
	}
	return ds, err
}

func (p *PostgresStore) ListDataSources(ctx context.Context, status SourceStatus, limit int) ([]*DataSource, error) {
	query := `
		SELECT id, name, provider, parameters, regions, update_frequency,
		       sla_uptime, status, created_at, updated_at
		FROM data_sources`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func scanDataSource(row rowScanner) (*DataSource, error) {
	var ds DataSource
	var params, regions []byte
	var freq int64

	err := row.Scan(&ds.ID, &ds.Name, &ds.Provider, &params, &regions, &freq,
		&ds.SLAUptime, &ds.Status, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ds.UpdateFrequency = time.Duration(freq)
	_ = json.Unmarshal(params, &ds.Parameters)
	_ = json.Unmarshal(regions, &ds.Regions)
	return &ds, nil
}
