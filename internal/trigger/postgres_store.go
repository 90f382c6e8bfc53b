package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trigger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the trigger tables. The partial unique index is the
// database-level guarantee behind the one-pending-trigger rule.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS triggers (
			id             VARCHAR(64) PRIMARY KEY,
			policy_id      VARCHAR(64) NOT NULL,
			parameter      TEXT NOT NULL,
			value          DOUBLE PRECISION NOT NULL DEFAULT 0,
			unit           TEXT NOT NULL DEFAULT '',
			location       TEXT NOT NULL DEFAULT '',
			window_start   TIMESTAMPTZ NOT NULL,
			window_end     TIMESTAMPTZ NOT NULL,
			attestation_id VARCHAR(64),
			condition_met  JSONB,
			status         VARCHAR(20) NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			expires_at     TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_triggers_policy ON triggers(policy_id);
		CREATE INDEX IF NOT EXISTS idx_triggers_attestation ON triggers(attestation_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_triggers_one_pending
			ON triggers(policy_id, parameter) WHERE status = 'pending';
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, t *Trigger) error {
	conditionMet, _ := marshalCondition(t.ConditionMet)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO triggers (
			id, policy_id, parameter, value, unit, location, window_start, window_end,
			attestation_id, condition_met, status, reason, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.PolicyID, t.Event.Parameter, t.Event.Value, t.Event.Unit, t.Event.Location,
		t.Event.WindowStart, t.Event.WindowEnd, nullString(t.AttestationID), conditionMet,
		t.Status, t.Reason, t.ExpiresAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Trigger, error) {
	row := p.db.QueryRowContext(ctx, selectTrigger+` WHERE id = $1`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Trigger) error {
	conditionMet, _ := marshalCondition(t.ConditionMet)

	result, err := p.db.ExecContext(ctx, `
		UPDATE triggers SET
			value = $2, attestation_id = $3, condition_met = $4,
			status = $5, reason = $6, updated_at = $7
		WHERE id = $1
	`, t.ID, t.Event.Value, nullString(t.AttestationID), conditionMet,
		t.Status, t.Reason, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update trigger: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetByAttestation(ctx context.Context, attestationID string) (*Trigger, error) {
	row := p.db.QueryRowContext(ctx, selectTrigger+` WHERE attestation_id = $1`, attestationID)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) FindPending(ctx context.Context, policyID, parameter string) (*Trigger, error) {
	row := p.db.QueryRowContext(ctx, selectTrigger+`
		WHERE policy_id = $1 AND parameter = $2 AND status = 'pending'
	`, policyID, parameter)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) List(ctx context.Context, policyID string, status Status, limit int) ([]*Trigger, error) {
	query := selectTrigger
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

	return p.queryTriggers(ctx, query, args...)
}

func (p *PostgresStore) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Trigger, error) {
	return p.queryTriggers(ctx, selectTrigger+`
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at LIMIT $2
	`, before, limit)
}

func (p *PostgresStore) queryTriggers(ctx context.Context, query string, args ...interface{}) ([]*Trigger, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const selectTrigger = `
	SELECT id, policy_id, parameter, value, unit, location, window_start, window_end,
	       attestation_id, condition_met, status, reason, expires_at, created_at, updated_at
	FROM triggers`

func marshalCondition(c *policy.TriggerCondition) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrigger(row rowScanner) (*Trigger, error) {
	var t Trigger
	var attestationID sql.NullString
	var conditionMet []byte

	err := row.Scan(&t.ID, &t.PolicyID, &t.Event.Parameter, &t.Event.Value, &t.Event.Unit,
		&t.Event.Location, &t.Event.WindowStart, &t.Event.WindowEnd, &attestationID,
		&conditionMet, &t.Status, &t.Reason, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.AttestationID = attestationID.String
	if len(conditionMet) > 0 {
		t.ConditionMet = &policy.TriggerCondition{}
		_ = json.Unmarshal(conditionMet, t.ConditionMet)
	}
	return &t, nil
}
