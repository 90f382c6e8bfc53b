// Package oracle manages the committee of measurement oracles.
//
// Oracles register, get approved, and then co-sign data attestations.
// Each oracle carries a reputation record built from its consensus
// history; the reputation feeds the voting weight used by the
// attestation engine.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
)

var (
	ErrNotFound      = errors.New("oracle: not found")
	ErrNotActive     = errors.New("oracle: not active")
	ErrInvalidStatus = errors.New("oracle: invalid status for this operation")
)

// Status represents an oracle's lifecycle state.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusDeactivated     Status = "deactivated"
)

// SlashingEvent records a stake penalty applied to an oracle.
type SlashingEvent struct {
	Amount int64     `json:"amount"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Reputation tracks an oracle's consensus track record.
type Reputation struct {
	TotalAttestations    int             `json:"totalAttestations"`
	AccurateAttestations int             `json:"accurateAttestations"`
	AccuracyRate         float64         `json:"accuracyRate"` // accurate / total, in [0,1]
	Uptime               float64         `json:"uptime"`       // fraction in [0,1]
	StakingAmount        int64           `json:"stakingAmount"`
	SlashingHistory      []SlashingEvent `json:"slashingHistory,omitempty"`
}

// Oracle represents a registered measurement source operator.
type Oracle struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PublicKey     string     `json:"publicKey"`
	Parameters    []string   `json:"parameters"` // e.g. "rainfall", "temperature"
	Regions       []string   `json:"regions"`
	DataSourceIDs []string   `json:"dataSourceIds,omitempty"` // feeds the oracle reads from
	Status        Status     `json:"status"`
	Reputation    Reputation `json:"reputation"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists oracle data.
type Store interface {
	Create(ctx context.Context, o *Oracle) error
	Get(ctx context.Context, id string) (*Oracle, error)
	Update(ctx context.Context, o *Oracle) error
	List(ctx context.Context, status Status, limit int) ([]*Oracle, error)
}

// RegisterRequest contains the parameters for registering an oracle.
type RegisterRequest struct {
	Name          string   `json:"name" binding:"required"`
	PublicKey     string   `json:"publicKey" binding:"required"`
	Parameters    []string `json:"parameters"`
	Regions       []string `json:"regions"`
	DataSourceIDs []string `json:"dataSourceIds"`
	Stake         int64    `json:"stake"`
}

// Registry implements oracle lifecycle and reputation bookkeeping.
type Registry struct {
	store   Store
	sources DataSourceStore
	logger  *slog.Logger
}

// NewRegistry creates a new oracle registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	r.logger = l
	return r
}

// WithDataSources enables data source qualification: registration and
// approval verify the feeds an oracle declares.
func (r *Registry) WithDataSources(s DataSourceStore) *Registry {
	r.sources = s
	return r
}

// Register creates a new oracle in pending_approval state. Declared
// data sources must exist and be active.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Oracle, error) {
	if err := r.checkDataSources(ctx, req.DataSourceIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Oracle{
		ID:            idgen.WithPrefix("orc_"),
		Name:          req.Name,
		PublicKey:     req.PublicKey,
		Parameters:    req.Parameters,
		Regions:       req.Regions,
		DataSourceIDs: req.DataSourceIDs,
		Status:        StatusPendingApproval,
		Reputation: Reputation{
			Uptime:        1.0,
			StakingAmount: req.Stake,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to register oracle: %w", err)
	}

	r.logger.Info("oracle registered", "oracleId", o.ID, "name", o.Name)
	return o, nil
}

// Get returns an oracle by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Oracle, error) {
	return r.store.Get(ctx, id)
}

// List returns oracles, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status Status, limit int) ([]*Oracle, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.store.List(ctx, status, limit)
}

// ActiveCount returns the number of oracles currently eligible to sign
// attestations.
func (r *Registry) ActiveCount(ctx context.Context) (int, error) {
	active, err := r.store.List(ctx, StatusActive, 10000)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// Approve moves an oracle from pending_approval to active. The oracle's
// declared data sources are re-verified: a feed deprecated since
// registration blocks approval.
func (r *Registry) Approve(ctx context.Context, id string) (*Oracle, error) {
	o, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.checkDataSources(ctx, o.DataSourceIDs); err != nil {
		return nil, err
	}
	return r.transition(ctx, id, StatusActive, StatusPendingApproval, StatusSuspended)
}

// Suspend takes an active oracle out of rotation without losing its history.
func (r *Registry) Suspend(ctx context.Context, id string) (*Oracle, error) {
	return r.transition(ctx, id, StatusSuspended, StatusActive)
}

// Deactivate permanently retires an oracle. Oracles are never deleted.
func (r *Registry) Deactivate(ctx context.Context, id string) (*Oracle, error) {
	return r.transition(ctx, id, StatusDeactivated, StatusActive, StatusSuspended, StatusPendingApproval)
}

func (r *Registry) transition(ctx context.Context, id string, to Status, from ...Status) (*Oracle, error) {
	o, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, o.Status, to)
	}

	o.Status = to
	o.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, o); err != nil {
		return nil, err
	}

	r.logger.Info("oracle status changed", "oracleId", id, "status", to)
	return o, nil
}

// RecordConsensusResult updates an oracle's reputation after a consensus
// round it participated in. accurate is true when the oracle was not an
// outlier in a reached round.
func (r *Registry) RecordConsensusResult(ctx context.Context, id string, accurate bool) error {
	o, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	o.Reputation.TotalAttestations++
	if accurate {
		o.Reputation.AccurateAttestations++
	}
	o.Reputation.AccuracyRate = float64(o.Reputation.AccurateAttestations) / float64(o.Reputation.TotalAttestations)
	o.UpdatedAt = time.Now()

	return r.store.Update(ctx, o)
}

// Slash applies a stake penalty to an oracle and records it in the
// slashing history. fraction is the share of current stake to remove.
func (r *Registry) Slash(ctx context.Context, id string, fraction float64, reason string) error {
	if fraction <= 0 {
		return nil
	}

	o, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	penalty := int64(float64(o.Reputation.StakingAmount) * fraction)
	if penalty <= 0 {
		return nil
	}

	o.Reputation.StakingAmount -= penalty
	o.Reputation.SlashingHistory = append(o.Reputation.SlashingHistory, SlashingEvent{
		Amount: penalty,
		Reason: reason,
		At:     time.Now(),
	})
	o.UpdatedAt = time.Now()

	if err := r.store.Update(ctx, o); err != nil {
		return err
	}

	r.logger.Warn("oracle slashed", "oracleId", id, "penalty", penalty, "reason", reason)
	return nil
}
