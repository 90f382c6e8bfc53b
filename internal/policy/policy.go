// Package policy manages parametric insurance policies.
//
// A policy names the insured asset, the trigger conditions that fire it,
// the coverage terms, and an optional reinsurance arrangement. Its
// lifecycle:
//
//	draft -> active -> triggered -> paid_out
//
// with expired and cancelled reachable from draft or active. Activation
// is the moment the policy becomes binding: the premium is split and the
// registration is published to the ledger.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

var (
	ErrNotFound      = errors.New("policy: not found")
	ErrInvalidStatus = errors.New("policy: invalid status for this operation")
	ErrNoConditions  = errors.New("policy: at least one trigger condition is required")
)

// Status represents a policy's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusPaidOut   Status = "paid_out"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the policy can no longer change state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaidOut, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// transitions is the full state machine. A transition absent from this
// map is invalid, no exceptions.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusActive, StatusExpired, StatusCancelled},
	StatusActive:    {StatusTriggered, StatusExpired, StatusCancelled},
	StatusTriggered: {StatusPaidOut},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TriggerCondition is one parametric rule on the policy. Conditions are
// evaluated in array order.
type TriggerCondition struct {
	Parameter string  `json:"parameter"` // e.g. "rainfall", "temperature"
	Operator  string  `json:"operator"`  // gt, gte, lt, lte, eq
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

// CoverageDetails are the policy's financial terms. Amounts are whole
// currency units.
type CoverageDetails struct {
	MaxPayout  int64  `json:"maxPayout"`
	Deductible int64  `json:"deductible"`
	Currency   string `json:"currency"`
}

// ReinsuranceDetails describe the cession arrangement, if any.
type ReinsuranceDetails struct {
	ReinsurerID       string  `json:"reinsurerId"`
	CessionPercentage float64 `json:"cessionPercentage"` // share of risk ceded, in [0,1]
	RetentionLimit    int64   `json:"retentionLimit"`    // max the pool pays on one claim
}

// Policy is a parametric insurance contract.
type Policy struct {
	ID                string              `json:"id"`
	HolderID          string              `json:"holderId"`
	AssetDescription  string              `json:"assetDescription"`
	Location          string              `json:"location"`
	PoolID            string              `json:"poolId"`
	TriggerConditions []TriggerCondition  `json:"triggerConditions"`
	Coverage          CoverageDetails     `json:"coverage"`
	Premium           int64               `json:"premium"`
	Reinsurance       *ReinsuranceDetails `json:"reinsurance,omitempty"`
	Status            Status              `json:"status"`
	EffectiveFrom     time.Time           `json:"effectiveFrom"`
	EffectiveUntil    time.Time           `json:"effectiveUntil"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// Store persists policies.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	Get(ctx context.Context, id string) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	List(ctx context.Context, status Status, holderID string, limit int) ([]*Policy, error)
	ListActiveExpired(ctx context.Context, before time.Time, limit int) ([]*Policy, error)
}

// PoolCreditor receives the pool's share of each premium.
type PoolCreditor interface {
	Credit(ctx context.Context, poolID string, amount int64) error
}

// CreateRequest contains the parameters for drafting a policy.
type CreateRequest struct {
	HolderID          string              `json:"holderId" binding:"required"`
	AssetDescription  string              `json:"assetDescription"`
	Location          string              `json:"location" binding:"required"`
	PoolID            string              `json:"poolId" binding:"required"`
	TriggerConditions []TriggerCondition  `json:"triggerConditions" binding:"required"`
	Coverage          CoverageDetails     `json:"coverage" binding:"required"`
	Premium           int64               `json:"premium"`
	Reinsurance       *ReinsuranceDetails `json:"reinsurance,omitempty"`
	EffectiveFrom     time.Time           `json:"effectiveFrom"`
	EffectiveUntil    time.Time           `json:"effectiveUntil"`
}

// Service implements policy lifecycle and activation side effects.
type Service struct {
	store     Store
	creditor  PoolCreditor
	publisher ledgerpub.Publisher
	logger    *slog.Logger
}

// NewService creates a policy service.
func NewService(store Store) *Service {
	return &Service{store: store, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithPoolCreditor routes premium shares into the risk pool.
func (s *Service) WithPoolCreditor(c PoolCreditor) *Service {
	s.creditor = c
	return s
}

// WithPublisher enables ledger publication on activation.
func (s *Service) WithPublisher(p ledgerpub.Publisher) *Service {
	s.publisher = p
	return s
}

// Create drafts a new policy.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Policy, error) {
	if len(req.TriggerConditions) == 0 {
		return nil, ErrNoConditions
	}
	for _, c := range req.TriggerConditions {
		if !validation.IsValidOperator(c.Operator) {
			return nil, fmt.Errorf("policy: unknown operator %q", c.Operator)
		}
	}
	if req.Coverage.MaxPayout <= 0 {
		return nil, errors.New("policy: maxPayout must be positive")
	}
	if req.Coverage.Deductible < 0 {
		return nil, errors.New("policy: deductible cannot be negative")
	}

	if req.Coverage.Currency == "" {
		req.Coverage.Currency = "USD"
	}
	now := time.Now()
	effectiveFrom := req.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = now
	}
	effectiveUntil := req.EffectiveUntil
	if effectiveUntil.IsZero() {
		effectiveUntil = effectiveFrom.AddDate(1, 0, 0)
	}

	p := &Policy{
		ID:                idgen.WithPrefix("pol_"),
		HolderID:          req.HolderID,
		AssetDescription:  req.AssetDescription,
		Location:          req.Location,
		PoolID:            req.PoolID,
		TriggerConditions: req.TriggerConditions,
		Coverage:          req.Coverage,
		Premium:           req.Premium,
		Reinsurance:       req.Reinsurance,
		Status:            StatusDraft,
		EffectiveFrom:     effectiveFrom,
		EffectiveUntil:    effectiveUntil,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.logger.Info("policy drafted", "policyId", p.ID, "holderId", p.HolderID)
	return p, nil
}

// Get returns a policy by ID.
func (s *Service) Get(ctx context.Context, id string) (*Policy, error) {
	return s.store.Get(ctx, id)
}

// List returns policies, optionally filtered by status and holder.
func (s *Service) List(ctx context.Context, status Status, holderID string, limit int) ([]*Policy, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, status, holderID, limit)
}

// Activate makes a draft policy binding: the premium is split between
// the pool, the reinsurer and the platform, and the registration plus an
// initial status record are published to the ledger.
func (s *Service) Activate(ctx context.Context, id string) (*Policy, error) {
	p, err := s.transition(ctx, id, StatusActive)
	if err != nil {
		return nil, err
	}

	split := SplitPremium(p.Premium)
	if s.creditor != nil && split.PoolShare > 0 {
		if err := s.creditor.Credit(ctx, p.PoolID, split.PoolShare); err != nil {
			s.logger.Error("failed to credit pool with premium share",
				"policyId", p.ID, "poolId", p.PoolID, "amount", split.PoolShare, "error", err)
		}
	}

	s.publish(ctx, ledgerpub.ChannelPolicyRegistry, ledgerpub.Message{
		Type:     ledgerpub.TypePolicyRegistered,
		PolicyID: p.ID,
		Payload: map[string]interface{}{
			"holderId":  p.HolderID,
			"poolId":    p.PoolID,
			"maxPayout": p.Coverage.MaxPayout,
			"premium":   p.Premium,
		},
	})
	s.publish(ctx, ledgerpub.ChannelPolicyStatus, ledgerpub.Message{
		Type:     ledgerpub.TypePolicyStatusInit,
		PolicyID: p.ID,
		Payload:  map[string]interface{}{"status": string(StatusActive)},
	})

	s.logger.Info("policy activated",
		"policyId", p.ID,
		"poolShare", split.PoolShare,
		"reinsurerShare", split.ReinsurerShare,
		"platformFee", split.PlatformFee)
	return p, nil
}

// MarkTriggered moves an active policy to triggered.
func (s *Service) MarkTriggered(ctx context.Context, id string) (*Policy, error) {
	return s.transition(ctx, id, StatusTriggered)
}

// MarkPaidOut closes a triggered policy after its payout settles.
func (s *Service) MarkPaidOut(ctx context.Context, id string) (*Policy, error) {
	p, err := s.transition(ctx, id, StatusPaidOut)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ledgerpub.ChannelPolicyStatus, ledgerpub.Message{
		Type:     ledgerpub.TypePolicyStatusInit,
		PolicyID: p.ID,
		Payload:  map[string]interface{}{"status": string(StatusPaidOut)},
	})
	return p, nil
}

// Cancel terminates a draft or active policy.
func (s *Service) Cancel(ctx context.Context, id string) (*Policy, error) {
	return s.transition(ctx, id, StatusCancelled)
}

// Expire moves a policy past its coverage window to expired.
func (s *Service) Expire(ctx context.Context, id string) (*Policy, error) {
	return s.transition(ctx, id, StatusExpired)
}

func (s *Service) transition(ctx context.Context, id string, to Status) (*Policy, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, p.Status, to)
	}

	p.Status = to
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("policy status changed", "policyId", id, "status", to)
	return p, nil
}

func (s *Service) publish(ctx context.Context, channel string, msg ledgerpub.Message) {
	if s.publisher == nil {
		return
	}
	msg.Timestamp = time.Now()
	if _, err := s.publisher.Publish(ctx, channel, msg); err != nil {
		s.logger.Warn("failed to publish policy event",
			"channel", channel, "type", msg.Type, "error", err)
	}
}
