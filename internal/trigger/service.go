package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/attestation"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/syncutil"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/traces"
)

// PolicyDirectory is the slice of the policy service the trigger flow
// needs.
type PolicyDirectory interface {
	Get(ctx context.Context, id string) (*policy.Policy, error)
}

// AttestationOpener starts oracle attestation rounds for reported
// events.
type AttestationOpener interface {
	Open(ctx context.Context, req attestation.DataRequest) (*attestation.Attestation, error)
}

// ReportRequest is an external event report against a policy.
type ReportRequest struct {
	PolicyID    string    `json:"policyId" binding:"required"`
	Parameter   string    `json:"parameter" binding:"required"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

// Service implements the trigger validation flow.
type Service struct {
	store     Store
	policies  PolicyDirectory
	opener    AttestationOpener
	publisher ledgerpub.Publisher
	ttl       time.Duration
	locks     syncutil.ShardedMutex
	logger    *slog.Logger
}

// NewService creates a trigger service. ttl bounds how long a pending
// trigger waits for its attestation before expiring.
func NewService(store Store, policies PolicyDirectory, ttl time.Duration) *Service {
	return &Service{
		store:    store,
		policies: policies,
		ttl:      ttl,
		logger:   slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithAttestationOpener wires the consensus engine in.
func (s *Service) WithAttestationOpener(o AttestationOpener) *Service {
	s.opener = o
	return s
}

// WithPublisher enables ledger publication of validated triggers.
func (s *Service) WithPublisher(p ledgerpub.Publisher) *Service {
	s.publisher = p
	return s
}

// Report records a new event against a policy and opens an attestation
// round for the claimed measurement. One pending trigger per
// (policy, parameter) at a time; duplicates are rejected.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*Trigger, error) {
	ctx, span := traces.StartSpan(ctx, "trigger.Report", traces.PolicyID(req.PolicyID))
	defer span.End()

	p, err := s.policies.Get(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if p.Status != policy.StatusActive {
		metrics.TriggersTotal.WithLabelValues("policy_inactive").Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrPolicyInactive, p.ID, p.Status)
	}

	unlock := s.locks.Lock(req.PolicyID + "/" + req.Parameter)
	defer unlock()

	if existing, err := s.store.FindPending(ctx, req.PolicyID, req.Parameter); err == nil && existing != nil {
		metrics.TriggersTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, existing.ID)
	}

	windowStart, windowEnd := req.WindowStart, req.WindowEnd
	if windowEnd.IsZero() {
		windowEnd = time.Now()
	}
	if windowStart.IsZero() {
		windowStart = windowEnd.Add(-time.Hour)
	}

	now := time.Now()
	t := &Trigger{
		ID:       idgen.WithPrefix("trg_"),
		PolicyID: req.PolicyID,
		Event: EventData{
			Parameter:   req.Parameter,
			Value:       req.Value,
			Unit:        req.Unit,
			Location:    p.Location,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		},
		Status:    StatusPending,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.opener != nil {
		a, err := s.opener.Open(ctx, attestation.DataRequest{
			Parameter:   req.Parameter,
			Location:    p.Location,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open attestation for trigger: %w", err)
		}
		t.AttestationID = a.ID
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	metrics.TriggersTotal.WithLabelValues("reported").Inc()
	s.logger.Info("trigger reported",
		"triggerId", t.ID,
		"policyId", t.PolicyID,
		"parameter", req.Parameter,
		"attestationId", t.AttestationID)
	return t, nil
}

// Get returns a trigger by ID.
func (s *Service) Get(ctx context.Context, id string) (*Trigger, error) {
	return s.store.Get(ctx, id)
}

// GetByAttestation returns the trigger waiting on an attestation round.
func (s *Service) GetByAttestation(ctx context.Context, attestationID string) (*Trigger, error) {
	return s.store.GetByAttestation(ctx, attestationID)
}

// List returns triggers, optionally filtered by policy and status.
func (s *Service) List(ctx context.Context, policyID string, status Status, limit int) ([]*Trigger, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, policyID, status, limit)
}

// Validate evaluates a pending trigger against its policy's conditions
// using the oracle-confirmed value. The trigger moves to validated with
// the met condition recorded, or to rejected with a reason.
func (s *Service) Validate(ctx context.Context, triggerID string, confirmedValue float64) (*Trigger, error) {
	ctx, span := traces.StartSpan(ctx, "trigger.Validate")
	defer span.End()

	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, t.Status)
	}

	p, err := s.policies.Get(ctx, t.PolicyID)
	if err != nil {
		return nil, err
	}

	t.Event.Value = confirmedValue
	t.UpdatedAt = time.Now()

	if met := Evaluate(p.TriggerConditions, t.Event.Parameter, confirmedValue); met != nil {
		t.Status = StatusValidated
		t.ConditionMet = met
		metrics.TriggersTotal.WithLabelValues("validated").Inc()

		s.publish(ctx, t, met)
		s.logger.Info("trigger validated",
			"triggerId", t.ID,
			"policyId", t.PolicyID,
			"value", confirmedValue,
			"operator", met.Operator,
			"threshold", met.Threshold)
	} else {
		t.Status = StatusRejected
		t.Reason = fmt.Sprintf("no condition met for %s=%v", t.Event.Parameter, confirmedValue)
		metrics.TriggersTotal.WithLabelValues("rejected").Inc()

		s.logger.Info("trigger rejected",
			"triggerId", t.ID,
			"policyId", t.PolicyID,
			"value", confirmedValue)
	}

	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}
	return t, nil
}

// Reject closes a pending trigger without a payout, recording why.
func (s *Service) Reject(ctx context.Context, triggerID, reason string) (*Trigger, error) {
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, t.Status)
	}

	t.Status = StatusRejected
	t.Reason = reason
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	metrics.TriggersTotal.WithLabelValues("rejected").Inc()
	s.logger.Info("trigger rejected", "triggerId", t.ID, "reason", reason)
	return t, nil
}

// MarkProcessed closes a validated trigger once its payout settles.
func (s *Service) MarkProcessed(ctx context.Context, triggerID string) (*Trigger, error) {
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusValidated {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, t.Status)
	}

	t.Status = StatusProcessed
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) publish(ctx context.Context, t *Trigger, met *policy.TriggerCondition) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.Publish(ctx, ledgerpub.ChannelTriggers, ledgerpub.Message{
		Type:     ledgerpub.TypeTriggerValidated,
		PolicyID: t.PolicyID,
		Payload: map[string]interface{}{
			"triggerId": t.ID,
			"parameter": t.Event.Parameter,
			"value":     t.Event.Value,
			"operator":  met.Operator,
			"threshold": met.Threshold,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish trigger validation",
			"triggerId", t.ID, "error", err)
	}
}
