package cession

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
)

// FundingSink is notified when a cession is funded so the waiting
// payout leg can resume.
type FundingSink interface {
	CessionFunded(ctx context.Context, payoutID string) error
}

// Service manages the cession lifecycle. It satisfies the payout
// orchestrator's cession desk.
type Service struct {
	store     Store
	publisher ledgerpub.Publisher
	sink      FundingSink
	logger    *slog.Logger
}

// NewService creates a cession service.
func NewService(store Store) *Service {
	return &Service{store: store, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithPublisher enables ledger publication of cession events.
func (s *Service) WithPublisher(p ledgerpub.Publisher) *Service {
	s.publisher = p
	return s
}

// WithFundingSink wires funded cessions back into payout execution.
func (s *Service) WithFundingSink(sink FundingSink) *Service {
	s.sink = sink
	return s
}

// Request raises a funding request with the reinsurer and returns the
// cession ID.
func (s *Service) Request(ctx context.Context, policyID, payoutID, reinsurerID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	now := time.Now()
	c := &Cession{
		ID:          idgen.WithPrefix("ces_"),
		PolicyID:    policyID,
		PayoutID:    payoutID,
		ReinsurerID: reinsurerID,
		Amount:      amount,
		Status:      StatusRequested,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return "", fmt.Errorf("failed to create cession: %w", err)
	}

	s.publish(ctx, ledgerpub.TypeCessionRequested, c)

	s.logger.Info("cession requested",
		"cessionId", c.ID,
		"policyId", policyID,
		"payoutId", payoutID,
		"reinsurerId", reinsurerID,
		"amount", amount)
	return c.ID, nil
}

// Fund records the reinsurer's wire and resumes the waiting payout.
// Only a requested cession can be funded.
func (s *Service) Fund(ctx context.Context, id, ledgerTxID string) (*Cession, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRequested {
		return nil, fmt.Errorf("%w: cession is %s", ErrInvalidStatus, c.Status)
	}

	now := time.Now()
	c.Status = StatusFunded
	c.LedgerTxID = ledgerTxID
	c.FundedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.CessionSettlementsTotal.WithLabelValues("funded").Inc()

	s.logger.Info("cession funded",
		"cessionId", c.ID, "payoutId", c.PayoutID, "amount", c.Amount)

	if s.sink != nil {
		if err := s.sink.CessionFunded(ctx, c.PayoutID); err != nil {
			s.logger.Error("failed to resume payout after cession funding",
				"cessionId", c.ID, "payoutId", c.PayoutID, "error", err)
		}
	}
	return c, nil
}

// Decline records the reinsurer's refusal. The payout leg waiting on
// this cession stays unfunded; operators resolve it out of band.
func (s *Service) Decline(ctx context.Context, id, reason string) (*Cession, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRequested {
		return nil, fmt.Errorf("%w: cession is %s", ErrInvalidStatus, c.Status)
	}

	c.Status = StatusDeclined
	c.Reason = reason
	c.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	metrics.CessionSettlementsTotal.WithLabelValues("declined").Inc()

	s.logger.Warn("cession declined",
		"cessionId", c.ID, "payoutId", c.PayoutID, "reason", reason)
	return c, nil
}

// Get returns one cession.
func (s *Service) Get(ctx context.Context, id string) (*Cession, error) {
	return s.store.Get(ctx, id)
}

// List returns cessions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Cession, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, status, limit)
}

func (s *Service) publish(ctx context.Context, msgType string, c *Cession) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.Publish(ctx, ledgerpub.ChannelCession, ledgerpub.Message{
		Type:     msgType,
		PolicyID: c.PolicyID,
		Payload: map[string]interface{}{
			"cessionId":   c.ID,
			"payoutId":    c.PayoutID,
			"reinsurerId": c.ReinsurerID,
			"amount":      c.Amount,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish cession event",
			"cessionId", c.ID, "type", msgType, "error", err)
	}
}
