// Package pipeline connects the settlement stages: consensus results
// flow into trigger validation, validated triggers start payouts, funded
// cessions resume waiting payout legs, and completed payouts close their
// triggers. Each stage stays unaware of the next; the pipeline is the
// only place the whole chain is visible.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/attestation"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/payout"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/realtime"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/trigger"
)

// Pipeline wires the stages together. It implements the consensus
// engine's result sink and the cession service's funding sink.
type Pipeline struct {
	triggers     *trigger.Service
	policies     *policy.Service
	orchestrator *payout.Orchestrator
	hub          *realtime.Hub
	logger       *slog.Logger
}

// New creates the settlement pipeline.
func New(triggers *trigger.Service, policies *policy.Service, orchestrator *payout.Orchestrator) *Pipeline {
	return &Pipeline{
		triggers:     triggers,
		policies:     policies,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	p.logger = l
	return p
}

// WithHub enables real-time event broadcasts.
func (p *Pipeline) WithHub(h *realtime.Hub) *Pipeline {
	p.hub = h
	return p
}

// ConsensusReached validates the waiting trigger with the agreed value
// and, if a condition is met, starts the payout.
func (p *Pipeline) ConsensusReached(ctx context.Context, a *attestation.Attestation) {
	p.broadcast(realtime.EventConsensusReached, map[string]interface{}{
		"attestationId": a.ID,
		"finalValue":    a.Result.FinalValue,
		"confidence":    a.Result.Confidence,
	})

	t, err := p.triggers.GetByAttestation(ctx, a.ID)
	if err != nil {
		// Rounds opened outside the trigger flow have no trigger waiting.
		p.logger.Info("consensus round without trigger", "attestationId", a.ID)
		return
	}

	validated, err := p.triggers.Validate(ctx, t.ID, a.Result.FinalValue)
	if err != nil {
		p.logger.Error("failed to validate trigger after consensus",
			"triggerId", t.ID, "attestationId", a.ID, "error", err)
		return
	}

	if validated.Status != trigger.StatusValidated {
		p.broadcast(realtime.EventTriggerRejected, map[string]interface{}{
			"triggerId": validated.ID,
			"policyId":  validated.PolicyID,
			"reason":    validated.Reason,
		})
		return
	}

	p.broadcast(realtime.EventTriggerValidated, map[string]interface{}{
		"triggerId": validated.ID,
		"policyId":  validated.PolicyID,
		"value":     validated.Event.Value,
	})

	pol, err := p.policies.MarkTriggered(ctx, validated.PolicyID)
	if err != nil {
		p.logger.Error("failed to mark policy triggered",
			"triggerId", validated.ID, "policyId", validated.PolicyID, "error", err)
		return
	}

	pay, err := p.orchestrator.Initiate(ctx, pol, validated.ID)
	if err != nil {
		p.logger.Error("payout initiation failed",
			"triggerId", validated.ID, "policyId", pol.ID, "error", err)
		return
	}

	p.logger.Info("settlement started",
		"triggerId", validated.ID,
		"policyId", pol.ID,
		"payoutId", pay.ID,
		"netPayout", pay.Calculation.NetPayout)
}

// ConsensusDisputed closes the waiting trigger without a payout. The
// oracles disagreed; no settlement can rest on that round.
func (p *Pipeline) ConsensusDisputed(ctx context.Context, a *attestation.Attestation) {
	p.broadcast(realtime.EventConsensusDisputed, map[string]interface{}{
		"attestationId": a.ID,
		"outliers":      a.Result.Outliers,
	})

	t, err := p.triggers.GetByAttestation(ctx, a.ID)
	if err != nil {
		p.logger.Info("disputed round without trigger", "attestationId", a.ID)
		return
	}

	if _, err := p.triggers.Reject(ctx, t.ID, "oracle attestation disputed"); err != nil {
		p.logger.Error("failed to reject trigger of disputed round",
			"triggerId", t.ID, "attestationId", a.ID, "error", err)
		return
	}

	p.broadcast(realtime.EventTriggerRejected, map[string]interface{}{
		"triggerId": t.ID,
		"policyId":  t.PolicyID,
		"reason":    "oracle attestation disputed",
	})
}

// CessionFunded resumes the payout leg waiting on reinsurer funds.
func (p *Pipeline) CessionFunded(ctx context.Context, payoutID string) error {
	return p.orchestrator.HandleCessionFunded(ctx, payoutID)
}

// PayoutCompleted closes the trigger behind a settled payout. Wire this
// as the orchestrator's completion hook.
func (p *Pipeline) PayoutCompleted(ctx context.Context, pay *payout.Payout) {
	if _, err := p.triggers.MarkProcessed(ctx, pay.TriggerID); err != nil {
		p.logger.Error("failed to close trigger after payout",
			"payoutId", pay.ID, "triggerId", pay.TriggerID, "error", err)
	}

	p.broadcast(realtime.EventPolicyPaidOut, map[string]interface{}{
		"payoutId":  pay.ID,
		"policyId":  pay.PolicyID,
		"netPayout": pay.Calculation.NetPayout,
	})
}

func (p *Pipeline) broadcast(eventType realtime.EventType, data map[string]interface{}) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastEvent(eventType, data)
}
