package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/attestation"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/payout"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/pool"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/trigger"
)

// fakeOpener hands out attestation IDs without a consensus engine.
type fakeOpener struct {
	opened []*attestation.Attestation
}

func (f *fakeOpener) Open(ctx context.Context, req attestation.DataRequest) (*attestation.Attestation, error) {
	a := &attestation.Attestation{
		ID:        idgen.WithPrefix("att_"),
		Request:   req,
		Status:    attestation.StatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.opened = append(f.opened, a)
	return a, nil
}

type testWorld struct {
	pipeline  *Pipeline
	triggers  *trigger.Service
	policies  *policy.Service
	pools     *pool.Ledger
	payouts   *payout.MemoryStore
	opener    *fakeOpener
	publisher *ledgerpub.MemoryPublisher
	poolID    string
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	ctx := context.Background()

	w := &testWorld{
		policies:  policy.NewService(policy.NewMemoryStore()),
		pools:     pool.NewLedger(pool.NewMemoryStore()),
		payouts:   payout.NewMemoryStore(),
		opener:    &fakeOpener{},
		publisher: ledgerpub.NewMemoryPublisher(),
	}

	p, err := w.pools.Create(ctx, pool.CreateRequest{Name: "main", Capital: 500000})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	w.poolID = p.ID

	w.triggers = trigger.NewService(trigger.NewMemoryStore(), w.policies, time.Hour).
		WithAttestationOpener(w.opener)

	orchestrator := payout.NewOrchestrator(w.payouts, w.pools, w.policies, w.publisher, payout.Config{
		MaxRetries:        3,
		RetryBaseDelay:    time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	w.pipeline = New(w.triggers, w.policies, orchestrator)
	orchestrator.WithCompletionHook(w.pipeline.PayoutCompleted)
	return w
}

func (w *testWorld) activePolicy(t *testing.T, threshold float64, maxPayout int64) *policy.Policy {
	t.Helper()
	ctx := context.Background()

	p, err := w.policies.Create(ctx, policy.CreateRequest{
		HolderID: "hold_1",
		Location: "br-sp",
		PoolID:   w.poolID,
		TriggerConditions: []policy.TriggerCondition{
			{Parameter: "rainfall", Operator: "gte", Threshold: threshold, Unit: "mm"},
		},
		Coverage: policy.CoverageDetails{MaxPayout: maxPayout, Currency: "USD"},
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	if _, err := w.policies.Activate(ctx, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return p
}

// consensusFor builds the round the engine would close for a trigger.
func consensusFor(t *testing.T, trg *trigger.Trigger, finalValue float64, status attestation.Status) *attestation.Attestation {
	t.Helper()
	return &attestation.Attestation{
		ID:     trg.AttestationID,
		Status: status,
		Result: &attestation.ConsensusResult{
			Reached:    status == attestation.StatusConsensusReached,
			FinalValue: finalValue,
			Confidence: 0.99,
		},
	}
}

func TestConsensusToPayoutFlow(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	pol := w.activePolicy(t, 100.0, 50000)

	trg, err := w.triggers.Report(ctx, trigger.ReportRequest{
		PolicyID:  pol.ID,
		Parameter: "rainfall",
		Value:     120.0,
		Unit:      "mm",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	w.pipeline.ConsensusReached(ctx, consensusFor(t, trg, 115.0, attestation.StatusConsensusReached))

	// Trigger validated with the agreed value, then closed by the payout.
	done, _ := w.triggers.Get(ctx, trg.ID)
	if done.Status != trigger.StatusProcessed {
		t.Fatalf("expected processed trigger, got %s", done.Status)
	}
	if done.Event.Value != 115.0 {
		t.Fatalf("trigger must carry the consensus value, got %v", done.Event.Value)
	}

	closed, _ := w.policies.Get(ctx, pol.ID)
	if closed.Status != policy.StatusPaidOut {
		t.Fatalf("expected policy paid_out, got %s", closed.Status)
	}

	pay, err := w.payouts.GetPayoutByTrigger(ctx, trg.ID)
	if err != nil {
		t.Fatalf("payout not created: %v", err)
	}
	if pay.Status != payout.StatusCompleted || pay.Calculation.NetPayout != 50000 {
		t.Fatalf("unexpected payout: %+v", pay)
	}

	poolState, _ := w.pools.Get(ctx, w.poolID)
	if poolState.CurrentCapacity != 450000 {
		t.Fatalf("expected 50000 paid from the pool, got %+v", poolState)
	}
}

func TestConsensusBelowThresholdRejectsTrigger(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	pol := w.activePolicy(t, 100.0, 50000)

	trg, err := w.triggers.Report(ctx, trigger.ReportRequest{
		PolicyID:  pol.ID,
		Parameter: "rainfall",
		Value:     150.0, // reporter claims a breach
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	// The oracles agree on a value under the threshold.
	w.pipeline.ConsensusReached(ctx, consensusFor(t, trg, 80.0, attestation.StatusConsensusReached))

	done, _ := w.triggers.Get(ctx, trg.ID)
	if done.Status != trigger.StatusRejected {
		t.Fatalf("expected rejected trigger, got %s", done.Status)
	}

	still, _ := w.policies.Get(ctx, pol.ID)
	if still.Status != policy.StatusActive {
		t.Fatalf("policy must stay active, got %s", still.Status)
	}
	if _, err := w.payouts.GetPayoutByTrigger(ctx, trg.ID); err == nil {
		t.Fatal("no payout may exist for a rejected trigger")
	}
}

func TestDisputedConsensusRejectsTrigger(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	pol := w.activePolicy(t, 100.0, 50000)

	trg, err := w.triggers.Report(ctx, trigger.ReportRequest{
		PolicyID:  pol.ID,
		Parameter: "rainfall",
		Value:     150.0,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	w.pipeline.ConsensusDisputed(ctx, consensusFor(t, trg, 0, attestation.StatusDisputed))

	done, _ := w.triggers.Get(ctx, trg.ID)
	if done.Status != trigger.StatusRejected {
		t.Fatalf("expected rejected trigger, got %s", done.Status)
	}
	if done.Reason == "" {
		t.Fatal("rejection must record a reason")
	}

	still, _ := w.policies.Get(ctx, pol.ID)
	if still.Status != policy.StatusActive {
		t.Fatalf("policy must stay active after a disputed round, got %s", still.Status)
	}
}

func TestConsensusWithoutTriggerIsIgnored(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)

	orphan := &attestation.Attestation{
		ID:     "att_orphan",
		Status: attestation.StatusConsensusReached,
		Result: &attestation.ConsensusResult{Reached: true, FinalValue: 42.0},
	}

	// Must not panic or create settlement state.
	w.pipeline.ConsensusReached(ctx, orphan)
	w.pipeline.ConsensusDisputed(ctx, orphan)

	if _, err := w.payouts.GetPayoutByTrigger(ctx, "att_orphan"); err == nil {
		t.Fatal("no payout may exist for an orphan round")
	}
}
