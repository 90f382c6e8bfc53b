package oracle

import (
	"context"
	"errors"
	"testing"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewMemoryStore())
}

func register(t *testing.T, r *Registry) *Oracle {
	t.Helper()
	o, err := r.Register(context.Background(), RegisterRequest{
		Name:       "meteo-1",
		PublicKey:  "pk_meteo_1_0123456789abcdef",
		Parameters: []string{"rainfall"},
		Regions:    []string{"br-sp"},
		Stake:      20000,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return o
}

func TestRegisterStartsPendingApproval(t *testing.T) {
	r := newTestRegistry()
	o := register(t, r)

	if o.Status != StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", o.Status)
	}
	if o.Reputation.Uptime != 1.0 {
		t.Fatalf("expected initial uptime 1.0, got %f", o.Reputation.Uptime)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	o := register(t, r)

	approved, err := r.Approve(ctx, o.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusActive {
		t.Fatalf("expected active, got %s", approved.Status)
	}

	// Approving twice is an invalid transition.
	if _, err := r.Approve(ctx, o.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	suspended, err := r.Suspend(ctx, o.ID)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != StatusSuspended {
		t.Fatalf("expected suspended, got %s", suspended.Status)
	}

	// Suspended oracles can be reinstated.
	if _, err := r.Approve(ctx, o.ID); err != nil {
		t.Fatalf("re-approve after suspend: %v", err)
	}

	deactivated, err := r.Deactivate(ctx, o.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if deactivated.Status != StatusDeactivated {
		t.Fatalf("expected deactivated, got %s", deactivated.Status)
	}

	// Terminal: no way back.
	if _, err := r.Approve(ctx, o.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus after deactivation, got %v", err)
	}
}

func TestRecordConsensusResultUpdatesAccuracy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	o := register(t, r)

	for i := 0; i < 3; i++ {
		if err := r.RecordConsensusResult(ctx, o.ID, true); err != nil {
			t.Fatalf("record accurate: %v", err)
		}
	}
	if err := r.RecordConsensusResult(ctx, o.ID, false); err != nil {
		t.Fatalf("record inaccurate: %v", err)
	}

	got, err := r.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reputation.TotalAttestations != 4 {
		t.Fatalf("expected 4 total attestations, got %d", got.Reputation.TotalAttestations)
	}
	if got.Reputation.AccurateAttestations != 3 {
		t.Fatalf("expected 3 accurate attestations, got %d", got.Reputation.AccurateAttestations)
	}
	if got.Reputation.AccuracyRate != 0.75 {
		t.Fatalf("expected accuracy 0.75, got %f", got.Reputation.AccuracyRate)
	}
}

func TestSlashReducesStakeAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	o := register(t, r)

	if err := r.Slash(ctx, o.ID, 0.05, "outlier in disputed round"); err != nil {
		t.Fatalf("slash: %v", err)
	}

	got, err := r.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reputation.StakingAmount != 19000 {
		t.Fatalf("expected stake 19000 after 5%% slash of 20000, got %d", got.Reputation.StakingAmount)
	}
	if len(got.Reputation.SlashingHistory) != 1 {
		t.Fatalf("expected 1 slashing event, got %d", len(got.Reputation.SlashingHistory))
	}
	if got.Reputation.SlashingHistory[0].Amount != 1000 {
		t.Fatalf("expected slashing amount 1000, got %d", got.Reputation.SlashingHistory[0].Amount)
	}
}

func TestFormatVerifier(t *testing.T) {
	v := FormatVerifier{}

	if err := v.Verify("pk", "sig_0123456789abcdef", 35.0); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify("pk", "short", 35.0); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := v.Verify("", "sig_0123456789abcdef", 35.0); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing key, got %v", err)
	}
}
