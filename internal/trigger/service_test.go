package trigger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/attestation"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
)

type fakeOpener struct {
	opened []attestation.DataRequest
}

func (f *fakeOpener) Open(ctx context.Context, req attestation.DataRequest) (*attestation.Attestation, error) {
	f.opened = append(f.opened, req)
	return &attestation.Attestation{
		ID:      "att_test",
		Request: req,
		Status:  attestation.StatusPending,
	}, nil
}

func newTestPolicy(t *testing.T, policies *policy.Service) *policy.Policy {
	t.Helper()
	p, err := policies.Create(context.Background(), policy.CreateRequest{
		HolderID: "hold_1",
		Location: "br-sp",
		PoolID:   "pool_1",
		TriggerConditions: []policy.TriggerCondition{
			{Parameter: "temperature", Operator: "gte", Threshold: 35.0, Unit: "C"},
		},
		Coverage: policy.CoverageDetails{MaxPayout: 100000, Currency: "USD"},
		Premium:  10000,
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	if _, err := policies.Activate(context.Background(), p.ID); err != nil {
		t.Fatalf("activate policy: %v", err)
	}
	return p
}

func newTestService(t *testing.T) (*Service, *policy.Service, *fakeOpener) {
	t.Helper()
	policies := policy.NewService(policy.NewMemoryStore())
	opener := &fakeOpener{}
	svc := NewService(NewMemoryStore(), policies, 24*time.Hour).
		WithAttestationOpener(opener).
		WithPublisher(ledgerpub.NewMemoryPublisher())
	return svc, policies, opener
}

func TestReportOpensAttestation(t *testing.T) {
	ctx := context.Background()
	svc, policies, opener := newTestService(t)
	p := newTestPolicy(t, policies)

	trg, err := svc.Report(ctx, ReportRequest{
		PolicyID:  p.ID,
		Parameter: "temperature",
		Value:     36.5,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if trg.Status != StatusPending {
		t.Fatalf("expected pending, got %s", trg.Status)
	}
	if trg.AttestationID != "att_test" {
		t.Fatalf("expected attestation opened and linked, got %q", trg.AttestationID)
	}
	if len(opener.opened) != 1 || opener.opened[0].Parameter != "temperature" {
		t.Fatalf("unexpected attestation request: %+v", opener.opened)
	}
	if opener.opened[0].Location != p.Location {
		t.Fatalf("attestation must use the policy location, got %q", opener.opened[0].Location)
	}
}

func TestReportRejectsDuplicatePending(t *testing.T) {
	ctx := context.Background()
	svc, policies, _ := newTestService(t)
	p := newTestPolicy(t, policies)

	if _, err := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature"}); err != nil {
		t.Fatalf("first report: %v", err)
	}
	_, err := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// A different parameter is its own stream.
	if _, err := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "rainfall"}); err != nil {
		t.Fatalf("different parameter must be accepted: %v", err)
	}
}

func TestReportRejectsInactivePolicy(t *testing.T) {
	ctx := context.Background()
	svc, policies, _ := newTestService(t)

	draft, err := policies.Create(ctx, policy.CreateRequest{
		HolderID: "hold_1",
		Location: "br-sp",
		PoolID:   "pool_1",
		TriggerConditions: []policy.TriggerCondition{
			{Parameter: "temperature", Operator: "gte", Threshold: 35.0},
		},
		Coverage: policy.CoverageDetails{MaxPayout: 100000},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Report(ctx, ReportRequest{PolicyID: draft.ID, Parameter: "temperature"})
	if !errors.Is(err, ErrPolicyInactive) {
		t.Fatalf("expected ErrPolicyInactive, got %v", err)
	}
}

func TestValidateWithConfirmedValue(t *testing.T) {
	ctx := context.Background()
	svc, policies, _ := newTestService(t)
	p := newTestPolicy(t, policies)

	trg, _ := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature", Value: 99.0})

	// The consensus value, not the claimed one, decides the outcome.
	validated, err := svc.Validate(ctx, trg.ID, 35.0)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.Status != StatusValidated {
		t.Fatalf("expected validated (gte 35.0 with value 35.0), got %s", validated.Status)
	}
	if validated.Event.Value != 35.0 {
		t.Fatalf("expected confirmed value recorded, got %f", validated.Event.Value)
	}
	if validated.ConditionMet == nil || validated.ConditionMet.Threshold != 35.0 {
		t.Fatalf("expected met condition recorded, got %+v", validated.ConditionMet)
	}
}

func TestValidateRejectsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	svc, policies, _ := newTestService(t)
	p := newTestPolicy(t, policies)

	trg, _ := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature"})

	rejected, err := svc.Validate(ctx, trg.ID, 34.999)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.Reason == "" {
		t.Fatal("expected a rejection reason")
	}

	// Terminal: cannot validate again.
	if _, err := svc.Validate(ctx, trg.ID, 99.0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	svc, policies, _ := newTestService(t)
	p := newTestPolicy(t, policies)

	trg, _ := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature"})

	// Only validated triggers can be processed.
	if _, err := svc.MarkProcessed(ctx, trg.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus for pending trigger, got %v", err)
	}

	if _, err := svc.Validate(ctx, trg.ID, 40.0); err != nil {
		t.Fatalf("validate: %v", err)
	}
	processed, err := svc.MarkProcessed(ctx, trg.ID)
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if processed.Status != StatusProcessed {
		t.Fatalf("expected processed, got %s", processed.Status)
	}
}

func TestTimerExpiresPendingTriggers(t *testing.T) {
	ctx := context.Background()
	policies := policy.NewService(policy.NewMemoryStore())
	store := NewMemoryStore()
	svc := NewService(store, policies, -time.Minute) // born expired
	p := newTestPolicy(t, policies)

	trg, err := svc.Report(ctx, ReportRequest{PolicyID: p.ID, Parameter: "temperature"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	timer := NewTimer(store, slog.Default())
	timer.expireStale(ctx)

	got, _ := svc.Get(ctx, trg.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}
