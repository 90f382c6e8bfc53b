package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
)

type fakeCreditor struct {
	mu      sync.Mutex
	credits map[string]int64
}

func newFakeCreditor() *fakeCreditor {
	return &fakeCreditor{credits: make(map[string]int64)}
}

func (f *fakeCreditor) Credit(ctx context.Context, poolID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits[poolID] += amount
	return nil
}

func testRequest() CreateRequest {
	return CreateRequest{
		HolderID: "hold_1",
		Location: "br-sp",
		PoolID:   "pool_1",
		TriggerConditions: []TriggerCondition{
			{Parameter: "rainfall", Operator: "gte", Threshold: 100.0, Unit: "mm"},
		},
		Coverage: CoverageDetails{MaxPayout: 100000, Deductible: 0, Currency: "USD"},
		Premium:  10000,
	}
}

func TestCreateStartsDraft(t *testing.T) {
	s := NewService(NewMemoryStore())
	p, err := s.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", p.Status)
	}
	if p.EffectiveUntil.Before(p.EffectiveFrom) {
		t.Fatal("coverage window is inverted")
	}
}

func TestCreateValidation(t *testing.T) {
	s := NewService(NewMemoryStore())

	req := testRequest()
	req.TriggerConditions = nil
	if _, err := s.Create(context.Background(), req); !errors.Is(err, ErrNoConditions) {
		t.Fatalf("expected ErrNoConditions, got %v", err)
	}

	req = testRequest()
	req.TriggerConditions[0].Operator = "between"
	if _, err := s.Create(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown operator")
	}

	req = testRequest()
	req.Coverage.MaxPayout = 0
	if _, err := s.Create(context.Background(), req); err == nil {
		t.Fatal("expected error for zero maxPayout")
	}
}

func TestActivateSplitsPremiumAndPublishes(t *testing.T) {
	ctx := context.Background()
	creditor := newFakeCreditor()
	publisher := ledgerpub.NewMemoryPublisher()
	s := NewService(NewMemoryStore()).
		WithPoolCreditor(creditor).
		WithPublisher(publisher)

	p, err := s.Create(ctx, testRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	activated, err := s.Activate(ctx, p.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.Status != StatusActive {
		t.Fatalf("expected active, got %s", activated.Status)
	}

	// 70% of the 10,000 premium capitalizes the pool.
	if got := creditor.credits["pool_1"]; got != 7000 {
		t.Fatalf("expected pool credited 7000, got %d", got)
	}

	registry := publisher.Published(ledgerpub.ChannelPolicyRegistry)
	if len(registry) != 1 || registry[0].Type != ledgerpub.TypePolicyRegistered {
		t.Fatalf("expected a policy_registered message, got %v", registry)
	}
	statusMsgs := publisher.Published(ledgerpub.ChannelPolicyStatus)
	if len(statusMsgs) != 1 || statusMsgs[0].Type != ledgerpub.TypePolicyStatusInit {
		t.Fatalf("expected an initial status message, got %v", statusMsgs)
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryStore())

	p, _ := s.Create(ctx, testRequest())

	// Cannot trigger a draft policy.
	if _, err := s.MarkTriggered(ctx, p.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	if _, err := s.Activate(ctx, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := s.MarkTriggered(ctx, p.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Triggered policies can only move to paid_out.
	if _, err := s.Cancel(ctx, p.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus cancelling triggered policy, got %v", err)
	}
	if _, err := s.MarkPaidOut(ctx, p.ID); err != nil {
		t.Fatalf("paid_out: %v", err)
	}

	// paid_out is terminal.
	if _, err := s.Activate(ctx, p.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus from terminal state, got %v", err)
	}
}

func TestCancelFromDraftAndActive(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryStore())

	draft, _ := s.Create(ctx, testRequest())
	if _, err := s.Cancel(ctx, draft.ID); err != nil {
		t.Fatalf("cancel draft: %v", err)
	}

	p, _ := s.Create(ctx, testRequest())
	if _, err := s.Activate(ctx, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := s.Cancel(ctx, p.ID); err != nil {
		t.Fatalf("cancel active: %v", err)
	}
}

func TestSplitPremium(t *testing.T) {
	split := SplitPremium(10000)
	if split.PoolShare != 7000 {
		t.Errorf("expected pool share 7000, got %d", split.PoolShare)
	}
	if split.ReinsurerShare != 2500 {
		t.Errorf("expected reinsurer share 2500, got %d", split.ReinsurerShare)
	}
	if split.PlatformFee != 500 {
		t.Errorf("expected platform fee 500, got %d", split.PlatformFee)
	}

	// Parts always sum to the whole, remainders included.
	for _, premium := range []int64{1, 3, 99, 101, 12345} {
		s := SplitPremium(premium)
		if s.PoolShare+s.ReinsurerShare+s.PlatformFee != premium {
			t.Errorf("split of %d does not sum: %+v", premium, s)
		}
	}

	if s := SplitPremium(0); s != (PremiumSplit{}) {
		t.Errorf("expected empty split for zero premium, got %+v", s)
	}
}

func TestTimerExpiresLapsedPolicies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := NewService(store)

	req := testRequest()
	req.EffectiveFrom = time.Now().Add(-48 * time.Hour)
	req.EffectiveUntil = time.Now().Add(-time.Hour)
	p, _ := s.Create(ctx, req)
	if _, err := s.Activate(ctx, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	fresh, _ := s.Create(ctx, testRequest())

	timer := NewTimer(s, store, slog.Default())
	timer.expireLapsed(ctx)

	got, _ := s.Get(ctx, p.ID)
	if got.Status != StatusExpired {
		t.Fatalf("expected lapsed policy expired, got %s", got.Status)
	}
	stillDraft, _ := s.Get(ctx, fresh.ID)
	if stillDraft.Status != StatusDraft {
		t.Fatalf("fresh policy must be untouched, got %s", stillDraft.Status)
	}
}
