package attestation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/oracle"
)

// fakeDirectory is an in-test oracle directory with full control over
// reputation, so tests can pin exact voting weights.
type fakeDirectory struct {
	mu      sync.Mutex
	oracles map[string]*oracle.Oracle
	results map[string][]bool // oracleID -> accurate flags recorded
	slashed map[string]float64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		oracles: make(map[string]*oracle.Oracle),
		results: make(map[string][]bool),
		slashed: make(map[string]float64),
	}
}

func (f *fakeDirectory) add(id string, rep oracle.Reputation) {
	f.oracles[id] = &oracle.Oracle{
		ID:         id,
		PublicKey:  "pk_" + id,
		Status:     oracle.StatusActive,
		Reputation: rep,
	}
}

func (f *fakeDirectory) Get(ctx context.Context, id string) (*oracle.Oracle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.oracles[id]
	if !ok {
		return nil, oracle.ErrNotFound
	}
	return o, nil
}

func (f *fakeDirectory) ActiveCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.oracles {
		if o.Status == oracle.StatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeDirectory) RecordConsensusResult(ctx context.Context, id string, accurate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = append(f.results[id], accurate)
	return nil
}

func (f *fakeDirectory) Slash(ctx context.Context, id string, fraction float64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slashed[id] = fraction
	return nil
}

type recordingSink struct {
	reached  []*Attestation
	disputed []*Attestation
}

func (s *recordingSink) ConsensusReached(ctx context.Context, a *Attestation) {
	s.reached = append(s.reached, a)
}

func (s *recordingSink) ConsensusDisputed(ctx context.Context, a *Attestation) {
	s.disputed = append(s.disputed, a)
}

func testConfig() EngineConfig {
	return EngineConfig{
		RequiredSignatures: 3,
		WeightThreshold:    0.66,
		OutlierZScore:      2.0,
		TTL:                24 * time.Hour,
		SlashingFraction:   0.05,
	}
}

func newTestEngine(dir *fakeDirectory, sink ResultSink) *Engine {
	e := NewEngine(NewMemoryStore(), dir, oracle.FormatVerifier{}, testConfig())
	if sink != nil {
		e.WithSink(sink)
	}
	return e
}

func openRound(t *testing.T, e *Engine) *Attestation {
	t.Helper()
	a, err := e.Open(context.Background(), DataRequest{
		Parameter:   "temperature",
		Location:    "br-sp",
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return a
}

func submit(t *testing.T, e *Engine, attID, oracleID string, value float64) *Attestation {
	t.Helper()
	a, err := e.Submit(context.Background(), attID, SubmitRequest{
		OracleID:  oracleID,
		Signature: "sig_0123456789abcdef",
		Value:     value,
	})
	if err != nil {
		t.Fatalf("submit %s=%f: %v", oracleID, value, err)
	}
	return a
}

func TestConsensusExcludesOutlier(t *testing.T) {
	dir := newFakeDirectory()
	sink := &recordingSink{}
	e := newTestEngine(dir, sink)

	// Six equally-weighted oracles; one reports a value far from the
	// cluster, pushing its z-score past 2.0.
	values := map[string]float64{
		"orc_a": 35.0, "orc_b": 35.1, "orc_c": 35.2,
		"orc_d": 35.05, "orc_e": 35.15, "orc_f": 80.0,
	}
	for id := range values {
		dir.add(id, oracle.Reputation{})
	}

	a := openRound(t, e)
	var last *Attestation
	for _, id := range []string{"orc_a", "orc_b", "orc_c", "orc_d", "orc_e", "orc_f"} {
		last = submit(t, e, a.ID, id, values[id])
	}

	if last.Status != StatusConsensusReached {
		t.Fatalf("expected consensus_reached, got %s", last.Status)
	}
	r := last.Result
	if r == nil {
		t.Fatal("expected a consensus result")
	}
	if len(r.Outliers) != 1 || r.Outliers[0] != "orc_f" {
		t.Fatalf("expected orc_f as sole outlier, got %v", r.Outliers)
	}
	if math.Abs(r.FinalValue-35.1) > 1e-9 {
		t.Fatalf("expected consensus value 35.1 from non-outliers, got %f", r.FinalValue)
	}
	// Weighted agreement: 5 of 6 equal weights.
	if got := 5.0 / 6.0; got < r.Threshold {
		t.Fatalf("test setup broken: agreement %f below threshold", got)
	}

	// Accuracy bookkeeping: non-outliers accurate, the outlier not.
	for _, id := range []string{"orc_a", "orc_b", "orc_c", "orc_d", "orc_e"} {
		if got := dir.results[id]; len(got) != 1 || !got[0] {
			t.Errorf("expected %s recorded accurate, got %v", id, got)
		}
	}
	if got := dir.results["orc_f"]; len(got) != 1 || got[0] {
		t.Errorf("expected orc_f recorded inaccurate, got %v", got)
	}

	if len(sink.reached) != 1 {
		t.Fatalf("expected 1 reached notification, got %d", len(sink.reached))
	}
}

func TestQuorumGateBlocksEvaluation(t *testing.T) {
	dir := newFakeDirectory()
	sink := &recordingSink{}
	e := newTestEngine(dir, sink)
	dir.add("orc_a", oracle.Reputation{})
	dir.add("orc_b", oracle.Reputation{})

	a := openRound(t, e)
	submit(t, e, a.ID, "orc_a", 10.0)
	// Wild disagreement, but only two signatures: no evaluation may run.
	last := submit(t, e, a.ID, "orc_b", 9000.0)

	if last.Status != StatusPending {
		t.Fatalf("expected round still pending with 2 signatures, got %s", last.Status)
	}
	if last.Result != nil {
		t.Fatal("expected no consensus result before quorum")
	}
	if len(sink.reached)+len(sink.disputed) != 0 {
		t.Fatal("sink must not be notified before quorum")
	}
}

func TestResubmissionReplacesSignature(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	dir.add("orc_a", oracle.Reputation{})

	a := openRound(t, e)
	submit(t, e, a.ID, "orc_a", 10.0)
	last := submit(t, e, a.ID, "orc_a", 12.0)

	if len(last.Signatures) != 1 {
		t.Fatalf("expected 1 signature after resubmission, got %d", len(last.Signatures))
	}
	if last.Signatures[0].Value != 12.0 {
		t.Fatalf("expected resubmission to replace value, got %f", last.Signatures[0].Value)
	}
}

func TestDisputedRoundSlashesOutliers(t *testing.T) {
	dir := newFakeDirectory()
	sink := &recordingSink{}
	e := newTestEngine(dir, sink)

	// Seven base-weight oracles agree at 35.0. Two heavily staked,
	// fully reputed oracles (weight 2.0 each) report opposite extremes:
	// both exceed z=2, and together they hold 4 of 11 weight, dragging
	// agreement to 0.636, under the 0.66 threshold.
	heavy := oracle.Reputation{AccuracyRate: 1.0, Uptime: 1.0, StakingAmount: 200000}
	for i := 0; i < 7; i++ {
		dir.add(fmt.Sprintf("orc_%d", i), oracle.Reputation{})
	}
	dir.add("orc_high", heavy)
	dir.add("orc_low", heavy)

	a := openRound(t, e)
	var last *Attestation
	for i := 0; i < 7; i++ {
		last = submit(t, e, a.ID, fmt.Sprintf("orc_%d", i), 35.0)
	}
	last = submit(t, e, a.ID, "orc_high", 80.0)
	last = submit(t, e, a.ID, "orc_low", -10.0)

	if last.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", last.Status)
	}
	if len(last.Result.Outliers) != 2 {
		t.Fatalf("expected 2 outliers, got %v", last.Result.Outliers)
	}
	for _, id := range []string{"orc_high", "orc_low"} {
		if dir.slashed[id] != 0.05 {
			t.Errorf("expected %s slashed at 0.05, got %f", id, dir.slashed[id])
		}
	}
	if len(sink.disputed) != 1 {
		t.Fatalf("expected 1 disputed notification, got %d", len(sink.disputed))
	}
}

func TestZeroSpreadIsFullConsensus(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		dir.add(id, oracle.Reputation{})
	}

	a := openRound(t, e)
	var last *Attestation
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		last = submit(t, e, a.ID, id, 42.0)
	}

	if last.Status != StatusConsensusReached {
		t.Fatalf("expected consensus_reached, got %s", last.Status)
	}
	if len(last.Result.Outliers) != 0 {
		t.Fatalf("identical values must produce no outliers, got %v", last.Result.Outliers)
	}
	if last.Result.FinalValue != 42.0 {
		t.Fatalf("expected final value 42.0, got %f", last.Result.FinalValue)
	}
	if last.Result.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0 for zero spread, got %f", last.Result.Confidence)
	}
}

func TestZeroMeanConfidenceIsZero(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		dir.add(id, oracle.Reputation{})
	}

	a := openRound(t, e)
	submit(t, e, a.ID, "orc_a", -1.0)
	submit(t, e, a.ID, "orc_b", 0.0)
	last := submit(t, e, a.ID, "orc_c", 1.0)

	if last.Result == nil {
		t.Fatal("expected a consensus result")
	}
	if last.Result.Confidence != 0 {
		t.Fatalf("expected confidence 0 when mean is 0, got %f", last.Result.Confidence)
	}
}

func TestSubmitRejectsInactiveOracle(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	dir.add("orc_a", oracle.Reputation{})
	dir.oracles["orc_a"].Status = oracle.StatusSuspended

	a := openRound(t, e)
	_, err := e.Submit(context.Background(), a.ID, SubmitRequest{
		OracleID: "orc_a", Signature: "sig_0123456789abcdef", Value: 1,
	})
	if !errors.Is(err, ErrOracleInactive) {
		t.Fatalf("expected ErrOracleInactive, got %v", err)
	}
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	dir.add("orc_a", oracle.Reputation{})

	a := openRound(t, e)
	_, err := e.Submit(context.Background(), a.ID, SubmitRequest{
		OracleID: "orc_a", Signature: "short", Value: 1,
	})
	if !errors.Is(err, oracle.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRoundStaysOpenForFullPanel(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	for _, id := range []string{"orc_a", "orc_b", "orc_c", "orc_d", "orc_e"} {
		dir.add(id, oracle.Reputation{})
	}

	a := openRound(t, e)
	if a.Panel != 5 {
		t.Fatalf("expected a panel of 5, got %d", a.Panel)
	}

	var last *Attestation
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		last = submit(t, e, a.ID, id, 42.0)
	}

	// Quorum met but two panel members still owe a signature: the round
	// carries a provisional result and keeps accepting.
	if last.Status != StatusPending {
		t.Fatalf("expected pending past quorum, got %s", last.Status)
	}
	if last.Result == nil || !last.Result.Reached {
		t.Fatalf("expected a provisional reached result, got %+v", last.Result)
	}

	last = submit(t, e, a.ID, "orc_d", 42.0)
	if last.Status != StatusPending {
		t.Fatalf("expected pending at 4 of 5 signatures, got %s", last.Status)
	}

	last = submit(t, e, a.ID, "orc_e", 42.0)
	if last.Status != StatusConsensusReached {
		t.Fatalf("expected consensus_reached at full panel, got %s", last.Status)
	}
	if last.Result.ReceivedSignatures != 5 {
		t.Fatalf("expected 5 signatures in the result, got %d", last.Result.ReceivedSignatures)
	}
}

func TestSubmitRejectsClosedRound(t *testing.T) {
	dir := newFakeDirectory()
	e := newTestEngine(dir, nil)
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		dir.add(id, oracle.Reputation{})
	}

	a := openRound(t, e)
	for _, id := range []string{"orc_a", "orc_b", "orc_c"} {
		submit(t, e, a.ID, id, 42.0)
	}

	// An oracle that activated after the round opened is not part of the
	// panel; the round has already settled.
	dir.add("orc_d", oracle.Reputation{})
	_, err := e.Submit(context.Background(), a.ID, SubmitRequest{
		OracleID: "orc_d", Signature: "sig_0123456789abcdef", Value: 42.0,
	})
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed after the panel settled, got %v", err)
	}
}
