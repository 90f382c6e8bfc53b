package attestation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/oracle"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/syncutil"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/traces"
)

// OracleDirectory is the slice of the oracle registry the engine needs:
// membership lookups plus reputation feedback after each round.
type OracleDirectory interface {
	Get(ctx context.Context, id string) (*oracle.Oracle, error)
	ActiveCount(ctx context.Context) (int, error)
	RecordConsensusResult(ctx context.Context, id string, accurate bool) error
	Slash(ctx context.Context, id string, fraction float64, reason string) error
}

// ResultSink receives closed rounds. The trigger pipeline implements this
// to continue validation once a measurement is confirmed.
type ResultSink interface {
	ConsensusReached(ctx context.Context, a *Attestation)
	ConsensusDisputed(ctx context.Context, a *Attestation)
}

// EngineConfig carries the consensus tunables.
type EngineConfig struct {
	RequiredSignatures int
	WeightThreshold    float64 // weighted agreement fraction, e.g. 0.66
	OutlierZScore      float64 // z-score above which a submission is an outlier
	TTL                time.Duration
	SlashingFraction   float64 // stake fraction slashed from outliers in disputed rounds
}

// Engine runs attestation rounds: it accepts oracle submissions, detects
// outliers, and decides consensus once enough signatures arrive.
type Engine struct {
	store    Store
	oracles  OracleDirectory
	verifier oracle.SignatureVerifier
	sink     ResultSink
	cfg      EngineConfig
	locks    syncutil.ShardedMutex
	logger   *slog.Logger
}

// NewEngine creates a consensus engine.
func NewEngine(store Store, oracles OracleDirectory, verifier oracle.SignatureVerifier, cfg EngineConfig) *Engine {
	return &Engine{
		store:    store,
		oracles:  oracles,
		verifier: verifier,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithSink sets the consumer of closed rounds.
func (e *Engine) WithSink(s ResultSink) *Engine {
	e.sink = s
	return e
}

// Open starts a new pending attestation round for a data request. The
// panel is frozen at the active oracle count so a round knows how many
// submissions it may still collect.
func (e *Engine) Open(ctx context.Context, req DataRequest) (*Attestation, error) {
	panel, err := e.oracles.ActiveCount(ctx)
	if err != nil {
		e.logger.Warn("failed to count active oracles", "error", err)
		panel = 0
	}
	if panel < e.cfg.RequiredSignatures {
		panel = e.cfg.RequiredSignatures
	}

	now := time.Now()
	a := &Attestation{
		ID:        idgen.WithPrefix("att_"),
		Request:   req,
		Panel:     panel,
		Status:    StatusPending,
		ExpiresAt: now.Add(e.cfg.TTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to open attestation: %w", err)
	}

	e.logger.Info("attestation round opened",
		"attestationId", a.ID,
		"parameter", req.Parameter,
		"location", req.Location,
		"panel", a.Panel)
	return a, nil
}

// Get returns an attestation round by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Attestation, error) {
	return e.store.Get(ctx, id)
}

// SubmitRequest is one oracle's signed observation.
type SubmitRequest struct {
	OracleID  string  `json:"oracleId" binding:"required"`
	Signature string  `json:"signature" binding:"required"`
	Value     float64 `json:"value"`
}

// Submit records an oracle's signature on a round. Consensus is evaluated
// once the signature quorum is met and re-evaluated on every later arrival;
// the round closes when the whole panel has signed. A repeat submission
// from the same oracle replaces its earlier one. Submissions are
// serialized per attestation.
func (e *Engine) Submit(ctx context.Context, attestationID string, req SubmitRequest) (*Attestation, error) {
	ctx, span := traces.StartSpan(ctx, "attestation.Submit",
		traces.AttestationID(attestationID), traces.OracleID(req.OracleID))
	defer span.End()

	unlock := e.locks.Lock(attestationID)
	defer unlock()

	a, err := e.store.Get(ctx, attestationID)
	if err != nil {
		metrics.AttestationSubmissionsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	if a.Status != StatusPending {
		metrics.AttestationSubmissionsTotal.WithLabelValues("round_closed").Inc()
		return nil, fmt.Errorf("%w: status is %s", ErrRoundClosed, a.Status)
	}
	if time.Now().After(a.ExpiresAt) {
		metrics.AttestationSubmissionsTotal.WithLabelValues("expired").Inc()
		return nil, ErrRoundExpired
	}

	o, err := e.oracles.Get(ctx, req.OracleID)
	if err != nil {
		metrics.AttestationSubmissionsTotal.WithLabelValues("unknown_oracle").Inc()
		return nil, fmt.Errorf("%w: %s", ErrOracleInactive, req.OracleID)
	}
	if o.Status != oracle.StatusActive {
		metrics.AttestationSubmissionsTotal.WithLabelValues("inactive_oracle").Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrOracleInactive, o.ID, o.Status)
	}

	if err := e.verifier.Verify(o.PublicKey, req.Signature, req.Value); err != nil {
		metrics.AttestationSubmissionsTotal.WithLabelValues("bad_signature").Inc()
		return nil, err
	}

	sig := Signature{
		OracleID:  req.OracleID,
		Signature: req.Signature,
		Value:     req.Value,
		Weight:    oracle.Weight(o),
		Timestamp: time.Now(),
	}

	replaced := false
	for i := range a.Signatures {
		if a.Signatures[i].OracleID == req.OracleID {
			a.Signatures[i] = sig
			replaced = true
			break
		}
	}
	if !replaced {
		a.Signatures = append(a.Signatures, sig)
	}
	a.UpdatedAt = time.Now()

	metrics.AttestationSubmissionsTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("attestation signature recorded",
		"attestationId", a.ID,
		"oracleId", req.OracleID,
		"value", req.Value,
		"replaced", replaced,
		"signatures", len(a.Signatures))

	// Consensus is only evaluated once the quorum is met. Until then the
	// round stays pending no matter how closely the values agree. Past the
	// quorum the round keeps collecting: closing early would freeze the
	// result before slower panel members could reveal an outlier.
	if len(a.Signatures) >= e.cfg.RequiredSignatures {
		e.evaluate(ctx, a)
	}
	if a.Result != nil && len(a.Signatures) >= a.Panel {
		e.close(a)
	}

	if err := e.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to update attestation: %w", err)
	}

	if a.Status == StatusConsensusReached {
		e.afterReached(ctx, a)
	} else if a.Status == StatusDisputed {
		e.afterDisputed(ctx, a)
	}

	return a, nil
}

// evaluate runs outlier detection and the weighted agreement check,
// mutating the round in place. Caller holds the per-attestation lock.
func (e *Engine) evaluate(ctx context.Context, a *Attestation) {
	mean, stdDev := meanStdDev(a.Signatures)

	// With zero spread every submission agrees exactly; nobody can be an
	// outlier even though every z-score denominator is zero.
	var outliers []string
	outlierSet := make(map[string]bool)
	if stdDev > 0 {
		for _, s := range a.Signatures {
			z := math.Abs(s.Value-mean) / stdDev
			if z > e.cfg.OutlierZScore {
				outliers = append(outliers, s.OracleID)
				outlierSet[s.OracleID] = true
			}
		}
	}

	var consensusSum, consensusWeight, totalWeight float64
	var consensusCount int
	for _, s := range a.Signatures {
		totalWeight += s.Weight
		if !outlierSet[s.OracleID] {
			consensusSum += s.Value
			consensusWeight += s.Weight
			consensusCount++
		}
	}

	result := &ConsensusResult{
		RequiredSignatures: e.cfg.RequiredSignatures,
		ReceivedSignatures: len(a.Signatures),
		Threshold:          e.cfg.WeightThreshold,
		Outliers:           outliers,
	}

	if consensusCount > 0 {
		result.FinalValue = consensusSum / float64(consensusCount)
	}
	// Confidence degrades with spread relative to the mean. A zero mean
	// leaves the ratio undefined, so confidence bottoms out.
	if mean != 0 {
		result.Confidence = math.Max(0, 1-stdDev/math.Abs(mean))
	}
	if totalWeight > 0 {
		result.Reached = consensusWeight/totalWeight >= e.cfg.WeightThreshold
	}

	a.Result = result
	a.UpdatedAt = time.Now()

	e.logger.Info("consensus evaluated",
		"attestationId", a.ID,
		"reached", result.Reached,
		"finalValue", result.FinalValue,
		"confidence", result.Confidence,
		"outliers", len(outliers))
}

// close settles an evaluated round on its current result. Caller holds
// the per-attestation lock and persists the round afterwards.
func (e *Engine) close(a *Attestation) {
	if a.Result.Reached {
		a.Status = StatusConsensusReached
	} else {
		a.Status = StatusDisputed
	}
	a.UpdatedAt = time.Now()

	metrics.ConsensusRoundsTotal.WithLabelValues(string(a.Status)).Inc()
	e.logger.Info("attestation round closed",
		"attestationId", a.ID,
		"status", a.Status,
		"signatures", len(a.Signatures),
		"panel", a.Panel)
}

// afterReached updates participant reputations and hands the round to the
// pipeline. Reputation failures are logged, not propagated: the round is
// already closed and stored.
func (e *Engine) afterReached(ctx context.Context, a *Attestation) {
	outlierSet := make(map[string]bool)
	for _, id := range a.Result.Outliers {
		outlierSet[id] = true
	}
	for _, s := range a.Signatures {
		if err := e.oracles.RecordConsensusResult(ctx, s.OracleID, !outlierSet[s.OracleID]); err != nil {
			e.logger.Error("failed to record consensus result",
				"oracleId", s.OracleID, "error", err)
		}
	}

	if e.sink != nil {
		e.sink.ConsensusReached(ctx, a)
	}
}

// afterDisputed slashes the outliers that broke the round.
func (e *Engine) afterDisputed(ctx context.Context, a *Attestation) {
	for _, id := range a.Result.Outliers {
		if err := e.oracles.Slash(ctx, id, e.cfg.SlashingFraction, "outlier in disputed attestation "+a.ID); err != nil {
			e.logger.Error("failed to slash oracle", "oracleId", id, "error", err)
		}
	}

	if e.sink != nil {
		e.sink.ConsensusDisputed(ctx, a)
	}
}

// meanStdDev returns the population mean and standard deviation of the
// submitted values.
func meanStdDev(sigs []Signature) (float64, float64) {
	if len(sigs) == 0 {
		return 0, 0
	}

	var sum float64
	for _, s := range sigs {
		sum += s.Value
	}
	mean := sum / float64(len(sigs))

	var variance float64
	for _, s := range sigs {
		d := s.Value - mean
		variance += d * d
	}
	variance /= float64(len(sigs))

	return mean, math.Sqrt(variance)
}
