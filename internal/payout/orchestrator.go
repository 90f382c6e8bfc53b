package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/pool"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/retry"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/syncutil"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/traces"
)

// LiquidityLedger is the slice of the pool ledger the orchestrator needs.
type LiquidityLedger interface {
	Reserve(ctx context.Context, poolID, claimID string, amount int64) (*pool.RiskPool, error)
	Release(ctx context.Context, poolID, claimID string, amount int64, wasUsed bool) (*pool.RiskPool, error)
}

// PolicyCloser marks policies paid out once settlement finishes.
type PolicyCloser interface {
	MarkPaidOut(ctx context.Context, id string) (*policy.Policy, error)
}

// CessionDesk raises cession funding requests with the reinsurer.
// Returns the cession request ID used to correlate the funding.
type CessionDesk interface {
	Request(ctx context.Context, policyID, payoutID, reinsurerID string, amount int64) (string, error)
}

// CompletionHook observes payout completion; the pipeline uses it to
// close the originating trigger.
type CompletionHook func(ctx context.Context, p *Payout)

// Config carries the payout execution tunables.
type Config struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	BackoffMultiplier float64
}

// Orchestrator runs the payout waterfall: reserve pool liquidity up to
// the retention, raise a cession for the excess, execute each leg
// against the ledger, and close the policy when everything settles.
type Orchestrator struct {
	store     Store
	pools     LiquidityLedger
	policies  PolicyCloser
	cessions  CessionDesk
	publisher ledgerpub.Publisher
	watcher   *ledgerpub.FinalityWatcher
	onDone    CompletionHook
	cfg       Config
	locks     *syncutil.ContextShardedMutex
	logger    *slog.Logger
}

// NewOrchestrator creates a payout orchestrator.
func NewOrchestrator(store Store, pools LiquidityLedger, policies PolicyCloser, publisher ledgerpub.Publisher, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		pools:     pools,
		policies:  policies,
		publisher: publisher,
		cfg:       cfg,
		locks:     syncutil.NewContextShardedMutex(),
		logger:    slog.Default(),
	}
}

// WithLogger sets a structured logger.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.logger = l
	return o
}

// WithCessionDesk enables reinsurance funding for excess amounts.
// Without one, any payout above the retention fails outright.
func (o *Orchestrator) WithCessionDesk(d CessionDesk) *Orchestrator {
	o.cessions = d
	return o
}

// WithFinalityWatcher tracks each executed leg until its ledger
// transaction is final.
func (o *Orchestrator) WithFinalityWatcher(w *ledgerpub.FinalityWatcher) *Orchestrator {
	o.watcher = w
	return o
}

// WithCompletionHook registers a callback for completed payouts.
func (o *Orchestrator) WithCompletionHook(h CompletionHook) *Orchestrator {
	o.onDone = h
	return o
}

// Get returns a payout with its transaction legs.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Payout, []*Transaction, error) {
	p, err := o.store.GetPayout(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	txs, err := o.store.ListTransactions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, txs, nil
}

// List returns payouts, optionally filtered.
func (o *Orchestrator) List(ctx context.Context, policyID string, status Status, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.store.ListPayouts(ctx, policyID, status, limit)
}

// Initiate starts the settlement of a validated trigger. At most one
// payout per trigger: repeats return ErrDuplicate.
func (o *Orchestrator) Initiate(ctx context.Context, pol *policy.Policy, triggerID string) (*Payout, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Initiate",
		traces.PolicyID(pol.ID))
	defer span.End()

	unlock, err := o.locks.LockContext(ctx, pol.ID+"/"+triggerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := o.store.GetPayoutByTrigger(ctx, triggerID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, existing.ID)
	}

	calc := Calculate(pol)
	now := time.Now()
	p := &Payout{
		ID:          idgen.WithPrefix("pay_"),
		PolicyID:    pol.ID,
		TriggerID:   triggerID,
		PoolID:      pol.PoolID,
		Calculation: calc,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreatePayout(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	o.logger.Info("payout initiated",
		"payoutId", p.ID,
		"policyId", pol.ID,
		"triggerId", triggerID,
		"netPayout", calc.NetPayout)

	if calc.NetPayout == 0 {
		// Deductible swallowed the whole payout. Nothing to move.
		p.Status = StatusCompleted
		p.Reason = "net payout is zero"
		p.UpdatedAt = time.Now()
		if err := o.store.UpdatePayout(ctx, p); err != nil {
			return nil, err
		}
		o.finish(ctx, p)
		return p, nil
	}

	poolAmount, cessionAmount := splitWaterfall(calc.NetPayout, pol.Reinsurance)

	// Pool leg. An insufficient pool fails the payout outright; the
	// cession path never substitutes for missing pool liquidity.
	poolTx, err := o.openLeg(ctx, p, SourcePool, poolAmount)
	if err != nil {
		return nil, err
	}
	if _, err := o.pools.Reserve(ctx, p.PoolID, poolTx.ID, poolAmount); err != nil {
		if errors.Is(err, pool.ErrInsufficientLiquidity) {
			o.failLeg(ctx, p, poolTx, "insufficient pool liquidity", false)
			return p, fmt.Errorf("payout %s: %w", p.ID, err)
		}
		return nil, fmt.Errorf("failed to reserve pool liquidity: %w", err)
	}
	o.moveLeg(ctx, poolTx, TxLiquidityReserved)
	o.moveLeg(ctx, poolTx, TxPendingExecution)

	// Cession leg, if the retention does not cover the full amount.
	if cessionAmount > 0 {
		cessionTx, err := o.openLeg(ctx, p, SourceCession, cessionAmount)
		if err != nil {
			return nil, err
		}

		reinsurerID := ""
		if pol.Reinsurance != nil {
			reinsurerID = pol.Reinsurance.ReinsurerID
		}
		if o.cessions == nil {
			o.failLeg(ctx, p, cessionTx, "no cession desk configured", false)
			return p, errors.New("payout: cession required but no desk configured")
		}

		cessionID, err := o.cessions.Request(ctx, pol.ID, p.ID, reinsurerID, cessionAmount)
		if err != nil {
			o.failLeg(ctx, p, cessionTx, "cession request failed: "+err.Error(), false)
			return p, fmt.Errorf("failed to raise cession: %w", err)
		}
		p.CessionID = cessionID
		metrics.CessionRequestsTotal.Inc()

		o.publishStopLoss(ctx, pol, p, cessionAmount)
	}

	p.Status = StatusInProgress
	p.UpdatedAt = time.Now()
	if err := o.store.UpdatePayout(ctx, p); err != nil {
		return nil, err
	}

	// The pool leg executes immediately; the cession leg waits for
	// HandleCessionFunded.
	o.Execute(ctx, poolTx.ID)

	final, err := o.store.GetPayout(ctx, p.ID)
	if err != nil {
		return p, nil
	}
	return final, nil
}

// Cancel abandons a payout before any money moves. Legs that are still
// waiting cancel, and held pool reservations go back untouched. A leg
// that is executing or already completed blocks cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*Payout, error) {
	p, err := o.store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, p.Status, StatusCancelled)
	}

	txs, err := o.store.ListTransactions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.Status == TxExecuting || tx.Status == TxCompleted {
			return nil, fmt.Errorf("%w: leg %s is %s", ErrInvalidStatus, tx.ID, tx.Status)
		}
	}

	for _, tx := range txs {
		if tx.Status == TxFailed || tx.Status == TxCancelled {
			continue
		}
		held := tx.Source == SourcePool &&
			(tx.Status == TxLiquidityReserved || tx.Status == TxPendingExecution)
		tx.NextRetryAt = nil
		o.moveLeg(ctx, tx, TxCancelled)
		if held {
			if _, err := o.pools.Release(ctx, p.PoolID, tx.ID, tx.Amount, false); err != nil {
				o.logger.Error("failed to release reservation of cancelled leg",
					"payoutId", p.ID, "txId", tx.ID, "error", err)
			}
		}
	}

	p.Status = StatusCancelled
	p.Reason = reason
	p.UpdatedAt = time.Now()
	if err := o.store.UpdatePayout(ctx, p); err != nil {
		return nil, err
	}

	o.logger.Info("payout cancelled", "payoutId", p.ID, "reason", reason)
	return p, nil
}

// Dispute flags a settlement under challenge. Completed and executing
// legs move to disputed; money already moved stays where it is until
// the dispute resolves out of band.
func (o *Orchestrator) Dispute(ctx context.Context, id, reason string) (*Payout, error) {
	p, err := o.store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, StatusDisputed) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, p.Status, StatusDisputed)
	}

	txs, err := o.store.ListTransactions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.Status == TxCompleted || tx.Status == TxExecuting {
			o.moveLeg(ctx, tx, TxDisputed)
		}
	}

	p.Status = StatusDisputed
	p.Reason = reason
	p.UpdatedAt = time.Now()
	if err := o.store.UpdatePayout(ctx, p); err != nil {
		return nil, err
	}

	o.logger.Warn("payout disputed", "payoutId", p.ID, "reason", reason)
	return p, nil
}

// HandleCessionFunded resumes the cession leg after the reinsurer wires
// the excess amount.
func (o *Orchestrator) HandleCessionFunded(ctx context.Context, payoutID string) error {
	p, err := o.store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	txs, err := o.store.ListTransactions(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Source != SourceCession || tx.Status != TxInitiated {
			continue
		}
		o.moveLeg(ctx, tx, TxPendingExecution)
		o.publishCessionFunded(ctx, p, tx)
		o.Execute(ctx, tx.ID)
		return nil
	}
	return fmt.Errorf("payout %s: no cession leg awaiting funding", payoutID)
}

// Execute runs one pending leg against the ledger. Failures reschedule
// with exponential backoff until the retry budget is exhausted.
func (o *Orchestrator) Execute(ctx context.Context, txID string) {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		o.logger.Error("cannot execute unknown transaction", "txId", txID, "error", err)
		return
	}
	if tx.Status != TxPendingExecution {
		return
	}

	p, err := o.store.GetPayout(ctx, tx.PayoutID)
	if err != nil {
		o.logger.Error("transaction without payout", "txId", txID, "error", err)
		return
	}

	o.moveLeg(ctx, tx, TxExecuting)

	receipt, err := o.publisher.Publish(ctx, ledgerpub.ChannelPayouts, ledgerpub.Message{
		Type:     ledgerpub.TypePayoutExecuted,
		PolicyID: p.PolicyID,
		Payload: map[string]interface{}{
			"payoutId": p.ID,
			"txId":     tx.ID,
			"source":   string(tx.Source),
			"amount":   tx.Amount,
			"currency": p.Calculation.Currency,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		o.retryOrFail(ctx, p, tx, err)
		return
	}

	tx.LedgerTxID = receipt.TransactionID
	tx.UpdatedAt = time.Now()
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		o.logger.Error("failed to record ledger transaction id",
			"txId", tx.ID, "error", err)
	}

	o.logger.Info("payout leg executed",
		"payoutId", p.ID,
		"txId", tx.ID,
		"source", tx.Source,
		"amount", tx.Amount,
		"ledgerTxId", receipt.TransactionID)

	// The leg stays executing until the ledger transaction is final.
	// Without a watcher the receipt itself counts as final.
	if o.watcher != nil {
		o.watcher.Track(receipt.TransactionID, func(cbCtx context.Context, ledgerTxID string) {
			o.finalizeLeg(cbCtx, tx.ID)
		})
		return
	}
	o.finalizeLeg(ctx, tx.ID)
}

// retryOrFail reschedules a failed execution, or fails the leg for good
// once MaxRetries attempts are spent.
func (o *Orchestrator) retryOrFail(ctx context.Context, p *Payout, tx *Transaction, cause error) {
	tx.CurrentRetry++
	if tx.CurrentRetry >= o.cfg.MaxRetries {
		o.failLeg(ctx, p, tx, fmt.Sprintf("exhausted %d attempts: %v", o.cfg.MaxRetries, cause), true)
		return
	}

	delay := retry.Backoff(o.cfg.RetryBaseDelay, o.cfg.BackoffMultiplier, tx.CurrentRetry-1)
	next := time.Now().Add(delay)
	tx.NextRetryAt = &next
	o.moveLeg(ctx, tx, TxPendingExecution)

	metrics.PayoutRetriesTotal.Inc()
	o.logger.Warn("payout leg execution failed, retrying",
		"payoutId", p.ID,
		"txId", tx.ID,
		"attempt", tx.CurrentRetry,
		"maxRetries", o.cfg.MaxRetries,
		"nextRetryAt", next,
		"error", cause)
}

// failLeg permanently fails a leg and the payout with it. A reserved
// pool leg hands its liquidity back.
func (o *Orchestrator) failLeg(ctx context.Context, p *Payout, tx *Transaction, reason string, releaseReservation bool) {
	tx.FailureReason = reason
	tx.NextRetryAt = nil
	o.moveLeg(ctx, tx, TxFailed)
	metrics.PayoutLegsTotal.WithLabelValues(string(tx.Source), "failed").Inc()

	if releaseReservation && tx.Source == SourcePool {
		if _, err := o.pools.Release(ctx, p.PoolID, tx.ID, tx.Amount, false); err != nil {
			o.logger.Error("failed to release reservation of failed leg",
				"payoutId", p.ID, "txId", tx.ID, "error", err)
		}
	}

	// A pool leg that already paid out keeps its money moved; its
	// reservation is consumed, not returned.
	if txs, err := o.store.ListTransactions(ctx, p.ID); err == nil {
		for _, other := range txs {
			if other.ID != tx.ID && other.Source == SourcePool && other.Status == TxCompleted {
				if _, err := o.pools.Release(ctx, p.PoolID, other.ID, other.Amount, true); err != nil {
					o.logger.Error("failed to consume reservation of completed leg",
						"payoutId", p.ID, "txId", other.ID, "error", err)
				}
			}
		}
	}

	p.Status = StatusFailed
	p.Reason = reason
	p.UpdatedAt = time.Now()
	if err := o.store.UpdatePayout(ctx, p); err != nil {
		o.logger.Error("failed to mark payout failed", "payoutId", p.ID, "error", err)
	}

	o.logger.Error("payout failed",
		"payoutId", p.ID, "txId", tx.ID, "source", tx.Source, "reason", reason)
}

// onLegComplete closes the payout once every leg has completed: the
// pool reservation is consumed, the policy moves to paid_out, and the
// completion hook fires.
func (o *Orchestrator) onLegComplete(ctx context.Context, p *Payout) {
	txs, err := o.store.ListTransactions(ctx, p.ID)
	if err != nil {
		o.logger.Error("failed to list payout legs", "payoutId", p.ID, "error", err)
		return
	}
	for _, tx := range txs {
		if tx.Status != TxCompleted {
			return
		}
	}

	for _, tx := range txs {
		if tx.Source == SourcePool {
			if _, err := o.pools.Release(ctx, p.PoolID, tx.ID, tx.Amount, true); err != nil {
				o.logger.Error("failed to consume pool reservation",
					"payoutId", p.ID, "txId", tx.ID, "error", err)
			}
		}
	}

	p.Status = StatusCompleted
	p.UpdatedAt = time.Now()
	if err := o.store.UpdatePayout(ctx, p); err != nil {
		o.logger.Error("failed to mark payout completed", "payoutId", p.ID, "error", err)
		return
	}

	o.finish(ctx, p)
}

func (o *Orchestrator) finish(ctx context.Context, p *Payout) {
	if _, err := o.policies.MarkPaidOut(ctx, p.PolicyID); err != nil {
		o.logger.Error("failed to mark policy paid out",
			"payoutId", p.ID, "policyId", p.PolicyID, "error", err)
	}
	if o.onDone != nil {
		o.onDone(ctx, p)
	}

	o.logger.Info("payout completed", "payoutId", p.ID, "policyId", p.PolicyID)
}

// finalizeLeg completes a leg once its ledger transaction reached the
// confirmation threshold, then closes the payout if it was the last
// outstanding leg. Reservation consumption, payout completion and the
// policy's paid_out move all hang off this point.
func (o *Orchestrator) finalizeLeg(ctx context.Context, txID string) {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		o.logger.Error("cannot finalize unknown transaction", "txId", txID, "error", err)
		return
	}
	if tx.Status != TxExecuting {
		return
	}

	now := time.Now()
	tx.FinalizedAt = &now
	o.moveLeg(ctx, tx, TxCompleted)
	metrics.PayoutLegsTotal.WithLabelValues(string(tx.Source), "completed").Inc()

	p, err := o.store.GetPayout(ctx, tx.PayoutID)
	if err != nil {
		o.logger.Error("finalized transaction without payout", "txId", txID, "error", err)
		return
	}
	o.onLegComplete(ctx, p)
}

func (o *Orchestrator) openLeg(ctx context.Context, p *Payout, source Source, amount int64) (*Transaction, error) {
	now := time.Now()
	tx := &Transaction{
		ID:        idgen.WithPrefix("ptx_"),
		PayoutID:  p.ID,
		Source:    source,
		Amount:    amount,
		Status:    TxInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create %s leg: %w", source, err)
	}
	return tx, nil
}

func (o *Orchestrator) moveLeg(ctx context.Context, tx *Transaction, to TxStatus) {
	if !CanTransitionTx(tx.Status, to) {
		o.logger.Error("illegal transaction transition",
			"txId", tx.ID, "from", tx.Status, "to", to)
		return
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		o.logger.Error("failed to update transaction",
			"txId", tx.ID, "status", to, "error", err)
	}
}

func (o *Orchestrator) publishStopLoss(ctx context.Context, pol *policy.Policy, p *Payout, excess int64) {
	_, err := o.publisher.Publish(ctx, ledgerpub.ChannelCession, ledgerpub.Message{
		Type:     ledgerpub.TypeStopLossBreached,
		PolicyID: pol.ID,
		Payload: map[string]interface{}{
			"payoutId":  p.ID,
			"retention": pol.Reinsurance.RetentionLimit,
			"excess":    excess,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		o.logger.Warn("failed to publish stop-loss breach", "payoutId", p.ID, "error", err)
	}
}

func (o *Orchestrator) publishCessionFunded(ctx context.Context, p *Payout, tx *Transaction) {
	_, err := o.publisher.Publish(ctx, ledgerpub.ChannelCession, ledgerpub.Message{
		Type:     ledgerpub.TypeCessionFunded,
		PolicyID: p.PolicyID,
		Payload: map[string]interface{}{
			"payoutId":  p.ID,
			"cessionId": p.CessionID,
			"amount":    tx.Amount,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		o.logger.Warn("failed to publish cession funding", "payoutId", p.ID, "error", err)
	}
}

// splitWaterfall divides the net payout between pool and cession. With
// no reinsurance, or a net payout within the retention, the pool funds
// everything.
func splitWaterfall(net int64, r *policy.ReinsuranceDetails) (poolAmount, cessionAmount int64) {
	if r == nil || r.RetentionLimit <= 0 || net <= r.RetentionLimit {
		return net, 0
	}
	return r.RetentionLimit, net - r.RetentionLimit
}
