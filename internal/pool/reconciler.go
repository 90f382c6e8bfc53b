package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
)

// Reconciler periodically audits every pool against the balance
// invariants and cross-checks reserved liquidity against the recorded
// reservations. Violations are counted and logged, never auto-fixed:
// a broken balance needs a human.
type Reconciler struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewReconciler creates a pool reconciliation sweep.
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		interval: 5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep(ctx)
		}
	}
}

// Stop signals the sweep to stop.
func (r *Reconciler) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reconciler) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in pool reconciler", "panic", fmt.Sprint(rec))
		}
	}()
	r.sweep(ctx)
}

func (r *Reconciler) sweep(ctx context.Context) {
	pools, err := r.store.List(ctx, 1000)
	if err != nil {
		r.logger.Warn("failed to list pools for reconciliation", "error", err)
		return
	}

	for _, p := range pools {
		for _, v := range CheckInvariants(p) {
			metrics.PoolInvariantViolationsTotal.Inc()
			r.logger.Error("pool invariant violated", "poolId", p.ID, "violation", v)
		}

		reservations, err := r.store.ListReservations(ctx, p.ID)
		if err != nil {
			r.logger.Warn("failed to list reservations", "poolId", p.ID, "error", err)
			continue
		}
		var sum int64
		for _, res := range reservations {
			sum += res.Amount
		}
		if sum != p.ReservedLiquidity {
			metrics.PoolInvariantViolationsTotal.Inc()
			r.logger.Error("reserved liquidity does not match reservations",
				"poolId", p.ID, "reserved", p.ReservedLiquidity, "reservationSum", sum)
		}
	}
}

// CheckInvariants returns a description of every violated pool
// invariant, or nil when the pool is healthy.
func CheckInvariants(p *RiskPool) []string {
	var out []string
	if p.AvailableLiquidity < 0 {
		out = append(out, fmt.Sprintf("availableLiquidity %d < 0", p.AvailableLiquidity))
	}
	if p.ReservedLiquidity < 0 {
		out = append(out, fmt.Sprintf("reservedLiquidity %d < 0", p.ReservedLiquidity))
	}
	if p.AvailableLiquidity+p.ReservedLiquidity > p.CurrentCapacity {
		out = append(out, fmt.Sprintf("available %d + reserved %d exceeds capacity %d",
			p.AvailableLiquidity, p.ReservedLiquidity, p.CurrentCapacity))
	}
	return out
}
