package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
)

// Timer periodically expires pending triggers whose attestation never
// concluded within the TTL.
type Timer struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new trigger expiry timer.
func NewTimer(store Store, logger *slog.Logger) *Timer {
	return &Timer{
		store:    store,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpire(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in trigger timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireStale(ctx)
}

func (t *Timer) expireStale(ctx context.Context) {
	stale, err := t.store.ListPendingExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired triggers", "error", err)
		return
	}

	for _, trg := range stale {
		trg.Status = StatusExpired
		trg.Reason = "attestation did not conclude before the trigger TTL"
		trg.UpdatedAt = time.Now()
		if err := t.store.Update(ctx, trg); err != nil {
			t.logger.Warn("failed to expire trigger", "triggerId", trg.ID, "error", err)
			continue
		}

		metrics.TriggersTotal.WithLabelValues("expired").Inc()
		t.logger.Info("trigger expired",
			"triggerId", trg.ID,
			"policyId", trg.PolicyID,
			"attestationId", trg.AttestationID)
	}
}
