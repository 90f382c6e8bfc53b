package attestation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps pending rounds past their TTL: rounds that
// met the signature quorum settle on the result they have, the rest
// expire.
type Timer struct {
	engine   *Engine
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new attestation expiry timer.
func NewTimer(engine *Engine, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		engine:   engine,
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
			t.logger.Error("panic in attestation timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireStale(ctx)
}

func (t *Timer) expireStale(ctx context.Context) {
	stale, err := t.store.ListPendingExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired attestations", "error", err)
		return
	}

	for _, a := range stale {
		// Re-check under the round's lock; a submission may have closed it
		// between the list and now.
		unlock := t.engine.locks.Lock(a.ID)
		current, err := t.store.Get(ctx, a.ID)
		if err != nil || current.Status != StatusPending {
			unlock()
			continue
		}

		// A round that met quorum but never heard from its whole panel
		// settles on the result it had at expiry.
		if current.Result != nil {
			t.engine.close(current)
		} else {
			current.Status = StatusExpired
			current.UpdatedAt = time.Now()
		}
		if err := t.store.Update(ctx, current); err != nil {
			t.logger.Warn("failed to sweep attestation", "attestationId", a.ID, "error", err)
			unlock()
			continue
		}
		unlock()

		switch current.Status {
		case StatusConsensusReached:
			t.engine.afterReached(ctx, current)
		case StatusDisputed:
			t.engine.afterDisputed(ctx, current)
		default:
			t.logger.Info("attestation expired",
				"attestationId", a.ID,
				"signatures", len(current.Signatures),
				"required", t.engine.cfg.RequiredSignatures)
		}
	}
}
