package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically expires draft and active policies whose coverage
// window has closed.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new policy expiry timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 5 * time.Minute,
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
			t.logger.Error("panic in policy timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireLapsed(ctx)
}

func (t *Timer) expireLapsed(ctx context.Context) {
	lapsed, err := t.store.ListActiveExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list lapsed policies", "error", err)
		return
	}

	for _, p := range lapsed {
		if _, err := t.service.Expire(ctx, p.ID); err != nil {
			t.logger.Warn("failed to expire policy", "policyId", p.ID, "error", err)
		}
	}
}
