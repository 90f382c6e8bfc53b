package payout

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Scheduler re-executes payout legs whose retry backoff has elapsed.
type Scheduler struct {
	orchestrator *Orchestrator
	store        Store
	interval     time.Duration
	logger       *slog.Logger
	stop         chan struct{}
	running      atomic.Bool
}

// NewScheduler creates a payout retry scheduler sweeping at the given
// interval. A non-positive interval falls back to 10s.
func NewScheduler(orchestrator *Orchestrator, store Store, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		orchestrator: orchestrator,
		store:        store,
		interval:     interval,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Running reports whether the scheduler loop is actively running.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins the retry loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeRun(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in payout scheduler", "panic", fmt.Sprint(r))
		}
	}()
	s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) {
	due, err := s.store.ListRetryDue(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Warn("failed to list due retries", "error", err)
		return
	}

	for _, tx := range due {
		s.logger.Info("retrying payout leg",
			"txId", tx.ID, "payoutId", tx.PayoutID, "attempt", tx.CurrentRetry)
		s.orchestrator.Execute(ctx, tx.ID)
	}
}
