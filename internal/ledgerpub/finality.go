package ledgerpub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FinalityCallback is invoked once a tracked transaction has enough
// confirmations. Called from the watcher's poll goroutine.
type FinalityCallback func(ctx context.Context, transactionID string)

// FinalityWatcher polls the publisher for confirmation counts and fires
// callbacks once tracked transactions cross the finality threshold.
type FinalityWatcher struct {
	publisher Publisher
	threshold int64
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	tracked map[string]FinalityCallback

	stop chan struct{}
	done chan struct{}
}

// NewFinalityWatcher creates a watcher that considers a transaction
// final after threshold confirmations.
func NewFinalityWatcher(publisher Publisher, threshold int64, interval time.Duration, logger *slog.Logger) *FinalityWatcher {
	return &FinalityWatcher{
		publisher: publisher,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		tracked:   make(map[string]FinalityCallback),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Track registers a transaction for finality monitoring. The callback
// fires exactly once, after the confirmation threshold is crossed.
func (w *FinalityWatcher) Track(transactionID string, cb FinalityCallback) {
	w.mu.Lock()
	w.tracked[transactionID] = cb
	w.mu.Unlock()

	w.logger.Info("tracking transaction for finality",
		"transactionId", transactionID, "threshold", w.threshold)
}

// Pending returns the number of transactions still awaiting finality.
func (w *FinalityWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tracked)
}

// Start begins the poll loop. Call in a goroutine.
func (w *FinalityWatcher) Start(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safePoll(ctx)
		}
	}
}

// Stop signals the watcher to stop and waits for the loop to exit.
func (w *FinalityWatcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *FinalityWatcher) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in finality watcher", "panic", fmt.Sprint(r))
		}
	}()
	w.poll(ctx)
}

func (w *FinalityWatcher) poll(ctx context.Context) {
	w.mu.Lock()
	ids := make([]string, 0, len(w.tracked))
	for id := range w.tracked {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		confs, err := w.publisher.Confirmations(ctx, id)
		if err != nil {
			w.logger.Warn("failed to query confirmations",
				"transactionId", id, "error", err)
			continue
		}
		if confs < w.threshold {
			continue
		}

		w.mu.Lock()
		cb, ok := w.tracked[id]
		delete(w.tracked, id)
		w.mu.Unlock()
		if !ok {
			continue
		}

		w.logger.Info("transaction final",
			"transactionId", id, "confirmations", confs)
		cb(ctx, id)
	}
}
