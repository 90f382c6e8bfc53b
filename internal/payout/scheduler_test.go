package payout

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestSchedulerRetriesDueLegs(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, 100000, 1) // first publish fails, then recovers
	pol := rig.triggeredPolicy(t, 10000, 0, nil)

	pay, err := rig.orchestrator.Initiate(ctx, pol, "trg_1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if pay.Status != StatusInProgress {
		t.Fatalf("expected in_progress awaiting retry, got %s", pay.Status)
	}

	// Backoff is a millisecond in tests; wait until the retry is due.
	time.Sleep(10 * time.Millisecond)

	s := NewScheduler(rig.orchestrator, rig.store, time.Second, slog.Default())
	s.runDue(ctx)

	final, _ := rig.store.GetPayout(ctx, pay.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed after scheduled retry, got %s", final.Status)
	}

	// Nothing left to retry.
	due, _ := rig.store.ListRetryDue(ctx, time.Now().Add(time.Hour), 100)
	if len(due) != 0 {
		t.Fatalf("expected no due legs, got %d", len(due))
	}
}

func TestSchedulerStartStop(t *testing.T) {
	rig := newTestRig(t, 100000, 0)
	s := NewScheduler(rig.orchestrator, rig.store, 5*time.Millisecond, slog.Default())

	go s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for !s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Running() {
		t.Fatal("scheduler did not start")
	}

	s.Stop()
	deadline = time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Running() {
		t.Fatal("scheduler did not stop")
	}
}
