package ledgerpub

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryPublisherRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPublisher()

	receipt, err := p.Publish(ctx, ChannelPayouts, Message{
		Type:     TypePayoutExecuted,
		PolicyID: "pol_1",
		Payload:  map[string]interface{}{"amount": int64(80000)},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if receipt.TransactionID == "" {
		t.Fatal("expected a transaction ID")
	}
	if receipt.ConsensusTimestamp.IsZero() {
		t.Fatal("expected a consensus timestamp")
	}

	msgs := p.Published(ChannelPayouts)
	if len(msgs) != 1 || msgs[0].Type != TypePayoutExecuted {
		t.Fatalf("expected 1 payout message, got %v", msgs)
	}
	if len(p.Published(ChannelCession)) != 0 {
		t.Fatal("message leaked onto another channel")
	}
}

func TestMemoryPublisherConfirmations(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPublisher()

	receipt, _ := p.Publish(ctx, ChannelTriggers, Message{Type: TypeTriggerValidated})

	// Instant finality by default.
	confs, err := p.Confirmations(ctx, receipt.TransactionID)
	if err != nil {
		t.Fatalf("confirmations: %v", err)
	}
	if confs < 5000 {
		t.Fatalf("expected instant finality, got %d confirmations", confs)
	}

	if _, err := p.Confirmations(ctx, "tx_missing"); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("expected ErrUnknownTransaction, got %v", err)
	}
}

func TestFinalityWatcherFiresOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewMemoryPublisher()
	receipt, _ := p.Publish(ctx, ChannelPayouts, Message{Type: TypePayoutExecuted})

	w := NewFinalityWatcher(p, 5000, 5*time.Millisecond, slog.Default())

	var fired atomic.Int32
	w.Track(receipt.TransactionID, func(ctx context.Context, txID string) {
		if txID != receipt.TransactionID {
			t.Errorf("callback got wrong tx: %s", txID)
		}
		fired.Add(1)
	})

	go w.Start(ctx)
	defer w.Stop()

	deadline := time.After(time.Second)
	for w.Pending() > 0 {
		select {
		case <-deadline:
			t.Fatal("transaction never reached finality")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Give the poll loop a couple more ticks; the callback must not refire.
	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected callback to fire exactly once, fired %d times", got)
	}
}

func TestFinalityWatcherHoldsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPublisher()
	p.ConfirmationsPerSecond = 1 // far too slow to reach 5000 in this test

	receipt, _ := p.Publish(ctx, ChannelPayouts, Message{Type: TypePayoutExecuted})

	w := NewFinalityWatcher(p, 5000, time.Millisecond, slog.Default())
	w.Track(receipt.TransactionID, func(ctx context.Context, txID string) {
		t.Error("callback fired below threshold")
	})

	w.poll(ctx)
	if w.Pending() != 1 {
		t.Fatalf("expected transaction still pending, got %d tracked", w.Pending())
	}
}
