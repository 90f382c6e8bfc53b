package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventConsensusReached, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventPayoutLeg, EventPolicyPaidOut},
	}}

	legEvent := &Event{Type: EventPayoutLeg}
	paidEvent := &Event{Type: EventPolicyPaidOut}
	consensusEvent := &Event{Type: EventConsensusReached}

	if !h.shouldSend(client, legEvent) {
		t.Error("Should receive payout_leg events")
	}
	if !h.shouldSend(client, paidEvent) {
		t.Error("Should receive policy_paid_out events")
	}
	if h.shouldSend(client, consensusEvent) {
		t.Error("Should NOT receive consensus_reached events")
	}
}

func TestShouldSend_PolicyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		PolicyIDs: []string{"pol_1"},
	}}

	matching := &Event{
		Type: EventPayoutLeg,
		Data: map[string]interface{}{"policyId": "pol_1", "amount": 80000.0},
	}
	other := &Event{
		Type: EventPayoutLeg,
		Data: map[string]interface{}{"policyId": "pol_2", "amount": 80000.0},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should receive events for watched policy")
	}
	if h.shouldSend(client, other) {
		t.Error("Should NOT receive events for other policies")
	}
}

func TestShouldSend_MinAmount(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventPayoutLeg},
		MinAmount:  50000,
	}}

	big := &Event{
		Type: EventPayoutLeg,
		Data: map[string]interface{}{"policyId": "pol_1", "amount": 80000.0},
	}
	small := &Event{
		Type: EventPayoutLeg,
		Data: map[string]interface{}{"policyId": "pol_1", "amount": 100.0},
	}

	if !h.shouldSend(client, big) {
		t.Error("Should receive payout legs above the threshold")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive payout legs below the threshold")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle
// ---------------------------------------------------------------------------

func TestHubRunAndShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	go h.Run(ctx)

	h.BroadcastEvent(EventConsensusReached, map[string]interface{}{
		"attestationId": "att_1",
		"finalValue":    35.1,
	})

	// Give the hub loop a moment to drain the broadcast channel.
	time.Sleep(20 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("expected 1 total event, got %v", stats["totalEvents"])
	}

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not shut down")
	}
}

func TestBroadcastDoesNotBlockWhenFull(t *testing.T) {
	h := testHub()
	// No Run loop: fill the channel and confirm Broadcast drops instead of blocking.
	for i := 0; i < 300; i++ {
		h.Broadcast(&Event{Type: EventPayoutLeg})
	}
}
