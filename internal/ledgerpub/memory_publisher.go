package ledgerpub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
)

// MemoryPublisher is an in-process Publisher for development and tests.
// Confirmations grow with wall-clock time since publish, simulating a
// ledger that seals rounds at a fixed rate.
type MemoryPublisher struct {
	mu       sync.RWMutex
	messages map[string]publishedMessage

	// ConfirmationsPerSecond controls simulated finality speed.
	// Zero means every transaction is final immediately.
	ConfirmationsPerSecond int64
}

type publishedMessage struct {
	channel     string
	msg         Message
	publishedAt time.Time
}

// NewMemoryPublisher creates an in-memory ledger publisher with instant
// finality.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string]publishedMessage)}
}

func (m *MemoryPublisher) Publish(ctx context.Context, channel string, msg Message) (*Receipt, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	now := time.Now()
	txID := idgen.WithPrefix("tx_")

	m.mu.Lock()
	m.messages[txID] = publishedMessage{channel: channel, msg: msg, publishedAt: now}
	m.mu.Unlock()

	metrics.LedgerPublishesTotal.WithLabelValues(channel, "ok").Inc()
	return &Receipt{TransactionID: txID, ConsensusTimestamp: now}, nil
}

func (m *MemoryPublisher) Confirmations(ctx context.Context, transactionID string) (int64, error) {
	m.mu.RLock()
	pm, ok := m.messages[transactionID]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrUnknownTransaction
	}

	if m.ConfirmationsPerSecond <= 0 {
		return 1 << 30, nil
	}
	elapsed := time.Since(pm.publishedAt).Seconds()
	return int64(elapsed * float64(m.ConfirmationsPerSecond)), nil
}

// Published returns the messages published to a channel, oldest first by
// consensus timestamp. Test helper.
func (m *MemoryPublisher) Published(channel string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []publishedMessage
	for _, pm := range m.messages {
		if pm.channel == channel {
			matched = append(matched, pm)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].msg.Timestamp.Before(matched[j].msg.Timestamp)
	})

	out := make([]Message, len(matched))
	for i, pm := range matched {
		out[i] = pm.msg
	}
	return out
}
