// Package ledgerpub publishes settlement events to the external ledger.
//
// The ledger itself is out of process; this package owns the channel
// names, the message envelope, and the Publisher abstraction the rest
// of the system writes through. Everything downstream of a publish is
// correlated by the returned transaction ID.
package ledgerpub

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownTransaction = errors.New("ledgerpub: unknown transaction")

// Ledger channels. Each event family gets its own channel so consumers
// can subscribe selectively.
const (
	ChannelPolicyRegistry = "policy-registry"
	ChannelRules          = "rules"
	ChannelTriggers       = "triggers"
	ChannelPolicyStatus   = "policy-status"
	ChannelPayouts        = "payouts"
	ChannelPoolEvents     = "pool-events"
	ChannelCession        = "cession"
)

// Message types carried in the envelope.
const (
	TypePolicyRegistered = "policy_registered"
	TypePolicyStatusInit = "policy_status_init"
	TypeRuleCreated      = "rule_created"
	TypeTriggerValidated = "trigger_validated"
	TypePayoutExecuted   = "payout_executed"
	TypeStopLossBreached = "stop_loss_breached"
	TypeCessionRequested = "cession_requested"
	TypeCessionFunded    = "cession_funded"
)

// Message is the envelope written to a ledger channel. Payload carries
// the event-specific fields; Type discriminates them.
type Message struct {
	Type      string                 `json:"type"`
	PolicyID  string                 `json:"policyId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Receipt identifies a successfully published message on the ledger.
type Receipt struct {
	TransactionID      string    `json:"transactionId"`
	ConsensusTimestamp time.Time `json:"consensusTimestamp"`
}

// Publisher is the single write surface to the ledger. Implementations
// must be safe for concurrent use.
type Publisher interface {
	// Publish submits a message to a channel and returns its receipt.
	Publish(ctx context.Context, channel string, msg Message) (*Receipt, error)
	// Confirmations reports how many consensus rounds have sealed the
	// transaction since it was published.
	Confirmations(ctx context.Context, transactionID string) (int64, error)
}
