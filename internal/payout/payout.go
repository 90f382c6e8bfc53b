// Package payout settles validated triggers.
//
// A payout is split into legs: the pool leg, funded from reserved pool
// liquidity, and an optional cession leg funded by the reinsurer when
// the net payout exceeds the policy's retention limit. Each leg is a
// transaction with its own execution and retry lifecycle; the payout
// completes only when every leg has completed.
package payout

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("payout: not found")
	ErrDuplicate         = errors.New("payout: a payout already exists for this trigger")
	ErrInvalidTransition = errors.New("payout: invalid transaction transition")
	ErrInvalidStatus     = errors.New("payout: invalid status for this operation")
)

// Status of the payout as a whole.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDisputed   Status = "disputed"
	StatusCancelled  Status = "cancelled"
)

// statusTransitions is the payout state machine. A completed settlement
// may still be disputed after the fact; cancellation is only possible
// before any money moves.
var statusTransitions = map[Status][]Status{
	StatusInitiated:  {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusDisputed, StatusCancelled},
	StatusCompleted:  {StatusDisputed},
}

// CanTransition reports whether from -> to is a legal payout move.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TxStatus is one transaction leg's state.
type TxStatus string

const (
	TxInitiated         TxStatus = "initiated"
	TxLiquidityReserved TxStatus = "liquidity_reserved"
	TxPendingExecution  TxStatus = "pending_execution"
	TxExecuting         TxStatus = "executing"
	TxCompleted         TxStatus = "completed"
	TxFailed            TxStatus = "failed"
	TxDisputed          TxStatus = "disputed"
	TxCancelled         TxStatus = "cancelled"
)

// txTransitions is the transaction state machine. Failed retries loop
// executing -> pending_execution until the retry budget runs out.
var txTransitions = map[TxStatus][]TxStatus{
	TxInitiated:         {TxLiquidityReserved, TxPendingExecution, TxFailed, TxCancelled},
	TxLiquidityReserved: {TxPendingExecution, TxFailed, TxCancelled},
	TxPendingExecution:  {TxExecuting, TxFailed, TxCancelled},
	TxExecuting:         {TxCompleted, TxPendingExecution, TxFailed, TxDisputed},
	TxCompleted:         {TxDisputed},
}

// CanTransitionTx reports whether from -> to is a legal transaction move.
func CanTransitionTx(from, to TxStatus) bool {
	for _, s := range txTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Source identifies which capital funds a leg.
type Source string

const (
	SourcePool    Source = "pool"
	SourceCession Source = "cession"
)

// Transaction is one execution leg of a payout.
type Transaction struct {
	ID            string     `json:"id"`
	PayoutID      string     `json:"payoutId"`
	Source        Source     `json:"source"`
	Amount        int64      `json:"amount"`
	Status        TxStatus   `json:"status"`
	CurrentRetry  int        `json:"currentRetry"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	LedgerTxID    string     `json:"ledgerTxId,omitempty"`
	FinalizedAt   *time.Time `json:"finalizedAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Payout is the settlement of one validated trigger.
type Payout struct {
	ID          string      `json:"id"`
	PolicyID    string      `json:"policyId"`
	TriggerID   string      `json:"triggerId"`
	PoolID      string      `json:"poolId"`
	Calculation Calculation `json:"calculation"`
	Status      Status      `json:"status"`
	CessionID   string      `json:"cessionId,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Store persists payouts and their transaction legs.
type Store interface {
	CreatePayout(ctx context.Context, p *Payout) error
	GetPayout(ctx context.Context, id string) (*Payout, error)
	UpdatePayout(ctx context.Context, p *Payout) error
	GetPayoutByTrigger(ctx context.Context, triggerID string) (*Payout, error)
	ListPayouts(ctx context.Context, policyID string, status Status, limit int) ([]*Payout, error)

	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, payoutID string) ([]*Transaction, error)
	ListRetryDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}
