// Package cession tracks reinsurance funding requests. When a payout
// exceeds a policy's retention limit, the excess is ceded to the
// reinsurer: a cession request is raised, the reinsurer wires the funds,
// and the waiting payout leg resumes.
package cession

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a cession does not exist.
	ErrNotFound = errors.New("cession: not_found")

	// ErrInvalidStatus is returned on an illegal status transition,
	// such as funding an already-declined cession.
	ErrInvalidStatus = errors.New("cession: invalid_status")

	// ErrInvalidAmount is returned for non-positive cession amounts.
	ErrInvalidAmount = errors.New("cession: invalid_amount")
)

// Status is the lifecycle state of a cession request.
type Status string

const (
	// StatusRequested means the reinsurer has been asked for funds.
	StatusRequested Status = "requested"
	// StatusFunded means the reinsurer wired the requested amount.
	StatusFunded Status = "funded"
	// StatusDeclined means the reinsurer refused the request.
	StatusDeclined Status = "declined"
)

// IsTerminal reports whether a cession can still change state.
func (s Status) IsTerminal() bool {
	return s == StatusFunded || s == StatusDeclined
}

// Cession is one reinsurance funding request, tied to the payout whose
// excess it covers.
type Cession struct {
	ID          string     `json:"id"`
	PolicyID    string     `json:"policyId"`
	PayoutID    string     `json:"payoutId"`
	ReinsurerID string     `json:"reinsurerId"`
	Amount      int64      `json:"amount"`
	Status      Status     `json:"status"`
	LedgerTxID  string     `json:"ledgerTxId,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
	FundedAt    *time.Time `json:"fundedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Store persists cessions.
type Store interface {
	Create(ctx context.Context, c *Cession) error
	Get(ctx context.Context, id string) (*Cession, error)
	Update(ctx context.Context, c *Cession) error
	GetByPayout(ctx context.Context, payoutID string) (*Cession, error)
	List(ctx context.Context, status Status, limit int) ([]*Cession, error)
}
