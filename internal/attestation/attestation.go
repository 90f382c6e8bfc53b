// Package attestation implements oracle data attestation rounds.
//
// Flow:
//  1. A trigger check opens an attestation for a (parameter, location, window)
//  2. Active oracles submit signed values
//  3. Once the signature quorum is met, the engine computes a consensus
//     value, flags outliers, and checks the weighted agreement threshold;
//     each later submission re-evaluates the result
//  4. The round closes as consensus_reached or disputed when the whole
//     active panel has signed, or at expiry with a quorum already met;
//     rounds that never reach quorum expire after 24h
package attestation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("attestation: not found")
	ErrRoundClosed    = errors.New("attestation: round is no longer accepting submissions")
	ErrRoundExpired   = errors.New("attestation: round has expired")
	ErrOracleInactive = errors.New("attestation: oracle is not active")
)

// Status represents the state of an attestation round.
type Status string

const (
	StatusPending          Status = "pending"
	StatusConsensusReached Status = "consensus_reached"
	StatusDisputed         Status = "disputed"
	StatusRejected         Status = "rejected"
	StatusExpired          Status = "expired"
)

// IsTerminal returns true if the round is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConsensusReached, StatusDisputed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// DataRequest describes what measurement the round must confirm.
type DataRequest struct {
	Parameter        string    `json:"parameter"`
	Location         string    `json:"location"`
	WindowStart      time.Time `json:"windowStart"`
	WindowEnd        time.Time `json:"windowEnd"`
	RequiredAccuracy float64   `json:"requiredAccuracy,omitempty"`
}

// Signature is one oracle's submission to the round. Re-submission by the
// same oracle replaces its earlier entry rather than appending, so a single
// oracle can never inflate its share of the vote.
type Signature struct {
	OracleID  string    `json:"oracleId"`
	Signature string    `json:"signature"`
	Value     float64   `json:"value"`
	Weight    float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsensusResult summarizes the round's outcome.
type ConsensusResult struct {
	RequiredSignatures int      `json:"requiredSignatures"`
	ReceivedSignatures int      `json:"receivedSignatures"`
	Threshold          float64  `json:"threshold"`
	Reached            bool     `json:"reached"`
	FinalValue         float64  `json:"finalValue"`
	Confidence         float64  `json:"confidence"`
	Outliers           []string `json:"outliers,omitempty"` // oracle IDs
}

// Attestation is one consensus round for one data request. Panel is the
// size of the active oracle set when the round opened; the round stays
// open for late submissions until the whole panel has reported.
type Attestation struct {
	ID         string           `json:"id"`
	Request    DataRequest      `json:"request"`
	Signatures []Signature      `json:"signatures"`
	Panel      int              `json:"panel"`
	Status     Status           `json:"status"`
	Result     *ConsensusResult `json:"result,omitempty"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Store persists attestation rounds.
type Store interface {
	Create(ctx context.Context, a *Attestation) error
	Get(ctx context.Context, id string) (*Attestation, error)
	Update(ctx context.Context, a *Attestation) error
	ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Attestation, error)
}
