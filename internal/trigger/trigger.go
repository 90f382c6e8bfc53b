// Package trigger handles reported parametric events.
//
// A reported event becomes a pending trigger tied to an attestation
// round. Once the oracle committee confirms the measurement, the
// confirmed value is evaluated against the policy's conditions and the
// trigger lands in validated or rejected. Validated triggers feed the
// payout orchestrator and are marked processed when settlement starts.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
)

var (
	ErrNotFound       = errors.New("trigger: not found")
	ErrDuplicate      = errors.New("trigger: a pending trigger already exists for this policy and parameter")
	ErrPolicyInactive = errors.New("trigger: policy is not active")
	ErrInvalidStatus  = errors.New("trigger: invalid status for this operation")
)

// Status represents a trigger's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusRejected  Status = "rejected"
	StatusProcessed Status = "processed"
	StatusExpired   Status = "expired"
)

// EventData is the reported observation under evaluation.
type EventData struct {
	Parameter   string    `json:"parameter"`
	Value       float64   `json:"value"` // claimed at report time, replaced by the consensus value
	Unit        string    `json:"unit,omitempty"`
	Location    string    `json:"location"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

// Trigger is one reported event against one policy.
type Trigger struct {
	ID            string                   `json:"id"`
	PolicyID      string                   `json:"policyId"`
	Event         EventData                `json:"event"`
	AttestationID string                   `json:"attestationId,omitempty"`
	ConditionMet  *policy.TriggerCondition `json:"conditionMet,omitempty"`
	Status        Status                   `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	ExpiresAt     time.Time                `json:"expiresAt"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Store persists triggers.
type Store interface {
	Create(ctx context.Context, t *Trigger) error
	Get(ctx context.Context, id string) (*Trigger, error)
	Update(ctx context.Context, t *Trigger) error
	GetByAttestation(ctx context.Context, attestationID string) (*Trigger, error)
	FindPending(ctx context.Context, policyID, parameter string) (*Trigger, error)
	List(ctx context.Context, policyID string, status Status, limit int) ([]*Trigger, error)
	ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Trigger, error)
}
