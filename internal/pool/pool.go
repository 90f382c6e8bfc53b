// Package pool implements the capital pools that fund payouts.
//
// Each pool tracks available versus reserved liquidity across three
// liquidation tiers. All mutations go through the Ledger service, which
// enforces the two pool invariants:
//
//	availableLiquidity >= 0
//	availableLiquidity + reservedLiquidity <= currentCapacity
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
)

var (
	ErrNotFound              = errors.New("pool: not found")
	ErrInsufficientLiquidity = errors.New("pool: insufficient_liquidity")
	ErrInsufficientReserved  = errors.New("pool: release exceeds reserved liquidity")
	ErrInvalidAmount         = errors.New("pool: amount must be positive")
)

// Liquidation time estimates per tier coverage, in days.
const (
	LiquidationDaysTier1  = 0
	LiquidationDaysTier2  = 3
	LiquidationDaysTier3  = 15
	LiquidationDaysBeyond = 30
)

// RiskPool is a capital pool backing a set of policies. Amounts are in
// whole currency units.
type RiskPool struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Currency           string    `json:"currency"`
	CurrentCapacity    int64     `json:"currentCapacity"`
	AvailableLiquidity int64     `json:"availableLiquidity"`
	ReservedLiquidity  int64     `json:"reservedLiquidity"`
	Tier1              int64     `json:"tier1"` // liquid immediately
	Tier2              int64     `json:"tier2"` // liquid within 7 days
	Tier3              int64     `json:"tier3"` // liquid within 30 days
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Reservation is liquidity earmarked for one claim.
type Reservation struct {
	PoolID    string    `json:"poolId"`
	ClaimID   string    `json:"claimId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// SufficiencyReport answers whether a pool can fund an amount and how
// quickly the capital could be liquidated.
type SufficiencyReport struct {
	HasSufficientLiquidity   bool  `json:"hasSufficientLiquidity"`
	HasImmediateLiquidity    bool  `json:"hasImmediateLiquidity"`
	LiquidityGap             int64 `json:"liquidityGap"`
	EstimatedLiquidationDays int   `json:"estimatedLiquidationDays"`
}

// Store persists pools and reservations. Reserve, Release and Credit
// must each be atomic with respect to concurrent callers.
type Store interface {
	Create(ctx context.Context, p *RiskPool) error
	Get(ctx context.Context, id string) (*RiskPool, error)
	List(ctx context.Context, limit int) ([]*RiskPool, error)
	Reserve(ctx context.Context, poolID, claimID string, amount int64) (*RiskPool, error)
	Release(ctx context.Context, poolID, claimID string, amount int64, wasUsed bool) (*RiskPool, error)
	Credit(ctx context.Context, poolID string, amount int64) (*RiskPool, error)
	ListReservations(ctx context.Context, poolID string) ([]*Reservation, error)
}

// CreateRequest contains the parameters for creating a pool.
type CreateRequest struct {
	Name     string `json:"name" binding:"required"`
	Currency string `json:"currency"`
	Capital  int64  `json:"capital"`
	Tier1    int64  `json:"tier1"`
	Tier2    int64  `json:"tier2"`
	Tier3    int64  `json:"tier3"`
}

// Ledger implements pool bookkeeping on top of a Store.
type Ledger struct {
	store     Store
	publisher ledgerpub.Publisher
	logger    *slog.Logger
}

// NewLedger creates a pool ledger.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (l *Ledger) WithLogger(lg *slog.Logger) *Ledger {
	l.logger = lg
	return l
}

// WithPublisher enables pool-event publication to the ledger.
func (l *Ledger) WithPublisher(p ledgerpub.Publisher) *Ledger {
	l.publisher = p
	return l
}

// Create registers a new pool. The initial capital starts fully
// available; the tier split defaults to all Tier-1 when unspecified.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*RiskPool, error) {
	if req.Capital < 0 {
		return nil, ErrInvalidAmount
	}

	tier1, tier2, tier3 := req.Tier1, req.Tier2, req.Tier3
	if tier1+tier2+tier3 == 0 {
		tier1 = req.Capital
	}
	if tier1+tier2+tier3 != req.Capital {
		return nil, fmt.Errorf("pool: tier split %d does not sum to capital %d", tier1+tier2+tier3, req.Capital)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	p := &RiskPool{
		ID:                 idgen.WithPrefix("pool_"),
		Name:               req.Name,
		Currency:           currency,
		CurrentCapacity:    req.Capital,
		AvailableLiquidity: req.Capital,
		Tier1:              tier1,
		Tier2:              tier2,
		Tier3:              tier3,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	l.observe(p)
	l.logger.Info("risk pool created", "poolId", p.ID, "capital", req.Capital)
	return p, nil
}

// Get returns a pool by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*RiskPool, error) {
	return l.store.Get(ctx, id)
}

// List returns pools.
func (l *Ledger) List(ctx context.Context, limit int) ([]*RiskPool, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.List(ctx, limit)
}

// CheckSufficiency reports whether the pool can fund amount and the
// estimated days to liquidate enough capital.
func (l *Ledger) CheckSufficiency(ctx context.Context, poolID string, amount int64) (*SufficiencyReport, error) {
	p, err := l.store.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}

	report := &SufficiencyReport{
		HasSufficientLiquidity: p.AvailableLiquidity >= amount,
		HasImmediateLiquidity:  p.Tier1 >= amount,
	}
	if !report.HasSufficientLiquidity {
		report.LiquidityGap = amount - p.AvailableLiquidity
	}

	switch {
	case p.Tier1 >= amount:
		report.EstimatedLiquidationDays = LiquidationDaysTier1
	case p.Tier1+p.Tier2 >= amount:
		report.EstimatedLiquidationDays = LiquidationDaysTier2
	case p.Tier1+p.Tier2+p.Tier3 >= amount:
		report.EstimatedLiquidationDays = LiquidationDaysTier3
	default:
		report.EstimatedLiquidationDays = LiquidationDaysBeyond
	}
	return report, nil
}

// Reserve atomically moves amount from available to reserved liquidity
// on behalf of a claim. Fails with ErrInsufficientLiquidity rather than
// letting available go negative.
func (l *Ledger) Reserve(ctx context.Context, poolID, claimID string, amount int64) (*RiskPool, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	p, err := l.store.Reserve(ctx, poolID, claimID, amount)
	if err != nil {
		return nil, err
	}

	l.observe(p)
	l.logger.Info("liquidity reserved",
		"poolId", poolID, "claimId", claimID, "amount", amount,
		"available", p.AvailableLiquidity, "reserved", p.ReservedLiquidity)
	return p, nil
}

// Release moves amount out of reserved liquidity. If the reservation was
// not used, the amount returns to available; if it was paid out, the
// pool's capacity shrinks with it.
func (l *Ledger) Release(ctx context.Context, poolID, claimID string, amount int64, wasUsed bool) (*RiskPool, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	p, err := l.store.Release(ctx, poolID, claimID, amount, wasUsed)
	if err != nil {
		return nil, err
	}

	l.observe(p)
	l.logger.Info("liquidity released",
		"poolId", poolID, "claimId", claimID, "amount", amount, "wasUsed", wasUsed,
		"available", p.AvailableLiquidity, "reserved", p.ReservedLiquidity)
	return p, nil
}

// Credit adds fresh capital to the pool, typically a premium share. The
// new capital lands in Tier-1.
func (l *Ledger) Credit(ctx context.Context, poolID string, amount int64) (*RiskPool, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	p, err := l.store.Credit(ctx, poolID, amount)
	if err != nil {
		return nil, err
	}

	l.observe(p)
	l.publishPoolEvent(ctx, p, "pool_credited", amount)
	return p, nil
}

func (l *Ledger) observe(p *RiskPool) {
	metrics.PoolAvailableLiquidity.WithLabelValues(p.ID).Set(float64(p.AvailableLiquidity))
	metrics.PoolReservedLiquidity.WithLabelValues(p.ID).Set(float64(p.ReservedLiquidity))
}

func (l *Ledger) publishPoolEvent(ctx context.Context, p *RiskPool, event string, amount int64) {
	if l.publisher == nil {
		return
	}
	_, err := l.publisher.Publish(ctx, ledgerpub.ChannelPoolEvents, ledgerpub.Message{
		Type: event,
		Payload: map[string]interface{}{
			"poolId":    p.ID,
			"amount":    amount,
			"available": p.AvailableLiquidity,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		l.logger.Warn("failed to publish pool event", "poolId", p.ID, "event", event, "error", err)
	}
}
