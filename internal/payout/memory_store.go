package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	payouts      map[string]*Payout
	transactions map[string]*Transaction
}

// NewMemoryStore creates a new in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payouts:      make(map[string]*Payout),
		transactions: make(map[string]*Transaction),
	}
}

func (m *MemoryStore) CreatePayout(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[p.ID] = clonePayout(p)
	return nil
}

func (m *MemoryStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayout(p), nil
}

func (m *MemoryStore) UpdatePayout(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[p.ID]; !ok {
		return ErrNotFound
	}
	m.payouts[p.ID] = clonePayout(p)
	return nil
}

func (m *MemoryStore) GetPayoutByTrigger(ctx context.Context, triggerID string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payouts {
		if p.TriggerID == triggerID {
			return clonePayout(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListPayouts(ctx context.Context, policyID string, status Status, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Payout
	for _, p := range m.payouts {
		if policyID != "" && p.PolicyID != policyID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, clonePayout(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *MemoryStore) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		return ErrNotFound
	}
	m.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, payoutID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, tx := range m.transactions {
		if tx.PayoutID == payoutID {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListRetryDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, tx := range m.transactions {
		if tx.Status == TxPendingExecution && tx.NextRetryAt != nil && tx.NextRetryAt.Before(before) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePayout(p *Payout) *Payout {
	c := *p
	c.Calculation.Adjustments = append([]Adjustment(nil), p.Calculation.Adjustments...)
	return &c
}

func cloneTransaction(tx *Transaction) *Transaction {
	c := *tx
	if tx.NextRetryAt != nil {
		t := *tx.NextRetryAt
		c.NextRetryAt = &t
	}
	if tx.FinalizedAt != nil {
		t := *tx.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}
