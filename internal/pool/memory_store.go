package pool

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu           sync.Mutex
	pools        map[string]*RiskPool
	reservations map[string][]*Reservation // poolID -> reservations
}

// NewMemoryStore creates a new in-memory pool store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:        make(map[string]*RiskPool),
		reservations: make(map[string][]*Reservation),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *RiskPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID] = clonePool(p)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*RiskPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePool(p), nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*RiskPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*RiskPool
	for _, p := range m.pools {
		out = append(out, clonePool(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, poolID, claimID string, amount int64) (*RiskPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.AvailableLiquidity < amount {
		return nil, ErrInsufficientLiquidity
	}

	p.AvailableLiquidity -= amount
	p.ReservedLiquidity += amount
	p.UpdatedAt = time.Now()
	m.reservations[poolID] = append(m.reservations[poolID], &Reservation{
		PoolID:    poolID,
		ClaimID:   claimID,
		Amount:    amount,
		CreatedAt: time.Now(),
	})
	return clonePool(p), nil
}

func (m *MemoryStore) Release(ctx context.Context, poolID, claimID string, amount int64, wasUsed bool) (*RiskPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ReservedLiquidity < amount {
		return nil, ErrInsufficientReserved
	}

	p.ReservedLiquidity -= amount
	if wasUsed {
		p.CurrentCapacity -= amount
	} else {
		p.AvailableLiquidity += amount
	}
	p.UpdatedAt = time.Now()

	kept := m.reservations[poolID][:0]
	removed := false
	for _, r := range m.reservations[poolID] {
		if !removed && r.ClaimID == claimID && r.Amount == amount {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	m.reservations[poolID] = kept

	return clonePool(p), nil
}

func (m *MemoryStore) Credit(ctx context.Context, poolID string, amount int64) (*RiskPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolID]
	if !ok {
		return nil, ErrNotFound
	}

	p.CurrentCapacity += amount
	p.AvailableLiquidity += amount
	p.Tier1 += amount
	p.UpdatedAt = time.Now()
	return clonePool(p), nil
}

func (m *MemoryStore) ListReservations(ctx context.Context, poolID string) ([]*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Reservation, 0, len(m.reservations[poolID]))
	for _, r := range m.reservations[poolID] {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func clonePool(p *RiskPool) *RiskPool {
	c := *p
	return &c
}
