package cession

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	cessions map[string]*Cession
}

// NewMemoryStore creates a new in-memory cession store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cessions: make(map[string]*Cession)}
}

func (m *MemoryStore) Create(ctx context.Context, c *Cession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cessions[c.ID] = clone(c)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Cession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Cession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cessions[c.ID]; !ok {
		return ErrNotFound
	}
	m.cessions[c.ID] = clone(c)
	return nil
}

func (m *MemoryStore) GetByPayout(ctx context.Context, payoutID string) (*Cession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cessions {
		if c.PayoutID == payoutID {
			return clone(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context, status Status, limit int) ([]*Cession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Cession
	for _, c := range m.cessions {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(c *Cession) *Cession {
	cp := *c
	if c.FundedAt != nil {
		t := *c.FundedAt
		cp.FundedAt = &t
	}
	return &cp
}
