package policy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*Policy)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = clonePolicy(p)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePolicy(p), nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return ErrNotFound
	}
	m.policies[p.ID] = clonePolicy(p)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, status Status, holderID string, limit int) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Policy
	for _, p := range m.policies {
		if status != "" && p.Status != status {
			continue
		}
		if holderID != "" && p.HolderID != holderID {
			continue
		}
		out = append(out, clonePolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListActiveExpired(ctx context.Context, before time.Time, limit int) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Policy
	for _, p := range m.policies {
		if (p.Status == StatusActive || p.Status == StatusDraft) && p.EffectiveUntil.Before(before) {
			out = append(out, clonePolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveUntil.Before(out[j].EffectiveUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePolicy(p *Policy) *Policy {
	c := *p
	c.TriggerConditions = append([]TriggerCondition(nil), p.TriggerConditions...)
	if p.Reinsurance != nil {
		r := *p.Reinsurance
		c.Reinsurance = &r
	}
	return &c
}
