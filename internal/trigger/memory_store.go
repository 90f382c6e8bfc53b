package trigger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	triggers map[string]*Trigger
}

// NewMemoryStore creates a new in-memory trigger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{triggers: make(map[string]*Trigger)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = cloneTrigger(t)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrigger(t), nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[t.ID]; !ok {
		return ErrNotFound
	}
	m.triggers[t.ID] = cloneTrigger(t)
	return nil
}

func (m *MemoryStore) GetByAttestation(ctx context.Context, attestationID string) (*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.triggers {
		if t.AttestationID == attestationID {
			return cloneTrigger(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindPending(ctx context.Context, policyID, parameter string) (*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.triggers {
		if t.PolicyID == policyID && t.Event.Parameter == parameter && t.Status == StatusPending {
			return cloneTrigger(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context, policyID string, status Status, limit int) ([]*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Trigger
	for _, t := range m.triggers {
		if policyID != "" && t.PolicyID != policyID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, cloneTrigger(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Trigger
	for _, t := range m.triggers {
		if t.Status == StatusPending && t.ExpiresAt.Before(before) {
			out = append(out, cloneTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTrigger(t *Trigger) *Trigger {
	c := *t
	if t.ConditionMet != nil {
		cm := *t.ConditionMet
		c.ConditionMet = &cm
	}
	return &c
}
