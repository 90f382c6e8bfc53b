package attestation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. For development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[string]*Attestation
}

// NewMemoryStore creates a new in-memory attestation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rounds: make(map[string]*Attestation)}
}

func (m *MemoryStore) Create(ctx context.Context, a *Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[a.ID] = cloneAttestation(a)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAttestation(a), nil
}

func (m *MemoryStore) Update(ctx context.Context, a *Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[a.ID]; !ok {
		return ErrNotFound
	}
	m.rounds[a.ID] = cloneAttestation(a)
	return nil
}

func (m *MemoryStore) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Attestation
	for _, a := range m.rounds {
		if a.Status == StatusPending && a.ExpiresAt.Before(before) {
			out = append(out, cloneAttestation(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneAttestation(a *Attestation) *Attestation {
	c := *a
	c.Signatures = append([]Signature(nil), a.Signatures...)
	if a.Result != nil {
		r := *a.Result
		r.Outliers = append([]string(nil), a.Result.Outliers...)
		c.Result = &r
	}
	return &c
}
