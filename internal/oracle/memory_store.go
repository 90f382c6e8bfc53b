package oracle

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory oracle and data source store for
// demo/development mode.
type MemoryStore struct {
	oracles map[string]*Oracle
	sources map[string]*DataSource
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory oracle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		oracles: make(map[string]*Oracle),
		sources: make(map[string]*DataSource),
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Oracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneOracle(o)
	m.oracles[o.ID] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Oracle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.oracles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOracle(o), nil
}

func (m *MemoryStore) Update(ctx context.Context, o *Oracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.oracles[o.ID]; !ok {
		return ErrNotFound
	}
	m.oracles[o.ID] = cloneOracle(o)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, status Status, limit int) ([]*Oracle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Oracle
	for _, o := range m.oracles {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, cloneOracle(o))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateDataSource(ctx context.Context, ds *DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[ds.ID] = cloneDataSource(ds)
	return nil
}

func (m *MemoryStore) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.sources[id]
	if !ok {
		return nil, ErrUnknownDataSource
	}
	return cloneDataSource(ds), nil
}

func (m *MemoryStore) ListDataSources(ctx context.Context, status SourceStatus, limit int) ([]*DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DataSource
	for _, ds := range m.sources {
		if status != "" && ds.Status != status {
			continue
		}
		out = append(out, cloneDataSource(ds))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOracle(o *Oracle) *Oracle {
	cp := *o
	cp.Parameters = append([]string(nil), o.Parameters...)
	cp.Regions = append([]string(nil), o.Regions...)
	cp.DataSourceIDs = append([]string(nil), o.DataSourceIDs...)
	cp.Reputation.SlashingHistory = append([]SlashingEvent(nil), o.Reputation.SlashingHistory...)
	return &cp
}

func cloneDataSource(ds *DataSource) *DataSource {
	cp := *ds
	cp.Parameters = append([]string(nil), ds.Parameters...)
	cp.Regions = append([]string(nil), ds.Regions...)
	return &cp
}
