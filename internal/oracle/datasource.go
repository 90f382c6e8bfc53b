package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/idgen"
)

var (
	ErrUnknownDataSource  = errors.New("oracle: unknown data source")
	ErrDataSourceInactive = errors.New("oracle: data source is not active")
)

// SourceStatus is a data source's availability state.
type SourceStatus string

const (
	SourceActive     SourceStatus = "active"
	SourceDeprecated SourceStatus = "deprecated"
)

// DataSource describes an external measurement feed an oracle reads
// from: provenance and SLA metadata. Sources are reference records:
// operators add them, oracle qualification consults them, nothing in
// the settlement path mutates them.
type DataSource struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Provider        string        `json:"provider"`
	Parameters      []string      `json:"parameters"`
	Regions         []string      `json:"regions"`
	UpdateFrequency time.Duration `json:"updateFrequency"`
	SLAUptime       float64       `json:"slaUptime"` // fraction in [0,1]
	Status          SourceStatus  `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// DataSourceStore persists data source records.
type DataSourceStore interface {
	CreateDataSource(ctx context.Context, ds *DataSource) error
	GetDataSource(ctx context.Context, id string) (*DataSource, error)
	ListDataSources(ctx context.Context, status SourceStatus, limit int) ([]*DataSource, error)
}

// DataSourceRequest contains the parameters for adding a data source.
type DataSourceRequest struct {
	Name            string        `json:"name" binding:"required"`
	Provider        string        `json:"provider" binding:"required"`
	Parameters      []string      `json:"parameters"`
	Regions         []string      `json:"regions"`
	UpdateFrequency time.Duration `json:"updateFrequency"`
	SLAUptime       float64       `json:"slaUptime"`
}

// AddDataSource records a measurement feed oracles may declare.
func (r *Registry) AddDataSource(ctx context.Context, req DataSourceRequest) (*DataSource, error) {
	if r.sources == nil {
		return nil, errors.New("oracle: no data source store configured")
	}

	now := time.Now()
	ds := &DataSource{
		ID:              idgen.WithPrefix("src_"),
		Name:            req.Name,
		Provider:        req.Provider,
		Parameters:      req.Parameters,
		Regions:         req.Regions,
		UpdateFrequency: req.UpdateFrequency,
		SLAUptime:       req.SLAUptime,
		Status:          SourceActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.sources.CreateDataSource(ctx, ds); err != nil {
		return nil, fmt.Errorf("failed to add data source: %w", err)
	}

	r.logger.Info("data source added", "sourceId", ds.ID, "name", ds.Name, "provider", ds.Provider)
	return ds, nil
}

// GetDataSource returns a data source by ID.
func (r *Registry) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	if r.sources == nil {
		return nil, ErrUnknownDataSource
	}
	return r.sources.GetDataSource(ctx, id)
}

// ListDataSources returns data sources, optionally filtered by status.
func (r *Registry) ListDataSources(ctx context.Context, status SourceStatus, limit int) ([]*DataSource, error) {
	if r.sources == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return r.sources.ListDataSources(ctx, status, limit)
}

// checkDataSources verifies that every declared feed exists and is
// active. Without a source store the declarations pass unchecked.
func (r *Registry) checkDataSources(ctx context.Context, ids []string) error {
	if r.sources == nil {
		return nil
	}
	for _, id := range ids {
		ds, err := r.sources.GetDataSource(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownDataSource, id)
		}
		if ds.Status != SourceActive {
			return fmt.Errorf("%w: %s is %s", ErrDataSourceInactive, id, ds.Status)
		}
	}
	return nil
}
