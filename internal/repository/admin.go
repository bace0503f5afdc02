package repository

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

// AdminRepository exposes whole-table reads. Every call is a scan.
type AdminRepository struct {
	base
}

// NewAdminRepository creates an AdminRepository on table.
func NewAdminRepository(store dynamo.Store, table string, logger *zap.Logger) *AdminRepository {
	return &AdminRepository{base: newBase(store, table, logger)}
}

// Entities returns raw items of one entity type, index attributes included.
func (r *AdminRepository) Entities(ctx context.Context, t dynamo.EntityType, limit int) ([]map[string]any, error) {
	items, err := r.store.Scan(ctx, r.table, []dynamo.Filter{dynamo.Eq(dynamo.AttrEntityType, string(t))}, int32(limit))
	if err != nil {
		return nil, translate(err, "entities", string(t))
	}
	if items == nil {
		items = []map[string]any{}
	}
	return items, nil
}

// EntityCounts counts items per entity type.
func (r *AdminRepository) EntityCounts(ctx context.Context) (map[string]int, error) {
	items, err := r.store.Scan(ctx, r.table, nil, 0)
	if err != nil {
		return nil, translate(err, "entities", "all")
	}
	counts := make(map[string]int)
	for _, it := range items {
		counts[attrString(it, dynamo.AttrEntityType)]++
	}
	return counts, nil
}

// Stats summarizes the table for the admin endpoint.
func (r *AdminRepository) Stats(ctx context.Context, scanCalls float64) (*domain.StoreStats, error) {
	counts, err := r.EntityCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.StoreStats{Table: r.table, EntityCount: counts, ScanCalls: scanCalls}, nil
}
