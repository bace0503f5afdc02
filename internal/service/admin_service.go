package service

import (
	"context"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var adminTracer = otel.Tracer("service/admin")

// Pinger checks that a table is reachable.
type Pinger interface {
	Ping(ctx context.Context, table string) error
}

// AdminService serves the administrative and health endpoints.
type AdminService struct {
	admin    *repository.AdminRepository
	invoices *InvoiceService
	pinger   Pinger
	table    string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewAdminService creates the service.
func NewAdminService(admin *repository.AdminRepository, invoices *InvoiceService, pinger Pinger, table string, metrics *observability.Metrics, logger *zap.Logger) *AdminService {
	return &AdminService{admin: admin, invoices: invoices, pinger: pinger, table: table, metrics: metrics, logger: logger}
}

// Entities lists raw entities of one type. It scans the table.
func (s *AdminService) Entities(ctx context.Context, entityType string, limit int) ([]map[string]any, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.Entities")
	defer span.End()

	t := dynamo.EntityType(entityType)
	if !t.Valid() {
		return nil, &domain.ErrValidation{Field: "type", Message: "unknown entity type " + entityType}
	}
	return s.admin.Entities(ctx, t, limit)
}

// Stats counts entities by type. It scans the table.
func (s *AdminService) Stats(ctx context.Context) (*domain.StoreStats, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.Stats")
	defer span.End()
	return s.admin.Stats(ctx, s.metrics.ScanCount(s.table))
}

// RefreshOverdue persists the overdue status now.
func (s *AdminService) RefreshOverdue(ctx context.Context) (int, error) {
	return s.invoices.RefreshOverdue(ctx)
}

// Health pings the main table.
func (s *AdminService) Health(ctx context.Context) *domain.HealthStatus {
	ctx, span := adminTracer.Start(ctx, "AdminService.Health")
	defer span.End()

	start := time.Now()
	svc := domain.ServiceHealth{Name: "store", Status: "healthy"}
	if err := s.pinger.Ping(ctx, s.table); err != nil {
		svc.Status = "unhealthy"
		svc.Error = err.Error()
		s.logger.Warn("store health check failed", zap.Error(err))
	}
	svc.LatencyMs = time.Since(start).Milliseconds()
	svc.LastChecked = time.Now().UTC().Format(time.RFC3339)

	status := "healthy"
	if svc.Status != "healthy" {
		status = "unhealthy"
	}
	return &domain.HealthStatus{Status: status, Services: []domain.ServiceHealth{svc}}
}
