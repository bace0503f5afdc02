package service

import (
	"context"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var planTracer = otel.Tracer("service/plan")

// PlanService splits open invoice balances into installment plans.
type PlanService struct {
	plans    *repository.PaymentPlanRepository
	invoices *repository.InvoiceRepository
	bg       *Background
	logger   *zap.Logger
	now      func() time.Time
}

// NewPlanService creates the service.
func NewPlanService(plans *repository.PaymentPlanRepository, invoices *repository.InvoiceRepository, bg *Background, logger *zap.Logger) *PlanService {
	return &PlanService{
		plans:    plans,
		invoices: invoices,
		bg:       bg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create schedules the invoice's current balance. The first installment
// falls on StartDate, today when omitted.
func (s *PlanService) Create(ctx context.Context, invoiceID string, req *domain.CreatePlanRequest) (*domain.PaymentPlan, error) {
	ctx, span := planTracer.Start(ctx, "PlanService.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.Status.Collectible() {
		return nil, &domain.ErrConflict{Resource: "payment plan", Message: "invoice is " + string(inv.Status)}
	}
	balance := decimal.NewFromFloat(inv.BalanceDue)
	if !balance.IsPositive() {
		return nil, &domain.ErrConflict{Resource: "payment plan", Message: "invoice has no balance due"}
	}

	start := s.now()
	if req.StartDate != "" {
		start, _ = time.Parse(domain.DateLayout, req.StartDate)
	}
	plan, err := s.plans.Create(ctx, &domain.PaymentPlan{
		InvoiceID:    inv.ID,
		CustomerID:   inv.CustomerID,
		TotalAmount:  balance.InexactFloat64(),
		Installments: domain.BuildSchedule(balance, req.Installments, req.Frequency, start),
		Frequency:    req.Frequency,
		StartDate:    start.Format(domain.DateLayout),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment plan created",
		zap.String("plan_id", plan.PlanID),
		zap.String("invoice_id", inv.ID),
		zap.Int("installments", len(plan.Installments)),
	)
	s.bg.Emit(domain.Event{
		Source:     "payment",
		DetailType: domain.EventPaymentPlanCreated,
		Detail: map[string]any{
			"plan_id":      plan.PlanID,
			"invoice_id":   inv.ID,
			"customer_id":  inv.CustomerID,
			"total_amount": plan.TotalAmount,
			"installments": len(plan.Installments),
			"frequency":    plan.Frequency,
		},
		Resources: resource("invoice", inv.ID),
	})
	return plan, nil
}

func (s *PlanService) Get(ctx context.Context, id string) (*domain.PaymentPlan, error) {
	ctx, span := planTracer.Start(ctx, "PlanService.Get")
	defer span.End()
	return s.plans.GetByID(ctx, id)
}

func (s *PlanService) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.PaymentPlan], error) {
	ctx, span := planTracer.Start(ctx, "PlanService.ListByInvoice")
	defer span.End()
	return s.plans.ListByInvoice(ctx, invoiceID, page)
}
