package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var invoiceTracer = otel.Tracer("service/invoice")

// InvoiceService manages invoices and their status lifecycle.
type InvoiceService struct {
	invoices  *repository.InvoiceRepository
	customers *repository.CustomerRepository
	bg        *Background
	logger    *zap.Logger
	now       func() time.Time
}

// NewInvoiceService creates the service.
func NewInvoiceService(invoices *repository.InvoiceRepository, customers *repository.CustomerRepository, bg *Background, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		invoices:  invoices,
		customers: customers,
		bg:        bg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create issues a draft invoice for an existing, non-deleted customer.
// Payment terms default to the customer's.
func (s *InvoiceService) Create(ctx context.Context, createdBy string, req *domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	cust, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if cust.Status == domain.CustomerDeleted {
		return nil, &domain.ErrValidation{Field: "customer_id", Message: "customer is deleted"}
	}

	terms := cust.PaymentTerms
	if req.PaymentTerms != nil {
		terms = *req.PaymentTerms
	}
	inv := &domain.Invoice{
		CompanyID:       cust.CompanyID,
		CustomerID:      cust.ID,
		IssueDate:       req.IssueDate,
		DueDate:         req.DueDate,
		Currency:        req.Currency,
		TaxRate:         req.TaxRate,
		DiscountAmount:  req.DiscountAmount,
		TotalAmount:     req.TotalAmount,
		PaymentTerms:    terms,
		Notes:           req.Notes,
		TermsConditions: req.TermsConditions,
		CreatedBy:       createdBy,
		Items:           domain.ItemsFromInput(req.Items),
	}
	if inv.DueDate == "" && inv.IssueDate != "" {
		issued, _ := time.Parse(domain.DateLayout, inv.IssueDate)
		inv.DueDate = issued.AddDate(0, 0, terms).Format(domain.DateLayout)
	}

	out, err := s.invoices.Create(ctx, inv)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice_id", out.ID))
	s.logger.Info("invoice created",
		zap.String("invoice_id", out.ID),
		zap.String("customer_id", out.CustomerID),
		zap.Float64("total", out.TotalAmount),
	)
	s.bg.Emit(domain.Event{
		Source:     "invoice",
		DetailType: domain.EventInvoiceCreated,
		Detail: map[string]any{
			"invoice_id":     out.ID,
			"invoice_number": out.InvoiceNumber,
			"customer_id":    out.CustomerID,
			"company_id":     out.CompanyID,
			"total_amount":   out.TotalAmount,
			"currency":       out.Currency,
			"due_date":       out.DueDate,
		},
		Resources: resource("invoice", out.ID),
	})
	return out, nil
}

func (s *InvoiceService) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Get")
	defer span.End()
	return s.invoices.GetByID(ctx, id)
}

func (s *InvoiceService) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.ListByCustomer")
	defer span.End()
	return s.invoices.ListByCustomer(ctx, customerID, page)
}

// List returns invoices of a company or in a status. Exactly one filter is
// required.
func (s *InvoiceService) List(ctx context.Context, companyID string, status domain.InvoiceStatus, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.List")
	defer span.End()

	switch {
	case companyID != "":
		return s.invoices.ListByCompany(ctx, companyID, page)
	case status != "":
		if !status.Valid() {
			return domain.Page[domain.Invoice]{}, &domain.ErrValidation{Field: "status", Message: "unknown status " + string(status)}
		}
		return s.invoices.ListByStatus(ctx, status, page)
	}
	return domain.Page[domain.Invoice]{}, &domain.ErrValidation{Field: "company_id", Message: "company_id or status is required"}
}

// ListOverdue returns collectible invoices due before today.
func (s *InvoiceService) ListOverdue(ctx context.Context, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.ListOverdue")
	defer span.End()
	return s.invoices.ListOverdue(ctx, s.today(), page)
}

func (s *InvoiceService) Update(ctx context.Context, id string, req *domain.UpdateInvoiceRequest) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Update")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Empty() {
		return nil, &domain.ErrValidation{Field: "body", Message: "no fields to update"}
	}
	return s.invoices.Update(ctx, id, req)
}

// ChangeStatus applies a manual status change.
func (s *InvoiceService) ChangeStatus(ctx context.Context, id string, req *domain.StatusChangeRequest) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.ChangeStatus")
	defer span.End()
	span.SetAttributes(attribute.String("invoice_id", id), attribute.String("status", string(req.Status)))

	if !req.Status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown status " + string(req.Status)}
	}
	before, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.SetStatus(ctx, id, req.Status)
	if err != nil {
		return nil, err
	}
	s.statusChanged(inv, before.Status, req.Reason)
	return inv, nil
}

// Cancel soft-deletes the invoice by moving it to cancelled.
func (s *InvoiceService) Cancel(ctx context.Context, id string) error {
	_, err := s.ChangeStatus(ctx, id, &domain.StatusChangeRequest{Status: domain.InvoiceCancelled, Reason: "deleted"})
	return err
}

// RefreshOverdue persists the overdue status of every collectible invoice
// past its due date and publishes InvoiceOverdue for each one changed.
func (s *InvoiceService) RefreshOverdue(ctx context.Context) (int, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.RefreshOverdue")
	defer span.End()

	today := s.today()
	page := domain.PageRequest{Limit: domain.MaxPageSize}
	var events []domain.Event
	for {
		res, err := s.invoices.ListOverdue(ctx, today, page)
		if err != nil {
			return len(events), err
		}
		for _, inv := range res.Items {
			if !inv.Status.Collectible() {
				continue
			}
			updated, err := s.invoices.MarkOverdue(ctx, inv.ID, today)
			var invalid *domain.ErrInvalidTransition
			if errors.As(err, &invalid) {
				// already persisted as overdue
				continue
			}
			if err != nil {
				return len(events), err
			}
			events = append(events, overdueEvent(updated, today))
		}
		if res.NextToken == "" {
			break
		}
		page.NextToken = res.NextToken
	}

	span.SetAttributes(attribute.Int("refreshed", len(events)))
	if len(events) > 0 {
		s.logger.Info("overdue invoices refreshed", zap.Int("count", len(events)))
	}
	s.bg.EmitBatch(events)
	return len(events), nil
}

func (s *InvoiceService) statusChanged(inv *domain.Invoice, from domain.InvoiceStatus, reason string) {
	s.bg.Emit(domain.Event{
		Source:     "invoice",
		DetailType: domain.EventInvoiceStatusChanged,
		Detail: map[string]any{
			"invoice_id":  inv.ID,
			"customer_id": inv.CustomerID,
			"from":        from,
			"to":          inv.Status,
			"reason":      reason,
		},
		Resources: resource("invoice", inv.ID),
	})
}

func overdueEvent(inv *domain.Invoice, today string) domain.Event {
	days := 0
	if due, err := time.Parse(domain.DateLayout, inv.DueDate); err == nil {
		if now, err := time.Parse(domain.DateLayout, today); err == nil {
			days = int(now.Sub(due).Hours() / 24)
		}
	}
	return domain.Event{
		Source:     "invoice",
		DetailType: domain.EventInvoiceOverdue,
		Detail: map[string]any{
			"invoice_id":   inv.ID,
			"customer_id":  inv.CustomerID,
			"balance_due":  inv.BalanceDue,
			"due_date":     inv.DueDate,
			"days_overdue": days,
		},
		Resources: resource("invoice", inv.ID),
	}
}

func (s *InvoiceService) today() string {
	return s.now().Format(domain.DateLayout)
}
