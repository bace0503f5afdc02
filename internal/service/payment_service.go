package service

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var paymentTracer = otel.Tracer("service/payment")

// PaymentService records payments against invoices.
type PaymentService struct {
	payments *repository.PaymentRepository
	invoices *repository.InvoiceRepository
	bg       *Background
	logger   *zap.Logger
}

// NewPaymentService creates the service.
func NewPaymentService(payments *repository.PaymentRepository, invoices *repository.InvoiceRepository, bg *Background, logger *zap.Logger) *PaymentService {
	return &PaymentService{payments: payments, invoices: invoices, bg: bg, logger: logger}
}

// Record stores the payment and applies it to the invoice. The invoice is
// read by primary key so the state check uses the latest stored values.
func (s *PaymentService) Record(ctx context.Context, invoiceID string, req *domain.RecordPaymentRequest) (*domain.PaymentOutcome, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.Record")
	defer span.End()
	span.SetAttributes(attribute.String("invoice_id", invoiceID), attribute.Float64("amount", req.Amount))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	amount := decimal.NewFromFloat(req.Amount)
	_, _, next := domain.ApplyPayment(decimal.NewFromFloat(inv.TotalAmount), decimal.NewFromFloat(inv.AmountPaid), amount)
	if !domain.CanTransition(inv.Status, next) {
		return nil, &domain.ErrInvalidTransition{From: inv.Status, To: next}
	}

	currency := req.Currency
	if currency == "" {
		currency = inv.Currency
	}
	p, err := s.payments.Create(ctx, &domain.Payment{
		InvoiceID:          inv.ID,
		CustomerID:         inv.CustomerID,
		CompanyID:          inv.CompanyID,
		Amount:             req.Amount,
		Currency:           currency,
		PaymentDate:        req.PaymentDate,
		PaymentMethod:      req.PaymentMethod,
		ReferenceNumber:    req.ReferenceNumber,
		ConfirmationNumber: req.ConfirmationNumber,
		ProcessingFee:      req.ProcessingFee,
		Notes:              req.Notes,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.invoices.ApplyPayment(ctx, inv.ID, amount)
	if err != nil {
		s.logger.Error("payment stored but not applied to invoice",
			zap.String("payment_id", p.ID),
			zap.String("invoice_id", inv.ID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", p.ID),
		zap.String("invoice_id", inv.ID),
		zap.Float64("amount", p.Amount),
		zap.String("invoice_status", string(updated.Status)),
	)
	s.bg.Emit(domain.Event{
		Source:     "payment",
		DetailType: domain.EventPaymentReceived,
		Detail: map[string]any{
			"payment_id":     p.ID,
			"transaction_id": p.TransactionID,
			"invoice_id":     inv.ID,
			"customer_id":    inv.CustomerID,
			"amount":         p.Amount,
			"currency":       p.Currency,
			"balance_due":    updated.BalanceDue,
			"invoice_status": updated.Status,
		},
		Resources: resource("invoice", inv.ID),
	})
	return &domain.PaymentOutcome{Payment: p, Invoice: updated}, nil
}

func (s *PaymentService) Get(ctx context.Context, id string) (*domain.Payment, error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.Get")
	defer span.End()
	return s.payments.GetByID(ctx, id)
}

func (s *PaymentService) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.Payment], error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.ListByInvoice")
	defer span.End()
	return s.payments.ListByInvoice(ctx, invoiceID, page)
}

func (s *PaymentService) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.Payment], error) {
	ctx, span := paymentTracer.Start(ctx, "PaymentService.ListByCustomer")
	defer span.End()
	return s.payments.ListByCustomer(ctx, customerID, page)
}
