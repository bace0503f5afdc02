package repository

import (
	"context"
	"fmt"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resPayment = "payment"

// PaymentRepository stores payments, listed per invoice (GSI1) and per
// customer (GSI2) by payment date.
type PaymentRepository struct {
	base
}

// NewPaymentRepository creates a PaymentRepository on table.
func NewPaymentRepository(store dynamo.Store, table string, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{base: newBase(store, table, logger)}
}

// Create assigns id, payment number and transaction id and stores p.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	now := r.now()
	out := *p
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.PaymentNumber == "" {
		out.PaymentNumber = fmt.Sprintf("PAY-%s-%s", now.Format("20060102"), shortCode(6))
	}
	if out.TransactionID == "" {
		out.TransactionID = "TXN-" + shortCode(8)
	}
	if out.PaymentDate == "" {
		out.PaymentDate = now.Format(domain.DateLayout)
	}
	if out.Status == "" {
		out.Status = domain.PaymentCompleted
	}
	if out.Currency == "" {
		out.Currency = "USD"
	}
	if err := r.putEntity(ctx, dynamo.EntityPayment, resPayment, out.ID, paymentAttrs(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	item, err := r.getItem(ctx, dynamo.EntityPayment, resPayment, id)
	if err != nil {
		return nil, err
	}
	return paymentFromItem(item), nil
}

// ListByInvoice returns the invoice's payments, oldest first.
func (r *PaymentRepository) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.Payment], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index: dynamo.GSI1,
		Key:   childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityInvoice, invoiceID), "PAYMENT#"),
	}, page, resPayment)
	if err != nil {
		return domain.Page[domain.Payment]{}, err
	}
	return decodePage(out, paymentFromItem), nil
}

// ListByCustomer returns the customer's payments, newest first.
func (r *PaymentRepository) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.Payment], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI2,
		Key:        childQuery(dynamo.GSI2, dynamo.Prefix(dynamo.EntityCustomer, customerID), "PAYMENT#"),
		Descending: true,
	}, page, resPayment)
	if err != nil {
		return domain.Page[domain.Payment]{}, err
	}
	return decodePage(out, paymentFromItem), nil
}

// AllByCustomer returns every payment of the customer.
func (r *PaymentRepository) AllByCustomer(ctx context.Context, customerID string) ([]domain.Payment, error) {
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index: dynamo.GSI2,
		Key:   childQuery(dynamo.GSI2, dynamo.Prefix(dynamo.EntityCustomer, customerID), "PAYMENT#"),
	}, resPayment)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(items))
	for _, it := range items {
		out = append(out, *paymentFromItem(it))
	}
	return out, nil
}

// FindByTransaction returns the invoice's payment carrying transactionID.
func (r *PaymentRepository) FindByTransaction(ctx context.Context, invoiceID, transactionID string) (*domain.Payment, error) {
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index:   dynamo.GSI1,
		Key:     childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityInvoice, invoiceID), "PAYMENT#"),
		Filters: []dynamo.Filter{dynamo.Eq("transaction_id", transactionID)},
	}, resPayment)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &domain.ErrNotFound{Resource: resPayment, ID: transactionID}
	}
	return paymentFromItem(items[0]), nil
}

// SetReceiptKey links an uploaded receipt object to the payment.
func (r *PaymentRepository) SetReceiptKey(ctx context.Context, id, key string) error {
	current, err := r.getItem(ctx, dynamo.EntityPayment, resPayment, id)
	if err != nil {
		return err
	}
	_, err = r.updateEntity(ctx, dynamo.EntityPayment, resPayment, id, current, map[string]any{"receipt_key": key})
	return err
}

func paymentAttrs(p *domain.Payment) map[string]any {
	return map[string]any{
		"id":                  p.ID,
		"invoice_id":          p.InvoiceID,
		"customer_id":         p.CustomerID,
		"company_id":          p.CompanyID,
		"payment_number":      p.PaymentNumber,
		"amount":              p.Amount,
		"currency":            p.Currency,
		"payment_date":        p.PaymentDate,
		"payment_method":      p.PaymentMethod,
		"transaction_id":      p.TransactionID,
		"reference_number":    p.ReferenceNumber,
		"confirmation_number": p.ConfirmationNumber,
		"status":              p.Status,
		"processing_fee":      p.ProcessingFee,
		"receipt_key":         p.ReceiptKey,
		"notes":               p.Notes,
		"created_at":          p.CreatedAt,
	}
}

func paymentFromItem(m map[string]any) *domain.Payment {
	p := &domain.Payment{
		ID:                 attrString(m, "id"),
		InvoiceID:          attrString(m, "invoice_id"),
		CustomerID:         attrString(m, "customer_id"),
		CompanyID:          attrString(m, "company_id"),
		PaymentNumber:      attrString(m, "payment_number"),
		Amount:             attrFloat(m, "amount"),
		Currency:           attrString(m, "currency"),
		PaymentDate:        attrString(m, "payment_date"),
		PaymentMethod:      domain.PaymentMethod(attrString(m, "payment_method")),
		TransactionID:      attrString(m, "transaction_id"),
		ReferenceNumber:    attrString(m, "reference_number"),
		ConfirmationNumber: attrString(m, "confirmation_number"),
		Status:             domain.PaymentStatus(attrString(m, "status")),
		ProcessingFee:      attrFloat(m, "processing_fee"),
		ReceiptKey:         attrString(m, "receipt_key"),
		Notes:              attrString(m, "notes"),
		CreatedAt:          attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:          attrTime(m, dynamo.AttrUpdatedAt),
	}
	if p.Status == "" {
		p.Status = domain.PaymentCompleted
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = domain.MethodOther
	}
	return p
}
