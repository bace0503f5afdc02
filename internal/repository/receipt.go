package repository

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resReceipt = "receipt"

// ReceiptRepository stores receipt metadata. The file lives in object
// storage under S3Key.
type ReceiptRepository struct {
	base
}

// NewReceiptRepository creates a ReceiptRepository on table.
func NewReceiptRepository(store dynamo.Store, table string, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{base: newBase(store, table, logger)}
}

// ReceiptExtraction is the structured outcome of text extraction.
type ReceiptExtraction struct {
	Status    domain.ReceiptStatus
	Amount    *float64
	Date      string
	Reference string
}

// Create stores rec. If rec.ID is set it is kept, so the object key can be
// derived from the id before the record exists.
func (r *ReceiptRepository) Create(ctx context.Context, rec *domain.Receipt) (*domain.Receipt, error) {
	now := r.now()
	out := *rec
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt, out.UpdatedAt = now, now
	if out.Status == "" {
		out.Status = domain.ReceiptUploaded
	}
	attrs := map[string]any{
		"id":             out.ID,
		"invoice_id":     out.InvoiceID,
		"transaction_id": out.TransactionID,
		"s3_key":         out.S3Key,
		"file_name":      out.FileName,
		"content_type":   out.ContentType,
		"size_bytes":     out.SizeBytes,
		"status":         out.Status,
		"created_at":     out.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityReceipt, resReceipt, out.ID, attrs); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*domain.Receipt, error) {
	item, err := r.getItem(ctx, dynamo.EntityReceipt, resReceipt, id)
	if err != nil {
		return nil, err
	}
	return receiptFromItem(item), nil
}

// ListByInvoice returns the invoice's receipts, newest first.
func (r *ReceiptRepository) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.Receipt], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI1,
		Key:        childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityInvoice, invoiceID), "RECEIPT#"),
		Descending: true,
	}, page, resReceipt)
	if err != nil {
		return domain.Page[domain.Receipt]{}, err
	}
	return decodePage(out, receiptFromItem), nil
}

// Update records the extraction outcome.
func (r *ReceiptRepository) Update(ctx context.Context, id string, ex ReceiptExtraction) (*domain.Receipt, error) {
	current, err := r.getItem(ctx, dynamo.EntityReceipt, resReceipt, id)
	if err != nil {
		return nil, err
	}
	set := map[string]any{"status": ex.Status}
	if ex.Amount != nil {
		set["extracted_amount"] = *ex.Amount
	}
	if ex.Date != "" {
		set["extracted_date"] = ex.Date
	}
	if ex.Reference != "" {
		set["extracted_reference"] = ex.Reference
	}
	item, err := r.updateEntity(ctx, dynamo.EntityReceipt, resReceipt, id, current, set)
	if err != nil {
		return nil, err
	}
	return receiptFromItem(item), nil
}

func receiptFromItem(m map[string]any) *domain.Receipt {
	return &domain.Receipt{
		ID:                 attrString(m, "id"),
		InvoiceID:          attrString(m, "invoice_id"),
		TransactionID:      attrString(m, "transaction_id"),
		S3Key:              attrString(m, "s3_key"),
		FileName:           attrString(m, "file_name"),
		ContentType:        attrString(m, "content_type"),
		SizeBytes:          int64(attrInt(m, "size_bytes")),
		Status:             domain.ReceiptStatus(attrString(m, "status")),
		ExtractedAmount:    attrFloatPtr(m, "extracted_amount"),
		ExtractedDate:      attrString(m, "extracted_date"),
		ExtractedReference: attrString(m, "extracted_reference"),
		CreatedAt:          attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:          attrTime(m, dynamo.AttrUpdatedAt),
	}
}
