package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var receiptTracer = otel.Tracer("service/receipt")

// Presigned URL lifetimes.
const (
	UploadURLTTL = 24 * time.Hour
	FetchURLTTL  = time.Hour
)

// ReceiptInput is an uploaded receipt file.
type ReceiptInput struct {
	FileName      string
	ContentType   string
	Size          int64
	Body          io.Reader
	TransactionID string
}

// ReceiptService stores payment receipts and extracts their key fields.
type ReceiptService struct {
	receipts  *repository.ReceiptRepository
	invoices  *repository.InvoiceRepository
	payments  *repository.PaymentRepository
	storage   port.ObjectStorage
	extractor port.TextExtractor
	bucket    string
	bg        *Background
	logger    *zap.Logger
}

// NewReceiptService creates the service. extractor may be nil, in which
// case receipts stay in the uploaded state.
func NewReceiptService(
	receipts *repository.ReceiptRepository,
	invoices *repository.InvoiceRepository,
	payments *repository.PaymentRepository,
	storage port.ObjectStorage,
	extractor port.TextExtractor,
	bucket string,
	bg *Background,
	logger *zap.Logger,
) *ReceiptService {
	return &ReceiptService{
		receipts:  receipts,
		invoices:  invoices,
		payments:  payments,
		storage:   storage,
		extractor: extractor,
		bucket:    bucket,
		bg:        bg,
		logger:    logger,
	}
}

// Upload validates and stores the file, records the receipt and schedules
// text extraction.
func (s *ReceiptService) Upload(ctx context.Context, invoiceID string, in ReceiptInput) (*domain.ReceiptUpload, error) {
	ctx, span := receiptTracer.Start(ctx, "ReceiptService.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("invoice_id", invoiceID), attribute.Int64("size", in.Size))

	ext, ok := domain.ReceiptExtension(in.ContentType)
	if !ok {
		return nil, &domain.ErrValidation{Field: "file", Message: "unsupported content type " + in.ContentType}
	}
	if in.Size <= 0 || in.Size > domain.MaxReceiptSize {
		return nil, &domain.ErrValidation{Field: "file", Message: fmt.Sprintf("size must be between 1 byte and %d bytes", domain.MaxReceiptSize)}
	}
	if s.storage == nil {
		return nil, &domain.ErrExternalService{Service: "s3", Err: fmt.Errorf("object storage not configured")}
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := fmt.Sprintf("receipts/%s/%s.%s", inv.ID, id, ext)
	fileName := path.Base(in.FileName)
	if _, err := s.storage.Put(ctx, s.bucket, key, in.Body, in.ContentType, map[string]string{
		"invoice_id":        inv.ID,
		"transaction_id":    in.TransactionID,
		"original_filename": fileName,
	}); err != nil {
		return nil, err
	}

	rec, err := s.receipts.Create(ctx, &domain.Receipt{
		ID:            id,
		InvoiceID:     inv.ID,
		TransactionID: in.TransactionID,
		S3Key:         key,
		FileName:      fileName,
		ContentType:   in.ContentType,
		SizeBytes:     in.Size,
	})
	if err != nil {
		return nil, err
	}
	if in.TransactionID != "" {
		s.linkPayment(ctx, inv.ID, in.TransactionID, key)
	}
	url, err := s.storage.PresignedURL(ctx, s.bucket, key, UploadURLTTL)
	if err != nil {
		s.logger.Warn("receipt stored without presigned url", zap.String("receipt_id", rec.ID), zap.Error(err))
		url = ""
	}

	s.logger.Info("receipt uploaded",
		zap.String("receipt_id", rec.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("key", key),
	)
	s.bg.Emit(domain.Event{
		Source:     "payment",
		DetailType: domain.EventReceiptUploaded,
		Detail: map[string]any{
			"receipt_id":     rec.ID,
			"invoice_id":     inv.ID,
			"transaction_id": in.TransactionID,
			"s3_key":         key,
		},
		Resources: resource("invoice", inv.ID),
	})
	if s.extractor != nil {
		s.bg.Go("receipt.extract", func(ctx context.Context) error {
			_, err := s.Extract(ctx, rec.ID)
			return err
		})
	}
	return &domain.ReceiptUpload{Receipt: rec, PresignedURL: url, ExpiresIn: int(UploadURLTTL.Seconds())}, nil
}

// linkPayment records key on the invoice payment with the same transaction
// id. A receipt without a matching payment stays unlinked.
func (s *ReceiptService) linkPayment(ctx context.Context, invoiceID, transactionID, key string) {
	if s.payments == nil {
		return
	}
	p, err := s.payments.FindByTransaction(ctx, invoiceID, transactionID)
	if err != nil {
		if !isNotFoundErr(err) {
			s.logger.Warn("receipt payment lookup failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		}
		return
	}
	if err := s.payments.SetReceiptKey(ctx, p.ID, key); err != nil {
		s.logger.Warn("receipt not linked to payment", zap.String("payment_id", p.ID), zap.Error(err))
		return
	}
	s.logger.Info("receipt linked to payment", zap.String("payment_id", p.ID), zap.String("key", key))
}

// Extract runs text extraction over a stored receipt and saves the parsed
// amount, date and reference. The raw text is not kept.
func (s *ReceiptService) Extract(ctx context.Context, id string) (*domain.Receipt, error) {
	ctx, span := receiptTracer.Start(ctx, "ReceiptService.Extract")
	defer span.End()

	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return rec, nil
	}
	text, err := s.extractor.ExtractText(ctx, s.bucket, rec.S3Key)
	if err != nil {
		s.logger.Warn("receipt text extraction failed", zap.String("receipt_id", id), zap.Error(err))
		if _, uerr := s.receipts.Update(ctx, id, repository.ReceiptExtraction{Status: domain.ReceiptFailed}); uerr != nil {
			return nil, uerr
		}
		return nil, err
	}
	ex := ParseReceiptText(text)
	ex.Status = domain.ReceiptProcessed
	return s.receipts.Update(ctx, id, ex)
}

func (s *ReceiptService) Get(ctx context.Context, id string) (*domain.Receipt, error) {
	ctx, span := receiptTracer.Start(ctx, "ReceiptService.Get")
	defer span.End()
	return s.receipts.GetByID(ctx, id)
}

// URL returns a short-lived download link for the receipt.
func (s *ReceiptService) URL(ctx context.Context, id string) (string, int, error) {
	ctx, span := receiptTracer.Start(ctx, "ReceiptService.URL")
	defer span.End()

	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return "", 0, err
	}
	if s.storage == nil {
		return "", 0, &domain.ErrExternalService{Service: "s3", Err: fmt.Errorf("object storage not configured")}
	}
	url, err := s.storage.PresignedURL(ctx, s.bucket, rec.S3Key, FetchURLTTL)
	if err != nil {
		return "", 0, err
	}
	return url, int(FetchURLTTL.Seconds()), nil
}

func (s *ReceiptService) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.Receipt], error) {
	ctx, span := receiptTracer.Start(ctx, "ReceiptService.ListByInvoice")
	defer span.End()
	return s.receipts.ListByInvoice(ctx, invoiceID, page)
}
