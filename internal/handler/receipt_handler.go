package handler

import (
	"errors"
	"net/http"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Receipts
// ============================================================

// multipart overhead allowed on top of the file itself.
const formOverhead = 1 << 20

// uploadReceiptHandler accepts multipart/form-data with a "file" part and an
// optional "transaction_id" field.
func uploadReceiptHandler(svc *service.ReceiptService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/{id}/receipts")
		defer span.End()

		invoiceID := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("invoice.id", invoiceID))

		r.Body = http.MaxBytesReader(w, r.Body, domain.MaxReceiptSize+formOverhead)
		if err := r.ParseMultipartForm(formOverhead); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErrorDetails(w, http.StatusRequestEntityTooLarge, codeValidation, "file too large",
					map[string]any{"max_bytes": domain.MaxReceiptSize})
				return
			}
			writeError(w, http.StatusBadRequest, codeBadRequest, "expected multipart form data")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeErrorDetails(w, http.StatusUnprocessableEntity, codeValidation, "is required",
				map[string]any{"field": "file"})
			return
		}
		defer file.Close()

		out, err := svc.Upload(ctx, invoiceID, service.ReceiptInput{
			FileName:      header.Filename,
			ContentType:   header.Header.Get("Content-Type"),
			Size:          header.Size,
			Body:          file,
			TransactionID: r.FormValue("transaction_id"),
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func getReceiptHandler(svc *service.ReceiptService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/receipts/{id}")
		defer span.End()

		rec, err := svc.Get(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func receiptURLHandler(svc *service.ReceiptService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/receipts/{id}/url")
		defer span.End()

		id := chi.URLParam(r, "id")
		url, expiresIn, err := svc.URL(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipt_id": id, "url": url, "expires_in": expiresIn})
	}
}

func invoiceReceiptsHandler(svc *service.ReceiptService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices/{id}/receipts")
		defer span.End()

		page, err := svc.ListByInvoice(ctx, chi.URLParam(r, "id"), parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
