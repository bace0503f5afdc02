package handler

import (
	"net/http"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Communications
// ============================================================

func sendCommunicationHandler(svc *service.CommunicationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/communications")
		defer span.End()

		var req domain.SendCommunicationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("channel", string(req.Channel)))

		c, err := svc.Send(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		// Email and SMS are delivered in the background.
		writeJSON(w, http.StatusAccepted, c)
	}
}

func getCommunicationHandler(svc *service.CommunicationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/communications/{id}")
		defer span.End()

		c, err := svc.Get(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func communicationStatusHandler(svc *service.CommunicationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/communications/{id}/status")
		defer span.End()

		var req domain.UpdateCommStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		c, err := svc.UpdateStatus(ctx, chi.URLParam(r, "id"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func communicationHistoryHandler(svc *service.CommunicationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{id}/communications")
		defer span.End()

		h, err := svc.History(ctx, chi.URLParam(r, "id"), parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}
