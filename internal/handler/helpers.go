package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/boddenberg/billingiq-api/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

// Error codes carried in the response body.
const (
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeValidation         = "VALIDATION_ERROR"
	codeStoreUnavailable   = "STORE_UNAVAILABLE"
	codeServiceUnavailable = "SERVICE_UNAVAILABLE"
	codeUnauthorized       = "UNAUTHORIZED"
	codeForbidden          = "FORBIDDEN"
	codeBadRequest         = "BAD_REQUEST"
	codeInternal           = "INTERNAL_ERROR"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}

// parsePage reads limit and next_token. Invalid limits fall back to the
// default; Normalize clamps the rest.
func parsePage(r *http.Request) domain.PageRequest {
	q := r.URL.Query()
	page := domain.PageRequest{NextToken: q.Get("next_token")}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Limit = n
		}
	}
	return page.Normalize()
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var conflict *domain.ErrConflict
	var transition *domain.ErrInvalidTransition
	var validation *domain.ErrValidation
	var storeDown *domain.ErrStoreUnavailable
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeErrorDetails(w, http.StatusNotFound, codeNotFound, err.Error(),
			map[string]any{"resource": notFound.Resource, "id": notFound.ID})
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeErrorDetails(w, http.StatusUnprocessableEntity, codeValidation, validation.Message,
			map[string]any{"field": validation.Field})
	case errors.As(err, &transition):
		logger.Debug("invalid transition", zap.String("error", err.Error()))
		writeErrorDetails(w, http.StatusConflict, codeConflict, err.Error(),
			map[string]any{"from": transition.From, "to": transition.To})
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.As(err, &storeDown):
		logger.Error("store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "store temporarily unavailable")
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeErrorDetails(w, http.StatusServiceUnavailable, codeServiceUnavailable, "dependency unavailable",
			map[string]any{"service": external.Service})
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
