package handler

import (
	"net/http"

	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services bundles everything the router serves.
type Services struct {
	Auth           *service.AuthService
	Customers      *service.CustomerService
	Invoices       *service.InvoiceService
	Payments       *service.PaymentService
	Plans          *service.PlanService
	Receipts       *service.ReceiptService
	Risk           *service.RiskService
	Communications *service.CommunicationService
	Admin          *service.AdminService
}

// RouterConfig holds the access policy.
type RouterConfig struct {
	// RequireAuthForReads puts the GET routes behind JWT as well.
	RequireAuthForReads bool
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Admin))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	auth := JWTAuthMiddleware(svc.Auth, logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Auth (public)
		// =============================================
		r.Post("/auth/register", authRegisterHandler(svc.Auth, logger))
		r.Post("/auth/login", authLoginHandler(svc.Auth, logger))

		// =============================================
		// Reads
		// =============================================
		r.Group(func(r chi.Router) {
			if cfg.RequireAuthForReads {
				r.Use(auth)
			}

			r.Get("/customers", listCustomersHandler(svc.Customers, logger))
			r.Get("/customers/search", searchCustomersHandler(svc.Customers, logger))
			r.Get("/customers/active-count", activeCustomersHandler(svc.Customers, logger))
			r.Get("/customers/{id}", getCustomerHandler(svc.Customers, logger))
			r.Get("/customers/{id}/invoices", customerInvoicesHandler(svc.Invoices, logger))
			r.Get("/customers/{id}/payments", customerPaymentsHandler(svc.Payments, logger))
			r.Get("/customers/{id}/risk/current", currentRiskHandler(svc.Risk, logger))
			r.Get("/customers/{id}/risk/history", riskHistoryHandler(svc.Risk, logger))
			r.Get("/customers/{id}/communications", communicationHistoryHandler(svc.Communications, logger))

			r.Get("/invoices", listInvoicesHandler(svc.Invoices, logger))
			r.Get("/invoices/overdue", overdueInvoicesHandler(svc.Invoices, logger))
			r.Get("/invoices/{id}", getInvoiceHandler(svc.Invoices, logger))
			r.Get("/invoices/{id}/payments", invoicePaymentsHandler(svc.Payments, logger))
			r.Get("/invoices/{id}/receipts", invoiceReceiptsHandler(svc.Receipts, logger))
			r.Get("/invoices/{id}/plans", invoicePlansHandler(svc.Plans, logger))

			r.Get("/payments/{id}", getPaymentHandler(svc.Payments, logger))
			r.Get("/plans/{id}", getPlanHandler(svc.Plans, logger))
			r.Get("/receipts/{id}", getReceiptHandler(svc.Receipts, logger))
			r.Get("/receipts/{id}/url", receiptURLHandler(svc.Receipts, logger))
			r.Get("/risk", riskByLevelHandler(svc.Risk, logger))
			r.Get("/risk/{id}", getRiskHandler(svc.Risk, logger))
			r.Get("/communications/{id}", getCommunicationHandler(svc.Communications, logger))
		})

		// =============================================
		// Writes (JWT)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Get("/auth/me", authMeHandler(svc.Auth, logger))

			r.Post("/customers", createCustomerHandler(svc.Customers, logger))
			r.Put("/customers/{id}", updateCustomerHandler(svc.Customers, logger))
			r.Delete("/customers/{id}", deleteCustomerHandler(svc.Customers, logger))

			r.Post("/invoices", createInvoiceHandler(svc.Invoices, logger))
			r.Put("/invoices/{id}", updateInvoiceHandler(svc.Invoices, logger))
			r.Post("/invoices/{id}/status", invoiceStatusHandler(svc.Invoices, logger))
			r.Delete("/invoices/{id}", cancelInvoiceHandler(svc.Invoices, logger))

			r.Post("/invoices/{id}/payments", recordPaymentHandler(svc.Payments, logger))
			r.Post("/invoices/{id}/receipts", uploadReceiptHandler(svc.Receipts, logger))
			r.Post("/invoices/{id}/plans", createPlanHandler(svc.Plans, logger))

			r.Post("/risk/assess", assessRiskHandler(svc.Risk, logger))

			r.Post("/communications", sendCommunicationHandler(svc.Communications, logger))
			r.Post("/communications/{id}/status", communicationStatusHandler(svc.Communications, logger))

			// =============================================
			// Admin
			// =============================================
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin(logger))
				r.Get("/entities", adminEntitiesHandler(svc.Admin, logger))
				r.Get("/stats", adminStatsHandler(svc.Admin, logger))
				r.Post("/overdue/refresh", adminRefreshOverdueHandler(svc.Admin, logger))
				r.Get("/mirror/parity", adminMirrorParityHandler(svc.Customers, logger))
			})
		})
	})

	return r
}
