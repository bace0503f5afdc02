package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/billingiq-api/internal/config"
	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/handler"
	"github.com/boddenberg/billingiq-api/internal/infra/cache"
	"github.com/boddenberg/billingiq-api/internal/infra/client"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/infra/postgres"
	"github.com/boddenberg/billingiq-api/internal/infra/resilience"
	"github.com/boddenberg/billingiq-api/internal/infra/worker"
	"github.com/boddenberg/billingiq-api/internal/jobs"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"go.uber.org/zap"
)

// adapters holds the optional external collaborators; nil fields are
// disabled channels.
type adapters struct {
	storage   port.ObjectStorage
	extractor port.TextExtractor
	generator port.ContentGenerator
	email     port.EmailSender
	sms       port.SMSSender
	bus       port.EventBus
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("main_table", cfg.MainTable),
		zap.Bool("mirror", cfg.DatabaseURL != ""),
		zap.Int("workers", cfg.WorkerCount),
		zap.String("overdue_schedule", cfg.OverdueSchedule),
		zap.Bool("require_auth_for_reads", cfg.RequireAuthForReads),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "billingiq-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	ctx := context.Background()

	// --- Store ---
	var (
		store  dynamo.Store
		pinger service.Pinger
		ext    adapters
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := dynamo.NewMemStore()
		store, pinger = mem, mem
		logger.Warn("using in-memory store, data is lost on restart")
	case config.BackendDynamo, config.BackendPostgres:
		if cfg.StoreBackend == config.BackendPostgres && cfg.DatabaseURL == "" {
			logger.Fatal("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		awsCfg, err := client.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Fatal("failed to load aws config", zap.Error(err))
		}
		dc := dynamo.NewClient(
			dynamo.NewSDKClient(awsCfg, cfg.DynamoEndpoint),
			dynamo.ClientConfig{
				MaxAttempts: cfg.DynamoMaxAttempts,
				RetryDelay:  cfg.DynamoRetryDelay,
				CallTimeout: cfg.DynamoCallTimeout,
			},
			metrics,
			logger,
		)
		store, pinger = dc, dc

		// --- External adapters (one bulkhead each) ---
		rcfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		ext.storage = client.NewS3ObjectStore(awsCfg, resilience.NewCircuitBreaker("s3"), rcfg.WithBulkhead())
		ext.extractor = client.NewTextractClient(textract.NewFromConfig(awsCfg), resilience.NewCircuitBreaker("textract"), rcfg.WithBulkhead())
		ext.generator = client.NewGeneratorClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID,
			resilience.NewCircuitBreaker("bedrock"), rcfg.WithBulkhead(), metrics)
		ext.email = client.NewEmailClient(sesv2.NewFromConfig(awsCfg), cfg.SESFromEmail, resilience.NewCircuitBreaker("ses"), rcfg.WithBulkhead())
		ext.bus = client.NewEventPublisher(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName,
			resilience.NewCircuitBreaker("eventbridge"), rcfg.WithBulkhead(), metrics, logger)
		if cfg.TwilioEnabled() {
			ext.sms = client.NewTwilioSMSClient(cfg.TwilioSID, cfg.TwilioAuthToken, cfg.TwilioFrom,
				resilience.NewCircuitBreaker("twilio"), rcfg.WithBulkhead())
		} else {
			logger.Warn("sms channel disabled: twilio not configured")
		}
	default:
		logger.Fatal("unknown STORE_BACKEND", zap.String("store_backend", cfg.StoreBackend))
	}

	// --- Relational mirror ---
	var mirror port.CustomerMirror
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		mirror = postgres.NewCustomerRepository(pool)
		logger.Info("customer mirror enabled")
	}

	// --- Background work ---
	queue := worker.NewQueue(worker.Config{
		Workers:     cfg.WorkerCount,
		QueueSize:   cfg.WorkerQueueSize,
		TaskTimeout: cfg.TaskTimeout,
	}, metrics, logger)
	bg := service.NewBackground(queue, ext.bus, logger)

	// --- Cache ---
	riskCache := cache.New[*domain.RiskAssessment](cfg.RiskCacheTTL)
	defer riskCache.Close()

	// --- Repositories ---
	table := cfg.MainTable
	customerRepo := repository.NewCustomerRepository(store, table, logger)
	invoiceRepo := repository.NewInvoiceRepository(store, table, logger)
	paymentRepo := repository.NewPaymentRepository(store, table, logger)

	// --- Services ---
	invoiceSvc := service.NewInvoiceService(invoiceRepo, customerRepo, bg, logger)
	services := handler.Services{
		Auth:      service.NewAuthService(repository.NewUserRepository(store, table, logger), cfg.JWTSecret, cfg.JWTAccessTTL, logger),
		Customers: service.NewCustomerService(customerRepo, mirror, bg, logger),
		Invoices:  invoiceSvc,
		Payments:  service.NewPaymentService(paymentRepo, invoiceRepo, bg, logger),
		Plans:     service.NewPlanService(repository.NewPaymentPlanRepository(store, table, logger), invoiceRepo, bg, logger),
		Receipts: service.NewReceiptService(repository.NewReceiptRepository(store, table, logger), invoiceRepo, paymentRepo,
			ext.storage, ext.extractor, cfg.ReceiptBucket, bg, logger),
		Risk: service.NewRiskService(repository.NewRiskRepository(store, table, logger), customerRepo, invoiceRepo, paymentRepo,
			ext.generator, riskCache, bg, metrics, logger),
		Communications: service.NewCommunicationService(repository.NewCommunicationRepository(store, table, logger),
			customerRepo, invoiceRepo, ext.email, ext.sms, bg, logger),
		Admin: service.NewAdminService(repository.NewAdminRepository(store, table, logger), invoiceSvc, pinger, table, metrics, logger),
	}

	// --- Scheduler ---
	scheduler, err := jobs.NewScheduler(cfg.OverdueSchedule, invoiceSvc, 0, logger)
	if err != nil {
		logger.Fatal("failed to schedule overdue refresh", zap.Error(err))
	}
	scheduler.Start()

	// --- Router ---
	router := handler.NewRouter(services, handler.RouterConfig{RequireAuthForReads: cfg.RequireAuthForReads}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("worker queue did not drain", zap.Error(err))
	}

	logger.Info("server stopped")
}
