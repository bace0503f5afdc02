package handler_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/handler"
	"github.com/boddenberg/billingiq-api/internal/infra/cache"
	"github.com/boddenberg/billingiq-api/internal/infra/client"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/infra/resilience"
	"github.com/boddenberg/billingiq-api/internal/infra/worker"
	"github.com/boddenberg/billingiq-api/internal/repository"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"go.uber.org/zap"
)

// --- Mock AWS APIs ---

type busRecorder struct {
	mu      sync.Mutex
	sources []string
}

func (b *busRecorder) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range in.Entries {
		b.sources = append(b.sources, aws.ToString(e.Source))
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func (b *busRecorder) saw(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sources {
		if s == source {
			return true
		}
	}
	return false
}

type sesRecorder struct {
	mu sync.Mutex
	to []string
}

func (s *sesRecorder) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, in.Destination.ToAddresses...)
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-integration")}, nil
}

type bedrockStub struct{}

func (bedrockStub) InvokeModel(_ context.Context, _ *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	body := `{"content":[{"type":"text","text":"  Globex pays late and owes little.  "}],"usage":{"input_tokens":120,"output_tokens":12}}`
	return &bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestIntegration_FullFlow runs the API against the in-memory store, the
// worker queue and the AWS adapters backed by mock APIs.
func TestIntegration_FullFlow(t *testing.T) {
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := dynamo.NewMemStore()
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}.WithBulkhead()

	bus := &busRecorder{}
	ses := &sesRecorder{}

	queue := worker.NewQueue(worker.Config{Workers: 2, QueueSize: 32, TaskTimeout: time.Second}, metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = queue.Close(ctx)
	})
	bg := service.NewBackground(queue,
		client.NewEventPublisher(bus, "billing-bus", resilience.NewCircuitBreaker("it-eventbridge"), cfg, metrics, logger),
		logger)

	customers := repository.NewCustomerRepository(store, table, logger)
	invoices := repository.NewInvoiceRepository(store, table, logger)
	payments := repository.NewPaymentRepository(store, table, logger)
	invoiceSvc := service.NewInvoiceService(invoices, customers, bg, logger)

	svc := handler.Services{
		Auth:      service.NewAuthService(repository.NewUserRepository(store, table, logger), "integration-secret", time.Hour, logger),
		Customers: service.NewCustomerService(customers, nil, bg, logger),
		Invoices:  invoiceSvc,
		Payments:  service.NewPaymentService(payments, invoices, bg, logger),
		Plans:     service.NewPlanService(repository.NewPaymentPlanRepository(store, table, logger), invoices, bg, logger),
		Receipts: service.NewReceiptService(repository.NewReceiptRepository(store, table, logger), invoices, payments,
			fakeStorage{}, nil, "receipts", bg, logger),
		Risk: service.NewRiskService(repository.NewRiskRepository(store, table, logger), customers, invoices, payments,
			client.NewGeneratorClient(bedrockStub{}, "anthropic.test", resilience.NewCircuitBreaker("it-bedrock"), cfg, metrics),
			cache.New[*domain.RiskAssessment](time.Hour), bg, metrics, logger),
		Communications: service.NewCommunicationService(repository.NewCommunicationRepository(store, table, logger),
			customers, invoices,
			client.NewEmailClient(ses, "billing@acme.test", resilience.NewCircuitBreaker("it-ses"), cfg),
			nil, bg, logger),
		Admin: service.NewAdminService(repository.NewAdminRepository(store, table, logger), invoiceSvc, store, table, metrics, logger),
	}
	s := &testServer{t: t, handler: handler.NewRouter(svc, handler.RouterConfig{}, metrics, logger), store: store}
	token := s.login("owner@acme.test", "co-1")

	// --- Customer and invoice ---
	var c domain.Customer
	decode(t, s.do(http.MethodPost, "/v1/customers", token, map[string]any{
		"company_id": "co-1", "customer_name": "Globex", "email": "ap@globex.test",
	}), &c)
	var inv domain.Invoice
	decode(t, s.do(http.MethodPost, "/v1/invoices", token, map[string]any{
		"customer_id": c.ID, "items": []map[string]any{{"description": "Support", "quantity": 2, "unit_price": 250}},
	}), &inv)
	if rec := s.do(http.MethodPost, "/v1/invoices/"+inv.ID+"/status", token, map[string]any{"status": "sent"}); rec.Code != http.StatusOK {
		t.Fatalf("send invoice: %d %s", rec.Code, rec.Body.String())
	}
	eventually(t, "invoice event", func() bool { return bus.saw(domain.EventSourcePrefix + "invoice") })

	// --- Email delivered in the background ---
	rec := s.do(http.MethodPost, "/v1/communications", token, map[string]any{
		"customer_id": c.ID, "invoice_id": inv.ID, "channel": "email", "template": "invoice_created",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send communication: %d %s", rec.Code, rec.Body.String())
	}
	var comm domain.Communication
	decode(t, rec, &comm)
	if comm.Status != domain.CommPending {
		t.Errorf("initial status = %s, want pending", comm.Status)
	}
	eventually(t, "email delivery", func() bool {
		var got domain.Communication
		decode(t, s.do(http.MethodGet, "/v1/communications/"+comm.ID, "", nil), &got)
		return got.Status == domain.CommSent && got.ProviderMessageID == "ses-integration"
	})
	ses.mu.Lock()
	if len(ses.to) != 1 || ses.to[0] != "ap@globex.test" {
		t.Errorf("ses recipients = %v", ses.to)
	}
	ses.mu.Unlock()
	eventually(t, "communication event", func() bool { return bus.saw(domain.EventSourcePrefix + "communication") })

	// --- Risk narrative from the model ---
	rec = s.do(http.MethodPost, "/v1/risk/assess", token, map[string]any{"customer_id": c.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("assess: %d %s", rec.Code, rec.Body.String())
	}
	var a domain.RiskAssessment
	decode(t, rec, &a)
	if a.AssessedBy != "ai" || !strings.HasPrefix(a.Narrative, "Globex pays late") {
		t.Errorf("assessment: by %q narrative %q", a.AssessedBy, a.Narrative)
	}
	var current domain.RiskAssessment
	decode(t, s.do(http.MethodGet, "/v1/customers/"+c.ID+"/risk/current", "", nil), &current)
	if current.AssessmentID != a.AssessmentID {
		t.Errorf("current = %s, want %s", current.AssessmentID, a.AssessmentID)
	}
}
