package service_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/cache"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTable = "billingiq-test"

// --- Mocks ---

// syncTasks runs every submitted task inline.
type syncTasks struct {
	mu     sync.Mutex
	names  []string
	errors []error
}

func (s *syncTasks) Submit(name string, fn func(ctx context.Context) error) bool {
	err := fn(context.Background())
	s.mu.Lock()
	s.names = append(s.names, name)
	s.errors = append(s.errors, err)
	s.mu.Unlock()
	return true
}

type mockBus struct {
	mu      sync.Mutex
	events  []domain.Event
	batches [][]domain.Event
}

func (m *mockBus) Publish(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockBus) PublishBatch(_ context.Context, events []domain.Event) (domain.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, events)
	return domain.BatchResult{Successful: len(events)}, nil
}

func (m *mockBus) ofType(detailType string) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.DetailType == detailType {
			out = append(out, e)
		}
	}
	return out
}

type mockMirror struct {
	upserts []*domain.Customer
	rows    map[string]domain.Customer
}

func (m *mockMirror) UpsertCustomer(_ context.Context, c *domain.Customer) error {
	m.upserts = append(m.upserts, c)
	if m.rows == nil {
		m.rows = map[string]domain.Customer{}
	}
	m.rows[c.ID] = *c
	return nil
}

func (m *mockMirror) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "customer", ID: id}
	}
	return &c, nil
}

func (m *mockMirror) ListByCompany(_ context.Context, companyID string, f domain.MirrorFilter) ([]domain.Customer, error) {
	var out []domain.Customer
	for _, c := range m.rows {
		if c.CompanyID != companyID {
			continue
		}
		if (f.Status == "" && c.Status == domain.CustomerDeleted) || (f.Status != "" && c.Status != f.Status) {
			continue
		}
		if f.RiskLevel != "" && c.RiskLevel != f.RiskLevel {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset >= len(out) {
		return []domain.Customer{}, nil
	}
	return out[f.Offset:min(f.Offset+f.Limit, len(out))], nil
}

type mockStorage struct {
	keys     []string
	metadata map[string]string
	ttl      time.Duration
	err      error
}

func (m *mockStorage) Put(_ context.Context, _, key string, body io.Reader, _ string, metadata map[string]string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	_, _ = io.ReadAll(body)
	m.keys = append(m.keys, key)
	m.metadata = metadata
	return key, nil
}

func (m *mockStorage) PresignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.ttl = ttl
	return "https://" + bucket + ".example/" + key, nil
}

type mockExtractor struct {
	text string
	err  error
}

func (m *mockExtractor) ExtractText(context.Context, string, string) (string, error) {
	return m.text, m.err
}

type mockGenerator struct {
	text   string
	err    error
	prompt string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, _ int, _ float64) (string, error) {
	m.prompt = prompt
	return m.text, m.err
}

type mockEmail struct {
	recipient string
	subject   string
	body      string
}

func (m *mockEmail) Send(_ context.Context, recipient, subject, body string) (string, error) {
	m.recipient, m.subject, m.body = recipient, subject, body
	return "ses-msg-1", nil
}

// --- Environment ---

type env struct {
	store   *dynamo.MemStore
	tasks   *syncTasks
	bus     *mockBus
	mirror  *mockMirror
	metrics *observability.Metrics

	customerRepo *repository.CustomerRepository
	invoiceRepo  *repository.InvoiceRepository
	paymentRepo  *repository.PaymentRepository
	commRepo     *repository.CommunicationRepository

	bg        *service.Background
	customers *service.CustomerService
	invoices  *service.InvoiceService
	payments  *service.PaymentService
	plans     *service.PlanService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()
	e := &env{
		store:   dynamo.NewMemStore(),
		tasks:   &syncTasks{},
		bus:     &mockBus{},
		mirror:  &mockMirror{},
		metrics: observability.NewMetrics(),
	}
	e.customerRepo = repository.NewCustomerRepository(e.store, testTable, logger)
	e.invoiceRepo = repository.NewInvoiceRepository(e.store, testTable, logger)
	e.paymentRepo = repository.NewPaymentRepository(e.store, testTable, logger)
	e.commRepo = repository.NewCommunicationRepository(e.store, testTable, logger)

	e.bg = service.NewBackground(e.tasks, e.bus, logger)
	e.customers = service.NewCustomerService(e.customerRepo, e.mirror, e.bg, logger)
	e.invoices = service.NewInvoiceService(e.invoiceRepo, e.customerRepo, e.bg, logger)
	e.payments = service.NewPaymentService(e.paymentRepo, e.invoiceRepo, e.bg, logger)
	e.plans = service.NewPlanService(repository.NewPaymentPlanRepository(e.store, testTable, logger), e.invoiceRepo, e.bg, logger)
	return e
}

func (e *env) riskService(gen *mockGenerator) *service.RiskService {
	logger := zap.NewNop()
	c := cache.New[*domain.RiskAssessment](time.Hour)
	var g port.ContentGenerator
	if gen != nil {
		g = gen
	}
	return service.NewRiskService(
		repository.NewRiskRepository(e.store, testTable, logger),
		e.customerRepo, e.invoiceRepo, e.paymentRepo,
		g, c, e.bg, e.metrics, logger,
	)
}

func (e *env) customer(t *testing.T, email string) *domain.Customer {
	t.Helper()
	c, err := e.customers.Create(context.Background(), &domain.CreateCustomerRequest{
		CompanyID:    "co-1",
		CustomerName: "Acme Corp",
		Email:        email,
		Phone:        "+15550100",
	})
	require.NoError(t, err)
	return c
}

// sentInvoice creates an invoice for total and moves it to sent.
func (e *env) sentInvoice(t *testing.T, customerID string, total float64, issue, due string) *domain.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := e.invoices.Create(ctx, "user-1", &domain.CreateInvoiceRequest{
		CustomerID: customerID,
		IssueDate:  issue,
		DueDate:    due,
		Items:      []domain.InvoiceItemInput{{Description: "Consulting", Quantity: 1, UnitPrice: total}},
	})
	require.NoError(t, err)
	inv, err = e.invoices.ChangeStatus(ctx, inv.ID, &domain.StatusChangeRequest{Status: domain.InvoiceSent})
	require.NoError(t, err)
	return inv
}

var errBoom = errors.New("boom")
