package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var riskTracer = otel.Tracer("service/risk")

const (
	assessedByRules = "rules"
	assessedByAI    = "ai"

	narrativeMaxTokens   = 400
	narrativeTemperature = 0.3
)

// RiskService scores customers from their invoice and payment history.
type RiskService struct {
	risks     *repository.RiskRepository
	customers *repository.CustomerRepository
	invoices  *repository.InvoiceRepository
	payments  *repository.PaymentRepository
	generator port.ContentGenerator
	cache     port.Cache[*domain.RiskAssessment]
	bg        *Background
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRiskService creates the service. generator may be nil, in which case
// every narrative comes from the template.
func NewRiskService(
	risks *repository.RiskRepository,
	customers *repository.CustomerRepository,
	invoices *repository.InvoiceRepository,
	payments *repository.PaymentRepository,
	generator port.ContentGenerator,
	cache port.Cache[*domain.RiskAssessment],
	bg *Background,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *RiskService {
	return &RiskService{
		risks:     risks,
		customers: customers,
		invoices:  invoices,
		payments:  payments,
		generator: generator,
		cache:     cache,
		bg:        bg,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assess scores the customer. A cached assessment is returned unless
// Force is set.
func (s *RiskService) Assess(ctx context.Context, req *domain.AssessRiskRequest) (*domain.RiskAssessment, error) {
	ctx, span := riskTracer.Start(ctx, "RiskService.Assess")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("customer_id", req.CustomerID))

	cacheKey := "risk:" + req.CustomerID
	if !req.Force {
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.metrics.IncrCacheHit("risk")
			return cached, nil
		}
	}
	s.metrics.IncrCacheMiss("risk")

	start := time.Now()
	cust, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	var (
		invoices []domain.Invoice
		payments []domain.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = s.invoices.AllByCustomer(gctx, cust.ID)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.payments.AllByCustomer(gctx, cust.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load risk inputs: %w", err)
	}

	h := summarizeHistory(cust, invoices, payments, s.now())
	a := scoreRisk(h)
	a.CustomerID = cust.ID
	a.InvoiceID = req.InvoiceID
	a.TriggeredBy = req.TriggeredBy
	a.Narrative, a.AssessedBy = s.narrative(ctx, cust, h, a)
	if a.AssessedBy == assessedByAI {
		a.ConfidenceScore = math.Min(0.95, a.ConfidenceScore+0.1)
	}

	out, err := s.risks.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	if cust.RiskLevel != out.RiskLevel {
		if err := s.customers.SetRiskLevel(ctx, cust.ID, out.RiskLevel); err != nil {
			s.logger.Warn("customer risk level not updated", zap.String("customer_id", cust.ID), zap.Error(err))
		}
	}
	s.cache.Set(cacheKey, out)
	s.metrics.RecordRequestDuration("risk_assess", time.Since(start))

	s.logger.Info("risk assessed",
		zap.String("customer_id", cust.ID),
		zap.Float64("score", out.RiskScore),
		zap.String("level", string(out.RiskLevel)),
		zap.String("assessed_by", out.AssessedBy),
	)
	s.bg.Emit(domain.Event{
		Source:     "risk",
		DetailType: domain.EventRiskAssessmentCompleted,
		Detail: map[string]any{
			"assessment_id": out.AssessmentID,
			"customer_id":   cust.ID,
			"invoice_id":    out.InvoiceID,
			"risk_score":    out.RiskScore,
			"risk_level":    out.RiskLevel,
			"assessed_by":   out.AssessedBy,
		},
		Resources: resource("customer", cust.ID),
	})
	return out, nil
}

func (s *RiskService) Get(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	ctx, span := riskTracer.Start(ctx, "RiskService.Get")
	defer span.End()
	return s.risks.GetByID(ctx, id)
}

// Current returns the customer's latest assessment.
func (s *RiskService) Current(ctx context.Context, customerID string) (*domain.RiskAssessment, error) {
	ctx, span := riskTracer.Start(ctx, "RiskService.Current")
	defer span.End()
	return s.risks.Current(ctx, customerID)
}

// History returns the customer's assessments, newest first.
func (s *RiskService) History(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.RiskAssessment], error) {
	ctx, span := riskTracer.Start(ctx, "RiskService.History")
	defer span.End()
	return s.risks.ListByCustomer(ctx, customerID, page)
}

// ByLevel lists assessments at level, newest first.
func (s *RiskService) ByLevel(ctx context.Context, level domain.RiskLevel, page domain.PageRequest) (domain.Page[domain.RiskAssessment], error) {
	ctx, span := riskTracer.Start(ctx, "RiskService.ByLevel")
	defer span.End()
	if !level.Valid() {
		return domain.Page[domain.RiskAssessment]{}, &domain.ErrValidation{Field: "level", Message: "must be one of low, medium, high, critical"}
	}
	return s.risks.ListByLevel(ctx, level, page)
}

// ============================================================
// Scoring
// ============================================================

// paymentHistory is the aggregate the rules score.
type paymentHistory struct {
	TenureDays     int
	TotalInvoices  int
	PaidOnTime     int
	OverdueCount   int
	MaxDaysOverdue int
	Outstanding    float64
	PaymentCount   int
	PaymentRate    float64
}

func summarizeHistory(c *domain.Customer, invoices []domain.Invoice, payments []domain.Payment, now time.Time) paymentHistory {
	h := paymentHistory{PaymentCount: len(payments)}
	if !c.CreatedAt.IsZero() {
		h.TenureDays = int(now.Sub(c.CreatedAt).Hours() / 24)
	}
	today := now.Format(domain.DateLayout)
	for _, inv := range invoices {
		if inv.Status == domain.InvoiceDraft || inv.Status == domain.InvoiceCancelled {
			continue
		}
		h.TotalInvoices++
		if inv.Status == domain.InvoicePaid && inv.PaidAt != nil && inv.PaidAt.Format(domain.DateLayout) <= inv.DueDate {
			h.PaidOnTime++
		}
		if inv.Status.Collectible() {
			h.Outstanding += inv.BalanceDue
		}
		if inv.Status == domain.InvoiceOverdue || (inv.Status == domain.InvoicePartial && inv.PastDue(today)) {
			h.OverdueCount++
			if due, err := time.Parse(domain.DateLayout, inv.DueDate); err == nil {
				if days := int(now.Sub(due).Hours() / 24); days > h.MaxDaysOverdue {
					h.MaxDaysOverdue = days
				}
			}
		}
	}
	if h.TotalInvoices > 0 {
		h.PaymentRate = float64(h.PaidOnTime) / float64(h.TotalInvoices) * 100
	}
	return h
}

// scoreRisk applies the rule set: base 50, adjusted for tenure, on-time
// payment rate, overdue count and outstanding balance, clamped to 0-100.
func scoreRisk(h paymentHistory) *domain.RiskAssessment {
	score := 50.0
	switch {
	case h.TenureDays < 30:
		score += 20
	case h.TenureDays < 90:
		score += 10
	case h.TenureDays > 365:
		score -= 10
	}
	switch {
	case h.PaymentRate >= 90:
		score -= 20
	case h.PaymentRate >= 70:
		score -= 10
	case h.PaymentRate < 50:
		score += 20
	}
	switch {
	case h.OverdueCount > 3:
		score += 25
	case h.OverdueCount > 1:
		score += 15
	}
	switch {
	case h.Outstanding > 10000:
		score += 15
	case h.Outstanding > 5000:
		score += 10
	}
	score = math.Max(0, math.Min(100, score))
	level := domain.LevelForScore(score)

	return &domain.RiskAssessment{
		RiskScore:       score,
		RiskLevel:       level,
		ConfidenceScore: math.Min(0.9, 0.5+0.05*float64(h.TotalInvoices)),
		Factors: domain.RiskFactors{
			PaymentHistoryScore:    clampScore(100 - h.PaymentRate),
			OutstandingAmountScore: clampScore(h.Outstanding / 100),
			OverdueDaysScore:       clampScore(float64(h.MaxDaysOverdue) * 100 / 90),
			CustomerTenureScore:    tenureScore(h.TenureDays),
			PaymentFrequencyScore:  frequencyScore(h),
		},
		Recommendations: recommendations(level, h),
		AssessedBy:      assessedByRules,
	}
}

func clampScore(v float64) float64 {
	return math.Round(math.Max(0, math.Min(100, v))*100) / 100
}

func tenureScore(days int) float64 {
	switch {
	case days < 30:
		return 80
	case days < 90:
		return 60
	case days > 365:
		return 20
	}
	return 40
}

func frequencyScore(h paymentHistory) float64 {
	if h.TotalInvoices == 0 {
		return 50
	}
	return clampScore(100 - float64(h.PaymentCount)*100/float64(h.TotalInvoices))
}

func recommendations(level domain.RiskLevel, h paymentHistory) []string {
	var out []string
	switch level {
	case domain.RiskCritical:
		out = append(out, "Suspend new credit until the overdue balance is settled", "Escalate to collections")
	case domain.RiskHigh:
		out = append(out, "Require upfront or partial prepayment on new invoices", "Send payment reminders before the due date")
	case domain.RiskMedium:
		out = append(out, "Monitor payment behaviour on upcoming invoices")
	default:
		out = append(out, "Standard payment terms")
	}
	if h.OverdueCount > 0 {
		out = append(out, "Offer a payment plan for overdue invoices")
	}
	return out
}

// narrative asks the language model for a short explanation and falls back
// to a template on any failure.
func (s *RiskService) narrative(ctx context.Context, c *domain.Customer, h paymentHistory, a *domain.RiskAssessment) (string, string) {
	fallback := templateNarrative(c, h, a)
	if s.generator == nil {
		return fallback, assessedByRules
	}
	text, err := s.generator.Generate(ctx, riskPrompt(c, h, a), narrativeMaxTokens, narrativeTemperature)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("risk narrative generation failed, using template",
			zap.String("customer_id", c.ID),
			zap.Error(err),
		)
		return fallback, assessedByRules
	}
	return strings.TrimSpace(text), assessedByAI
}

func riskPrompt(c *domain.Customer, h paymentHistory, a *domain.RiskAssessment) string {
	var b strings.Builder
	b.WriteString("You are a credit analyst. Explain in at most three sentences why this customer has the given payment risk.\n\n")
	fmt.Fprintf(&b, "Customer: %s (industry: %s)\n", c.CustomerName, orUnknown(c.Industry))
	fmt.Fprintf(&b, "Account age: %d days\n", h.TenureDays)
	fmt.Fprintf(&b, "Invoices: %d, paid on time: %d (%.0f%%)\n", h.TotalInvoices, h.PaidOnTime, h.PaymentRate)
	fmt.Fprintf(&b, "Overdue invoices: %d, oldest %d days overdue\n", h.OverdueCount, h.MaxDaysOverdue)
	fmt.Fprintf(&b, "Outstanding balance: %.2f\n", h.Outstanding)
	fmt.Fprintf(&b, "Risk score: %.0f/100 (%s)\n", a.RiskScore, a.RiskLevel)
	return b.String()
}

func templateNarrative(c *domain.Customer, h paymentHistory, a *domain.RiskAssessment) string {
	return fmt.Sprintf(
		"%s is rated %s risk (score %.0f). %d of %d invoices were paid on time, %d are overdue and %.2f is outstanding.",
		c.CustomerName, a.RiskLevel, a.RiskScore, h.PaidOnTime, h.TotalInvoices, h.OverdueCount, h.Outstanding,
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
