package repository

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resRisk = "risk assessment"

// RiskRepository stores assessments per customer (GSI1) and per level (GSI2).
type RiskRepository struct {
	base
}

// NewRiskRepository creates a RiskRepository on table.
func NewRiskRepository(store dynamo.Store, table string, logger *zap.Logger) *RiskRepository {
	return &RiskRepository{base: newBase(store, table, logger)}
}

func (r *RiskRepository) Create(ctx context.Context, a *domain.RiskAssessment) (*domain.RiskAssessment, error) {
	now := r.now()
	out := *a
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.AssessmentID == "" {
		out.AssessmentID = "RISK-" + shortCode(8)
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	attrs := map[string]any{
		"id":               out.ID,
		"assessment_id":    out.AssessmentID,
		"customer_id":      out.CustomerID,
		"invoice_id":       out.InvoiceID,
		"risk_score":       out.RiskScore,
		"risk_level":       out.RiskLevel,
		"confidence_score": out.ConfidenceScore,
		"factors": map[string]any{
			"payment_history_score":    out.Factors.PaymentHistoryScore,
			"outstanding_amount_score": out.Factors.OutstandingAmountScore,
			"overdue_days_score":       out.Factors.OverdueDaysScore,
			"customer_tenure_score":    out.Factors.CustomerTenureScore,
			"payment_frequency_score":  out.Factors.PaymentFrequencyScore,
		},
		"recommendations": out.Recommendations,
		"narrative":       out.Narrative,
		"assessed_by":     out.AssessedBy,
		"triggered_by":    out.TriggeredBy,
		"created_at":      out.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityRisk, resRisk, out.ID, attrs); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RiskRepository) GetByID(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	item, err := r.getItem(ctx, dynamo.EntityRisk, resRisk, id)
	if err != nil {
		return nil, err
	}
	return riskFromItem(item), nil
}

// ListByCustomer returns the customer's assessments, newest first.
func (r *RiskRepository) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.RiskAssessment], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI1,
		Key:        childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityCustomer, customerID), "RISK#"),
		Descending: true,
	}, page, resRisk)
	if err != nil {
		return domain.Page[domain.RiskAssessment]{}, err
	}
	return decodePage(out, riskFromItem), nil
}

// Current returns the customer's latest assessment.
func (r *RiskRepository) Current(ctx context.Context, customerID string) (*domain.RiskAssessment, error) {
	page, err := r.ListByCustomer(ctx, customerID, domain.PageRequest{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, &domain.ErrNotFound{Resource: resRisk, ID: "customer " + customerID}
	}
	return &page.Items[0], nil
}

// ListByLevel returns assessments at level, newest first.
func (r *RiskRepository) ListByLevel(ctx context.Context, level domain.RiskLevel, page domain.PageRequest) (domain.Page[domain.RiskAssessment], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI2,
		Key:        dynamo.PartitionEquals(dynamo.GSI2.PKAttr(), "RISK_LEVEL#"+string(level)),
		Descending: true,
	}, page, resRisk)
	if err != nil {
		return domain.Page[domain.RiskAssessment]{}, err
	}
	return decodePage(out, riskFromItem), nil
}

func riskFromItem(m map[string]any) *domain.RiskAssessment {
	f := attrMap(m, "factors")
	return &domain.RiskAssessment{
		ID:              attrString(m, "id"),
		AssessmentID:    attrString(m, "assessment_id"),
		CustomerID:      attrString(m, "customer_id"),
		InvoiceID:       attrString(m, "invoice_id"),
		RiskScore:       attrFloat(m, "risk_score"),
		RiskLevel:       domain.RiskLevel(attrString(m, "risk_level")),
		ConfidenceScore: attrFloat(m, "confidence_score"),
		Factors: domain.RiskFactors{
			PaymentHistoryScore:    attrFloat(f, "payment_history_score"),
			OutstandingAmountScore: attrFloat(f, "outstanding_amount_score"),
			OverdueDaysScore:       attrFloat(f, "overdue_days_score"),
			CustomerTenureScore:    attrFloat(f, "customer_tenure_score"),
			PaymentFrequencyScore:  attrFloat(f, "payment_frequency_score"),
		},
		Recommendations: attrStrings(m, "recommendations"),
		Narrative:       attrString(m, "narrative"),
		AssessedBy:      attrString(m, "assessed_by"),
		TriggeredBy:     attrString(m, "triggered_by"),
		CreatedAt:       attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:       attrTime(m, dynamo.AttrUpdatedAt),
	}
}
