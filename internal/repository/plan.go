package repository

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resPlan = "payment plan"

// PaymentPlanRepository stores installment plans under their invoice (GSI1).
type PaymentPlanRepository struct {
	base
}

// NewPaymentPlanRepository creates a PaymentPlanRepository on table.
func NewPaymentPlanRepository(store dynamo.Store, table string, logger *zap.Logger) *PaymentPlanRepository {
	return &PaymentPlanRepository{base: newBase(store, table, logger)}
}

func (r *PaymentPlanRepository) Create(ctx context.Context, p *domain.PaymentPlan) (*domain.PaymentPlan, error) {
	now := r.now()
	out := *p
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.PlanID == "" {
		out.PlanID = "PLAN-" + shortCode(8)
	}
	if out.Status == "" {
		out.Status = domain.PlanActive
	}

	installments := make([]map[string]any, len(out.Installments))
	for i, in := range out.Installments {
		installments[i] = map[string]any{
			"number":   in.Number,
			"due_date": in.DueDate,
			"amount":   in.Amount,
			"status":   in.Status,
		}
	}
	attrs := map[string]any{
		"id":           out.ID,
		"plan_id":      out.PlanID,
		"invoice_id":   out.InvoiceID,
		"customer_id":  out.CustomerID,
		"total_amount": out.TotalAmount,
		"installments": installments,
		"frequency":    out.Frequency,
		"start_date":   out.StartDate,
		"status":       out.Status,
		"created_at":   out.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityPlan, resPlan, out.ID, attrs); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PaymentPlanRepository) GetByID(ctx context.Context, id string) (*domain.PaymentPlan, error) {
	item, err := r.getItem(ctx, dynamo.EntityPlan, resPlan, id)
	if err != nil {
		return nil, err
	}
	return planFromItem(item), nil
}

// ListByInvoice returns the invoice's plans, newest first.
func (r *PaymentPlanRepository) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.PaymentPlan], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI1,
		Key:        childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityInvoice, invoiceID), "PLAN#"),
		Descending: true,
	}, page, resPlan)
	if err != nil {
		return domain.Page[domain.PaymentPlan]{}, err
	}
	return decodePage(out, planFromItem), nil
}

func planFromItem(m map[string]any) *domain.PaymentPlan {
	p := &domain.PaymentPlan{
		ID:           attrString(m, "id"),
		PlanID:       attrString(m, "plan_id"),
		InvoiceID:    attrString(m, "invoice_id"),
		CustomerID:   attrString(m, "customer_id"),
		TotalAmount:  attrFloat(m, "total_amount"),
		Installments: []domain.Installment{},
		Frequency:    domain.PlanFrequency(attrString(m, "frequency")),
		StartDate:    attrString(m, "start_date"),
		Status:       domain.PlanStatus(attrString(m, "status")),
		CreatedAt:    attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:    attrTime(m, dynamo.AttrUpdatedAt),
	}
	for _, in := range attrList(m, "installments") {
		p.Installments = append(p.Installments, domain.Installment{
			Number:  attrInt(in, "number"),
			DueDate: attrString(in, "due_date"),
			Amount:  attrFloat(in, "amount"),
			Status:  attrString(in, "status"),
		})
	}
	return p
}
