package repository

import (
	"context"
	"fmt"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const resInvoice = "invoice"

// InvoiceRepository stores invoice metadata under INVOICE#{id}/METADATA and
// line items under the same partition as ITEM#nnn.
type InvoiceRepository struct {
	base
}

// NewInvoiceRepository creates an InvoiceRepository on table.
func NewInvoiceRepository(store dynamo.Store, table string, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{base: newBase(store, table, logger)}
}

// Create stores the invoice and its line items. Totals are computed from the
// items when present; otherwise TotalAmount is kept as given.
func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	now := r.now()
	out := *inv
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.InvoiceNumber == "" {
		out.InvoiceNumber = fmt.Sprintf("INV-%s-%s", now.Format("200601"), shortCode(6))
	}
	if out.Status == "" {
		out.Status = domain.InvoiceDraft
	}
	if out.IssueDate == "" {
		out.IssueDate = now.Format(domain.DateLayout)
	}
	if out.DueDate == "" {
		out.DueDate = now.AddDate(0, 0, out.PaymentTerms).Format(domain.DateLayout)
	}
	if out.Currency == "" {
		out.Currency = "USD"
	}
	out.Items = append([]domain.InvoiceItem(nil), inv.Items...)
	if len(out.Items) > 0 {
		t := domain.ComputeTotals(out.Items, out.TaxRate, out.DiscountAmount)
		out.Subtotal = t.Subtotal.InexactFloat64()
		out.TaxAmount = t.TaxAmount.InexactFloat64()
		out.TotalAmount = t.TotalAmount.InexactFloat64()
	} else if out.Subtotal == 0 {
		out.Subtotal = out.TotalAmount
	}
	out.BalanceDue = domain.BalanceDue(decimal.NewFromFloat(out.TotalAmount), decimal.NewFromFloat(out.AmountPaid)).InexactFloat64()

	if err := r.putEntity(ctx, dynamo.EntityInvoice, resInvoice, out.ID, invoiceAttrs(&out)); err != nil {
		return nil, err
	}
	if err := r.writeItems(ctx, out.ID, out.Items); err != nil {
		r.logger.Error("invoice items not fully written",
			zap.String("invoice_id", out.ID),
			zap.Int("items", len(out.Items)),
			zap.Error(err),
		)
		return nil, err
	}
	r.logger.Debug("invoice created", zap.String("invoice_id", out.ID), zap.String("number", out.InvoiceNumber))
	return &out, nil
}

func (r *InvoiceRepository) writeItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(items))
	for i, it := range items {
		key := dynamo.ItemKey(invoiceID, it.Line)
		rows[i] = map[string]any{
			dynamo.AttrPK:         key.PK,
			dynamo.AttrSK:         key.SK,
			dynamo.AttrEntityType: string(dynamo.EntityInvoiceItem),
			"invoice_id":          invoiceID,
			"line":                it.Line,
			"description":         it.Description,
			"quantity":            it.Quantity,
			"unit_price":          it.UnitPrice,
			"discount_percent":    it.DiscountPercent,
			"tax_percent":         it.TaxPercent,
			"line_total":          it.LineTotal,
		}
	}
	if _, err := r.store.BatchWrite(ctx, r.table, rows); err != nil {
		return translate(err, resInvoice, invoiceID)
	}
	return nil
}

// get reads the stored invoice without its items or derived status.
func (r *InvoiceRepository) get(ctx context.Context, id string) (map[string]any, *domain.Invoice, error) {
	item, err := r.getItem(ctx, dynamo.EntityInvoice, resInvoice, id)
	if err != nil {
		return nil, nil, err
	}
	return item, invoiceFromItem(item), nil
}

// GetByID returns the invoice with its items. A sent or viewed invoice past
// its due date is reported as overdue.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	_, inv, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	inv.Status = inv.EffectiveStatus(r.today())
	return inv, nil
}

// Items returns the invoice's line items ordered by line number.
func (r *InvoiceRepository) Items(ctx context.Context, id string) ([]domain.InvoiceItem, error) {
	rows, err := r.queryAll(ctx, dynamo.QueryInput{
		Key: dynamo.PartitionEquals(dynamo.AttrPK, dynamo.Prefix(dynamo.EntityInvoice, id)).
			BeginsWith(dynamo.AttrSK, dynamo.ItemPrefix),
	}, resInvoice)
	if err != nil {
		return nil, err
	}
	items := make([]domain.InvoiceItem, 0, len(rows))
	for _, m := range rows {
		items = append(items, domain.InvoiceItem{
			Line:            attrInt(m, "line"),
			Description:     attrString(m, "description"),
			Quantity:        attrFloat(m, "quantity"),
			UnitPrice:       attrFloat(m, "unit_price"),
			DiscountPercent: attrFloat(m, "discount_percent"),
			TaxPercent:      attrFloat(m, "tax_percent"),
			LineTotal:       attrFloat(m, "line_total"),
		})
	}
	return items, nil
}

func (r *InvoiceRepository) listPage(ctx context.Context, in dynamo.QueryInput, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	out, err := r.queryPage(ctx, in, page, resInvoice)
	if err != nil {
		return domain.Page[domain.Invoice]{}, err
	}
	today := r.today()
	p := decodePage(out, invoiceFromItem)
	for i := range p.Items {
		p.Items[i].Status = p.Items[i].EffectiveStatus(today)
	}
	return p, nil
}

// ListByCustomer returns the customer's invoices, newest issue date first.
func (r *InvoiceRepository) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	return r.listPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI1,
		Key:        childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityCustomer, customerID), "INVOICE#"),
		Descending: true,
	}, page)
}

// AllByCustomer returns every invoice of the customer without items, with
// the derived overdue status applied.
func (r *InvoiceRepository) AllByCustomer(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index: dynamo.GSI1,
		Key:   childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityCustomer, customerID), "INVOICE#"),
	}, resInvoice)
	if err != nil {
		return nil, err
	}
	today := r.today()
	out := make([]domain.Invoice, 0, len(items))
	for _, it := range items {
		inv := invoiceFromItem(it)
		inv.Status = inv.EffectiveStatus(today)
		out = append(out, *inv)
	}
	return out, nil
}

// ListByCompany returns the company's invoices, newest issue date first.
func (r *InvoiceRepository) ListByCompany(ctx context.Context, companyID string, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	return r.listPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI5,
		Key:        childQuery(dynamo.GSI5, dynamo.Prefix(dynamo.EntityCompany, companyID), "INVOICE#"),
		Descending: true,
	}, page)
}

// ListByStatus returns invoices whose stored status is status.
func (r *InvoiceRepository) ListByStatus(ctx context.Context, status domain.InvoiceStatus, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	return r.listPage(ctx, dynamo.QueryInput{
		Index: dynamo.GSI2,
		Key:   dynamo.PartitionEquals(dynamo.GSI2.PKAttr(), "STATUS#"+string(status)),
	}, page)
}

// ListOverdue returns collectible invoices due strictly before asOf
// (YYYY-MM-DD), oldest due date first. Disputed invoices are excluded
// until the dispute is resolved.
func (r *InvoiceRepository) ListOverdue(ctx context.Context, asOf string, page domain.PageRequest) (domain.Page[domain.Invoice], error) {
	return r.listPage(ctx, dynamo.QueryInput{
		Index: dynamo.GSI3,
		Key:   dynamo.PartitionEquals(dynamo.GSI3.PKAttr(), dynamo.OverduePK).LessThan(dynamo.GSI3.SKAttr(), asOf),
		// Drafts and disputed invoices sit in the overdue index but are not collectible.
		Filters: []dynamo.Filter{
			dynamo.Ne("status", domain.InvoiceDraft),
			dynamo.Ne("status", domain.InvoiceDisputed),
		},
	}, page)
}

// Update changes editable fields. Paid and cancelled invoices are immutable.
// Replacing the items recomputes totals and rewrites the item rows.
func (r *InvoiceRepository) Update(ctx context.Context, id string, req *domain.UpdateInvoiceRequest) (*domain.Invoice, error) {
	current, inv, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status.Terminal() {
		return nil, &domain.ErrConflict{Resource: resInvoice, Message: fmt.Sprintf("%s invoice cannot be modified", inv.Status)}
	}

	if req.Items != nil && len(req.Items) == 0 {
		return nil, &domain.ErrValidation{Field: "items", Message: "must not be empty"}
	}

	set := map[string]any{}
	if req.DueDate != nil {
		set["due_date"] = *req.DueDate
		moved := *inv
		moved.DueDate = *req.DueDate
		if restored := moved.RestoredStatus(r.today()); restored != inv.Status {
			set["status"] = restored
		}
	}
	if req.Notes != nil {
		set["notes"] = *req.Notes
	}
	if req.TermsConditions != nil {
		set["terms_conditions"] = *req.TermsConditions
	}
	taxRate, discount := inv.TaxRate, inv.DiscountAmount
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
		set["tax_rate"] = taxRate
	}
	if req.DiscountAmount != nil {
		discount = *req.DiscountAmount
		set["discount_amount"] = discount
	}

	oldItems, err := r.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	items := oldItems
	if req.Items != nil {
		items = domain.ItemsFromInput(req.Items)
		set["item_count"] = len(items)
	}
	if req.Items != nil || req.TaxRate != nil || req.DiscountAmount != nil {
		total := decimal.NewFromFloat(inv.TotalAmount)
		if len(items) > 0 {
			t := domain.ComputeTotals(items, taxRate, discount)
			set["subtotal"] = t.Subtotal.InexactFloat64()
			set["tax_amount"] = t.TaxAmount.InexactFloat64()
			total = t.TotalAmount
		}
		set["total_amount"] = total.InexactFloat64()
		set["balance_due"] = domain.BalanceDue(total, decimal.NewFromFloat(inv.AmountPaid)).InexactFloat64()
	}

	if status, ok := set["status"]; ok {
		r.logger.Info("invoice status restored",
			zap.String("invoice_id", id),
			zap.String("from", string(inv.Status)),
			zap.Any("to", status),
		)
	}
	if req.Items != nil {
		for _, old := range oldItems {
			if old.Line > len(items) {
				if err := r.store.Delete(ctx, r.table, dynamo.ItemKey(id, old.Line)); err != nil {
					return nil, translate(err, resInvoice, id)
				}
			}
		}
		if err := r.writeItems(ctx, id, items); err != nil {
			return nil, err
		}
	}

	item, err := r.updateEntity(ctx, dynamo.EntityInvoice, resInvoice, id, current, set)
	if err != nil {
		return nil, err
	}
	updated := invoiceFromItem(item)
	updated.Items = items
	updated.Status = updated.EffectiveStatus(r.today())
	return updated, nil
}

// SetStatus moves the invoice to status if the state machine allows it.
// Paid and partial are reached only through ApplyPayment and overdue only
// through MarkOverdue.
func (r *InvoiceRepository) SetStatus(ctx context.Context, id string, status domain.InvoiceStatus) (*domain.Invoice, error) {
	switch status {
	case domain.InvoicePaid, domain.InvoicePartial:
		return nil, &domain.ErrValidation{Field: "status", Message: "paid and partial are set by recording payments"}
	case domain.InvoiceOverdue:
		return nil, &domain.ErrValidation{Field: "status", Message: "overdue is derived from the due date"}
	}
	current, inv, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(inv.Status, status) {
		return nil, &domain.ErrInvalidTransition{From: inv.Status, To: status}
	}

	set := map[string]any{"status": status}
	if status == domain.InvoiceSent && inv.SentAt == nil {
		set["sent_at"] = r.now()
	}
	item, err := r.updateEntity(ctx, dynamo.EntityInvoice, resInvoice, id, current, set)
	if err != nil {
		return nil, err
	}
	r.logger.Info("invoice status changed",
		zap.String("invoice_id", id),
		zap.String("from", string(inv.Status)),
		zap.String("to", string(status)),
	)
	return invoiceFromItem(item), nil
}

// MarkOverdue persists the overdue status of a collectible invoice whose
// due date is before today (YYYY-MM-DD).
func (r *InvoiceRepository) MarkOverdue(ctx context.Context, id, today string) (*domain.Invoice, error) {
	current, inv, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.PastDue(today) {
		return nil, &domain.ErrValidation{Field: "due_date", Message: fmt.Sprintf("invoice is due %s, not before %s", inv.DueDate, today)}
	}
	if !domain.CanTransition(inv.Status, domain.InvoiceOverdue) {
		return nil, &domain.ErrInvalidTransition{From: inv.Status, To: domain.InvoiceOverdue}
	}
	item, err := r.updateEntity(ctx, dynamo.EntityInvoice, resInvoice, id, current, map[string]any{"status": domain.InvoiceOverdue})
	if err != nil {
		return nil, err
	}
	r.logger.Info("invoice marked overdue",
		zap.String("invoice_id", id),
		zap.String("from", string(inv.Status)),
		zap.String("due_date", inv.DueDate),
	)
	return invoiceFromItem(item), nil
}

// ApplyPayment adds amount to amount_paid, recomputes the balance and moves
// the invoice to paid or partial. The invoice is re-read by primary key so
// the balance is computed from the latest stored state.
func (r *InvoiceRepository) ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (*domain.Invoice, error) {
	current, inv, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	newPaid, balance, status := domain.ApplyPayment(
		decimal.NewFromFloat(inv.TotalAmount),
		decimal.NewFromFloat(inv.AmountPaid),
		amount,
	)
	if !domain.CanTransition(inv.Status, status) {
		return nil, &domain.ErrInvalidTransition{From: inv.Status, To: status}
	}

	set := map[string]any{
		"amount_paid": newPaid.InexactFloat64(),
		"balance_due": balance.InexactFloat64(),
		"status":      status,
	}
	if status == domain.InvoicePaid {
		set["paid_at"] = r.now()
	}
	item, err := r.updateEntity(ctx, dynamo.EntityInvoice, resInvoice, id, current, set)
	if err != nil {
		return nil, err
	}
	return invoiceFromItem(item), nil
}

// Delete cancels the invoice. The record is kept.
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.SetStatus(ctx, id, domain.InvoiceCancelled)
	return err
}

func invoiceAttrs(inv *domain.Invoice) map[string]any {
	return map[string]any{
		"id":               inv.ID,
		"company_id":       inv.CompanyID,
		"customer_id":      inv.CustomerID,
		"invoice_number":   inv.InvoiceNumber,
		"status":           inv.Status,
		"issue_date":       inv.IssueDate,
		"due_date":         inv.DueDate,
		"currency":         inv.Currency,
		"subtotal":         inv.Subtotal,
		"tax_rate":         inv.TaxRate,
		"tax_amount":       inv.TaxAmount,
		"discount_amount":  inv.DiscountAmount,
		"total_amount":     inv.TotalAmount,
		"amount_paid":      inv.AmountPaid,
		"balance_due":      inv.BalanceDue,
		"payment_terms":    inv.PaymentTerms,
		"notes":            inv.Notes,
		"terms_conditions": inv.TermsConditions,
		"created_by":       inv.CreatedBy,
		"sent_at":          timeOrNil(inv.SentAt),
		"paid_at":          timeOrNil(inv.PaidAt),
		"item_count":       len(inv.Items),
		"created_at":       inv.CreatedAt,
	}
}

func invoiceFromItem(m map[string]any) *domain.Invoice {
	inv := &domain.Invoice{
		ID:              attrString(m, "id"),
		CompanyID:       attrString(m, "company_id"),
		CustomerID:      attrString(m, "customer_id"),
		InvoiceNumber:   attrString(m, "invoice_number"),
		Status:          domain.InvoiceStatus(attrString(m, "status")),
		IssueDate:       attrString(m, "issue_date"),
		DueDate:         attrString(m, "due_date"),
		Currency:        attrString(m, "currency"),
		Subtotal:        attrFloat(m, "subtotal"),
		TaxRate:         attrFloat(m, "tax_rate"),
		TaxAmount:       attrFloat(m, "tax_amount"),
		DiscountAmount:  attrFloat(m, "discount_amount"),
		TotalAmount:     attrFloat(m, "total_amount"),
		AmountPaid:      attrFloat(m, "amount_paid"),
		BalanceDue:      attrFloat(m, "balance_due"),
		PaymentTerms:    attrInt(m, "payment_terms"),
		Notes:           attrString(m, "notes"),
		TermsConditions: attrString(m, "terms_conditions"),
		CreatedBy:       attrString(m, "created_by"),
		SentAt:          attrTimePtr(m, "sent_at"),
		PaidAt:          attrTimePtr(m, "paid_at"),
		Items:           []domain.InvoiceItem{},
		CreatedAt:       attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:       attrTime(m, dynamo.AttrUpdatedAt),
	}
	if inv.Status == "" {
		inv.Status = domain.InvoiceDraft
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	return inv
}
