package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Invoice
// ============================================================

// InvoiceStatus is a state of the invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoiceViewed    InvoiceStatus = "viewed"
	InvoicePartial   InvoiceStatus = "partial"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceDisputed  InvoiceStatus = "disputed"
)

// DateLayout is the calendar-date format used for issue and due dates.
const DateLayout = "2006-01-02"

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePartial, InvoicePaid,
		InvoiceOverdue, InvoiceCancelled, InvoiceDisputed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

// Collectible reports whether the invoice still expects money, i.e. it can
// become overdue.
func (s InvoiceStatus) Collectible() bool {
	switch s {
	case InvoiceSent, InvoiceViewed, InvoicePartial, InvoiceOverdue:
		return true
	}
	return false
}

var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:    {InvoiceSent, InvoiceCancelled, InvoiceDisputed},
	InvoiceSent:     {InvoiceViewed, InvoicePartial, InvoicePaid, InvoiceOverdue, InvoiceCancelled, InvoiceDisputed},
	InvoiceViewed:   {InvoicePartial, InvoicePaid, InvoiceOverdue, InvoiceCancelled, InvoiceDisputed},
	InvoiceOverdue:  {InvoicePartial, InvoicePaid, InvoiceCancelled, InvoiceDisputed},
	InvoicePartial:  {InvoicePaid, InvoicePartial, InvoiceOverdue, InvoiceCancelled, InvoiceDisputed},
	InvoiceDisputed: {InvoiceSent, InvoiceCancelled},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to InvoiceStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvoiceItem is one line of an invoice. Stored under the invoice partition.
type InvoiceItem struct {
	Line            int     `json:"line"`
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
	LineTotal       float64 `json:"line_total"`
}

// Total returns qty*price*(1-discount%/100)*(1+tax%/100), rounded to cents.
func (it InvoiceItem) Total() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	gross := decimal.NewFromFloat(it.Quantity).Mul(decimal.NewFromFloat(it.UnitPrice))
	discount := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(it.DiscountPercent).Div(hundred))
	tax := decimal.NewFromInt(1).Add(decimal.NewFromFloat(it.TaxPercent).Div(hundred))
	return gross.Mul(discount).Mul(tax).Round(2)
}

// Invoice is a bill issued to a customer.
type Invoice struct {
	ID              string        `json:"id"`
	CompanyID       string        `json:"company_id"`
	CustomerID      string        `json:"customer_id"`
	InvoiceNumber   string        `json:"invoice_number"`
	Status          InvoiceStatus `json:"status"`
	IssueDate       string        `json:"issue_date"`
	DueDate         string        `json:"due_date"`
	Currency        string        `json:"currency"`
	Subtotal        float64       `json:"subtotal"`
	TaxRate         float64       `json:"tax_rate"`
	TaxAmount       float64       `json:"tax_amount"`
	DiscountAmount  float64       `json:"discount_amount"`
	TotalAmount     float64       `json:"total_amount"`
	AmountPaid      float64       `json:"amount_paid"`
	BalanceDue      float64       `json:"balance_due"`
	PaymentTerms    int           `json:"payment_terms"`
	Notes           string        `json:"notes,omitempty"`
	TermsConditions string        `json:"terms_conditions,omitempty"`
	CreatedBy       string        `json:"created_by,omitempty"`
	SentAt          *time.Time    `json:"sent_at,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	Items           []InvoiceItem `json:"items"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PastDue reports whether the due date is before today (both YYYY-MM-DD).
func (inv *Invoice) PastDue(today string) bool {
	return inv.DueDate != "" && inv.DueDate < today
}

// EffectiveStatus derives the overdue state at read time. A sent or viewed
// invoice past its due date reads as overdue even if the periodic refresh
// has not persisted it yet. Partial invoices keep their status. A stored
// overdue invoice whose due date is no longer past reads as partial when
// something was paid and as sent otherwise.
func (inv *Invoice) EffectiveStatus(today string) InvoiceStatus {
	switch {
	case (inv.Status == InvoiceSent || inv.Status == InvoiceViewed) && inv.PastDue(today):
		return InvoiceOverdue
	case inv.Status == InvoiceOverdue && !inv.PastDue(today):
		return inv.resumedStatus()
	}
	return inv.Status
}

// RestoredStatus is the status an overdue invoice returns to once its due
// date moves out of the past. Other statuses are returned unchanged.
func (inv *Invoice) RestoredStatus(today string) InvoiceStatus {
	if inv.Status == InvoiceOverdue && !inv.PastDue(today) {
		return inv.resumedStatus()
	}
	return inv.Status
}

func (inv *Invoice) resumedStatus() InvoiceStatus {
	if inv.AmountPaid > 0 {
		return InvoicePartial
	}
	return InvoiceSent
}

// Totals holds the money fields derived from line items.
type Totals struct {
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
}

// ComputeTotals fills each item's line total and returns
// subtotal = sum(line totals), tax = subtotal*rate/100, total = subtotal+tax-discount.
func ComputeTotals(items []InvoiceItem, taxRate, discount float64) Totals {
	subtotal := decimal.Zero
	for i := range items {
		line := items[i].Total()
		items[i].LineTotal = line.InexactFloat64()
		if items[i].Line == 0 {
			items[i].Line = i + 1
		}
		subtotal = subtotal.Add(line)
	}
	tax := subtotal.Mul(decimal.NewFromFloat(taxRate)).Div(decimal.NewFromInt(100)).Round(2)
	total := subtotal.Add(tax).Sub(decimal.NewFromFloat(discount))
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{Subtotal: subtotal, TaxAmount: tax, TotalAmount: total}
}

// BalanceDue returns max(0, total - paid).
func BalanceDue(total, paid decimal.Decimal) decimal.Decimal {
	b := total.Sub(paid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// InvoiceItemInput is one requested line.
type InvoiceItemInput struct {
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	TaxPercent      float64 `json:"tax_percent,omitempty"`
}

// ItemsFromInput converts inputs to numbered invoice lines with computed totals.
func ItemsFromInput(in []InvoiceItemInput) []InvoiceItem {
	items := make([]InvoiceItem, len(in))
	for i, it := range in {
		items[i] = InvoiceItem{
			Line:            i + 1,
			Description:     strings.TrimSpace(it.Description),
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountPercent: it.DiscountPercent,
			TaxPercent:      it.TaxPercent,
		}
		items[i].LineTotal = items[i].Total().InexactFloat64()
	}
	return items
}

// CreateInvoiceRequest is the payload for POST /v1/invoices.
// When Items is empty, TotalAmount is taken as given.
type CreateInvoiceRequest struct {
	CustomerID      string             `json:"customer_id"`
	IssueDate       string             `json:"issue_date,omitempty"`
	DueDate         string             `json:"due_date,omitempty"`
	Currency        string             `json:"currency,omitempty"`
	TaxRate         float64            `json:"tax_rate,omitempty"`
	DiscountAmount  float64            `json:"discount_amount,omitempty"`
	TotalAmount     float64            `json:"total_amount,omitempty"`
	PaymentTerms    *int               `json:"payment_terms,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	TermsConditions string             `json:"terms_conditions,omitempty"`
	Items           []InvoiceItemInput `json:"items,omitempty"`
}

// Validate checks required fields and ranges.
func (r *CreateInvoiceRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return &ErrValidation{Field: "customer_id", Message: "is required"}
	}
	if r.IssueDate != "" {
		if _, err := time.Parse(DateLayout, r.IssueDate); err != nil {
			return &ErrValidation{Field: "issue_date", Message: "must be YYYY-MM-DD"}
		}
	}
	if r.DueDate != "" {
		if _, err := time.Parse(DateLayout, r.DueDate); err != nil {
			return &ErrValidation{Field: "due_date", Message: "must be YYYY-MM-DD"}
		}
	}
	if r.IssueDate != "" && r.DueDate != "" && r.DueDate < r.IssueDate {
		return &ErrValidation{Field: "due_date", Message: "must not be before issue_date"}
	}
	if r.TaxRate < 0 || r.TaxRate > 100 {
		return &ErrValidation{Field: "tax_rate", Message: "must be between 0 and 100"}
	}
	if r.DiscountAmount < 0 {
		return &ErrValidation{Field: "discount_amount", Message: "must be >= 0"}
	}
	if r.PaymentTerms != nil && (*r.PaymentTerms < 0 || *r.PaymentTerms > 365) {
		return &ErrValidation{Field: "payment_terms", Message: "must be between 0 and 365"}
	}
	if len(r.Items) == 0 && r.TotalAmount <= 0 {
		return &ErrValidation{Field: "items", Message: "at least one item or a positive total_amount is required"}
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.Description) == "" {
			return &ErrValidation{Field: "items.description", Message: "is required"}
		}
		if it.Quantity <= 0 {
			return &ErrValidation{Field: "items.quantity", Message: "must be > 0"}
		}
		if it.UnitPrice < 0 {
			return &ErrValidation{Field: "items.unit_price", Message: "must be >= 0"}
		}
		if err := validateItemPercents(it); err != nil {
			return err
		}
	}
	return nil
}

func validateItemPercents(it InvoiceItemInput) error {
	if it.DiscountPercent < 0 || it.DiscountPercent > 100 {
		return &ErrValidation{Field: "items.discount_percent", Message: "must be between 0 and 100"}
	}
	if it.TaxPercent < 0 || it.TaxPercent > 100 {
		return &ErrValidation{Field: "items.tax_percent", Message: "must be between 0 and 100"}
	}
	return nil
}

// UpdateInvoiceRequest is the payload for PUT /v1/invoices/{id}.
// Status changes go through the dedicated status endpoint.
type UpdateInvoiceRequest struct {
	DueDate         *string            `json:"due_date,omitempty"`
	TaxRate         *float64           `json:"tax_rate,omitempty"`
	DiscountAmount  *float64           `json:"discount_amount,omitempty"`
	Notes           *string            `json:"notes,omitempty"`
	TermsConditions *string            `json:"terms_conditions,omitempty"`
	Items           []InvoiceItemInput `json:"items,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateInvoiceRequest) Validate() error {
	if r.DueDate != nil {
		if _, err := time.Parse(DateLayout, *r.DueDate); err != nil {
			return &ErrValidation{Field: "due_date", Message: "must be YYYY-MM-DD"}
		}
	}
	if r.TaxRate != nil && (*r.TaxRate < 0 || *r.TaxRate > 100) {
		return &ErrValidation{Field: "tax_rate", Message: "must be between 0 and 100"}
	}
	if r.DiscountAmount != nil && *r.DiscountAmount < 0 {
		return &ErrValidation{Field: "discount_amount", Message: "must be >= 0"}
	}
	if r.Items != nil && len(r.Items) == 0 {
		return &ErrValidation{Field: "items", Message: "must not be empty"}
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.Description) == "" {
			return &ErrValidation{Field: "items.description", Message: "is required"}
		}
		if it.Quantity <= 0 {
			return &ErrValidation{Field: "items.quantity", Message: "must be > 0"}
		}
		if err := validateItemPercents(it); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the request changes nothing.
func (r *UpdateInvoiceRequest) Empty() bool {
	return r.DueDate == nil && r.TaxRate == nil && r.DiscountAmount == nil &&
		r.Notes == nil && r.TermsConditions == nil && r.Items == nil
}

// StatusChangeRequest is the payload for POST /v1/invoices/{id}/status.
type StatusChangeRequest struct {
	Status InvoiceStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}
