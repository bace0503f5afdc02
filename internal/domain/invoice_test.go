package domain_test

import (
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.InvoiceStatus
		want     bool
	}{
		{domain.InvoiceDraft, domain.InvoiceSent, true},
		{domain.InvoiceDraft, domain.InvoicePaid, false},
		{domain.InvoiceSent, domain.InvoicePartial, true},
		{domain.InvoicePartial, domain.InvoicePartial, true},
		{domain.InvoiceOverdue, domain.InvoicePaid, true},
		{domain.InvoiceDisputed, domain.InvoiceSent, true},
		{domain.InvoicePaid, domain.InvoiceSent, false},
		{domain.InvoiceCancelled, domain.InvoiceDraft, false},
	}
	for _, tt := range tests {
		if got := domain.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestComputeTotals(t *testing.T) {
	items := []domain.InvoiceItem{
		{Description: "hours", Quantity: 3, UnitPrice: 33.33},
		{Description: "licence", Quantity: 1, UnitPrice: 200, DiscountPercent: 25, TaxPercent: 10},
	}
	got := domain.ComputeTotals(items, 5, 10)

	if !got.Subtotal.Equal(decimal.RequireFromString("264.99")) {
		t.Errorf("subtotal = %s, want 264.99", got.Subtotal)
	}
	if !got.TaxAmount.Equal(decimal.RequireFromString("13.25")) {
		t.Errorf("tax = %s, want 13.25", got.TaxAmount)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("268.24")) {
		t.Errorf("total = %s, want 268.24", got.TotalAmount)
	}
	if items[0].Line != 1 || items[1].Line != 2 {
		t.Errorf("lines not numbered: %d, %d", items[0].Line, items[1].Line)
	}
	if items[1].LineTotal != 165 {
		t.Errorf("line total = %v, want 165", items[1].LineTotal)
	}
}

func TestComputeTotalsFloorsAtZero(t *testing.T) {
	got := domain.ComputeTotals([]domain.InvoiceItem{{Quantity: 1, UnitPrice: 10}}, 0, 50)
	if !got.TotalAmount.IsZero() {
		t.Errorf("total = %s, want 0", got.TotalAmount)
	}
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		status domain.InvoiceStatus
		due    string
		paid   float64
		want   domain.InvoiceStatus
	}{
		{domain.InvoiceSent, "2024-01-01", 0, domain.InvoiceOverdue},
		{domain.InvoiceViewed, "2024-01-01", 0, domain.InvoiceOverdue},
		{domain.InvoiceSent, "2024-06-01", 0, domain.InvoiceSent},
		{domain.InvoiceSent, "2024-05-01", 0, domain.InvoiceSent},
		{domain.InvoicePartial, "2024-01-01", 10, domain.InvoicePartial},
		{domain.InvoiceDraft, "2024-01-01", 0, domain.InvoiceDraft},
		{domain.InvoicePaid, "2024-01-01", 100, domain.InvoicePaid},
		{domain.InvoiceOverdue, "2024-01-01", 0, domain.InvoiceOverdue},
		{domain.InvoiceOverdue, "2024-06-01", 0, domain.InvoiceSent},
		{domain.InvoiceOverdue, "2024-05-01", 25, domain.InvoicePartial},
	}
	for _, tt := range tests {
		inv := &domain.Invoice{Status: tt.status, DueDate: tt.due, AmountPaid: tt.paid}
		if got := inv.EffectiveStatus("2024-05-01"); got != tt.want {
			t.Errorf("%s due %s: got %s, want %s", tt.status, tt.due, got, tt.want)
		}
	}
}

func TestCreateInvoiceRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.CreateInvoiceRequest
		wantErr string
	}{
		{"missing customer", domain.CreateInvoiceRequest{TotalAmount: 10}, "customer_id"},
		{"no items no total", domain.CreateInvoiceRequest{CustomerID: "c"}, "items"},
		{"due before issue", domain.CreateInvoiceRequest{CustomerID: "c", TotalAmount: 1, IssueDate: "2024-02-01", DueDate: "2024-01-01"}, "due_date"},
		{"bad date", domain.CreateInvoiceRequest{CustomerID: "c", TotalAmount: 1, DueDate: "01/02/2024"}, "due_date"},
		{"zero quantity", domain.CreateInvoiceRequest{CustomerID: "c", Items: []domain.InvoiceItemInput{{Description: "x", UnitPrice: 1}}}, "items.quantity"},
		{"discount over 100", domain.CreateInvoiceRequest{CustomerID: "c", Items: []domain.InvoiceItemInput{{Description: "x", Quantity: 1, DiscountPercent: 101}}}, "items.discount_percent"},
		{"ok", domain.CreateInvoiceRequest{CustomerID: "c", Items: []domain.InvoiceItemInput{{Description: "x", Quantity: 1, UnitPrice: 5}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := err.(*domain.ErrValidation)
			if !ok {
				t.Fatalf("expected *ErrValidation, got %T (%v)", err, err)
			}
			if ve.Field != tt.wantErr {
				t.Errorf("field = %q, want %q", ve.Field, tt.wantErr)
			}
		})
	}
}

func TestItemsFromInput(t *testing.T) {
	items := domain.ItemsFromInput([]domain.InvoiceItemInput{
		{Description: "  a  ", Quantity: 2, UnitPrice: 10, TaxPercent: 10},
	})
	if len(items) != 1 || items[0].Line != 1 || items[0].Description != "a" || items[0].LineTotal != 22 {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestUpdateInvoiceRequestValidate(t *testing.T) {
	due := "2024-13-01"
	tests := []struct {
		name    string
		req     domain.UpdateInvoiceRequest
		wantErr string
	}{
		{"empty item list", domain.UpdateInvoiceRequest{Items: []domain.InvoiceItemInput{}}, "items"},
		{"bad due date", domain.UpdateInvoiceRequest{DueDate: &due}, "due_date"},
		{"items omitted", domain.UpdateInvoiceRequest{Items: nil}, ""},
		{"one item", domain.UpdateInvoiceRequest{Items: []domain.InvoiceItemInput{{Description: "x", Quantity: 1}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := err.(*domain.ErrValidation)
			if !ok {
				t.Fatalf("expected *ErrValidation, got %T (%v)", err, err)
			}
			if ve.Field != tt.wantErr {
				t.Errorf("field = %q, want %q", ve.Field, tt.wantErr)
			}
		})
	}
}
