package repository

import (
	"context"
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentInvoice(total float64, due string) *domain.Invoice {
	return &domain.Invoice{
		CompanyID:   "co-1",
		CustomerID:  "cust-1",
		Status:      domain.InvoiceSent,
		IssueDate:   "2020-01-01",
		DueDate:     due,
		TotalAmount: total,
	}
}

func TestInvoiceCreateComputesTotals(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, &domain.Invoice{
		CompanyID:      "co-1",
		CustomerID:     "cust-1",
		PaymentTerms:   30,
		TaxRate:        10,
		DiscountAmount: 5,
		Items: []domain.InvoiceItem{
			{Description: "Consulting", Quantity: 2, UnitPrice: 100},
			{Description: "Support", Quantity: 1, UnitPrice: 50, DiscountPercent: 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceDraft, inv.Status)
	assert.Equal(t, "USD", inv.Currency)
	assert.Regexp(t, `^INV-\d{6}-[0-9A-F]{6}$`, inv.InvoiceNumber)
	assert.Equal(t, 245.0, inv.Subtotal)
	assert.Equal(t, 24.5, inv.TaxAmount)
	assert.Equal(t, 264.5, inv.TotalAmount)
	assert.Equal(t, inv.TotalAmount, inv.BalanceDue)

	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, 1, got.Items[0].Line)
	assert.Equal(t, 200.0, got.Items[0].LineTotal)
	assert.Equal(t, 45.0, got.Items[1].LineTotal)
	assert.Equal(t, 264.5, got.TotalAmount)
}

func TestInvoicePaymentsMovePartialThenPaid(t *testing.T) {
	ctx := context.Background()
	store := dynamo.NewMemStore()
	repo := NewInvoiceRepository(store, testTable, nil)

	inv, err := repo.Create(ctx, sentInvoice(1000, "2020-02-01"))
	require.NoError(t, err)

	overdue, err := repo.ListOverdue(ctx, "2021-01-01", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, overdue.Items, 1)
	assert.Equal(t, domain.InvoiceOverdue, overdue.Items[0].Status)

	after, err := repo.ApplyPayment(ctx, inv.ID, decimal.NewFromInt(400))
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartial, after.Status)
	assert.Equal(t, 400.0, after.AmountPaid)
	assert.Equal(t, 600.0, after.BalanceDue)

	after, err = repo.ApplyPayment(ctx, inv.ID, decimal.NewFromInt(600))
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, after.Status)
	assert.Equal(t, 0.0, after.BalanceDue)
	assert.NotNil(t, after.PaidAt)

	raw, err := store.Get(ctx, testTable, dynamo.PrimaryKey(dynamo.EntityInvoice, inv.ID))
	require.NoError(t, err)
	assert.NotContains(t, raw, dynamo.GSI3.PKAttr())
	assert.Equal(t, "STATUS#paid", raw[dynamo.GSI2.PKAttr()])

	overdue, err = repo.ListOverdue(ctx, "2021-01-01", domain.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, overdue.Items)

	paid, err := repo.ListByStatus(ctx, domain.InvoicePaid, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, paid.Items, 1)
	assert.Equal(t, inv.ID, paid.Items[0].ID)
}

func TestInvoiceOverpaymentFloorsBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, sentInvoice(100, "2999-01-01"))
	require.NoError(t, err)
	after, err := repo.ApplyPayment(ctx, inv.ID, decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, after.Status)
	assert.Equal(t, 150.0, after.AmountPaid)
	assert.Equal(t, 0.0, after.BalanceDue)
}

func TestInvoiceStatusMachine(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, &domain.Invoice{CompanyID: "co-1", CustomerID: "cust-1", TotalAmount: 50, PaymentTerms: 30})
	require.NoError(t, err)

	_, err = repo.SetStatus(ctx, inv.ID, domain.InvoiceViewed)
	var bad *domain.ErrInvalidTransition
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, domain.InvoiceDraft, bad.From)

	_, err = repo.SetStatus(ctx, inv.ID, domain.InvoicePaid)
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)

	sent, err := repo.SetStatus(ctx, inv.ID, domain.InvoiceSent)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, sent.Status)
	assert.NotNil(t, sent.SentAt)

	require.NoError(t, repo.Delete(ctx, inv.ID))
	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceCancelled, got.Status)

	_, err = repo.SetStatus(ctx, inv.ID, domain.InvoiceSent)
	assert.ErrorAs(t, err, &bad)
}

func TestInvoiceUpdateRejectedWhenTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, sentInvoice(100, "2999-01-01"))
	require.NoError(t, err)
	_, err = repo.ApplyPayment(ctx, inv.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	notes := "late edit"
	_, err = repo.Update(ctx, inv.ID, &domain.UpdateInvoiceRequest{Notes: &notes})
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestInvoiceUpdateReplacesItems(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, &domain.Invoice{
		CompanyID:  "co-1",
		CustomerID: "cust-1",
		Items: []domain.InvoiceItem{
			{Description: "a", Quantity: 1, UnitPrice: 10},
			{Description: "b", Quantity: 1, UnitPrice: 20},
			{Description: "c", Quantity: 1, UnitPrice: 30},
		},
	})
	require.NoError(t, err)
	_, err = repo.ApplyPayment(ctx, inv.ID, decimal.NewFromInt(0))
	require.Error(t, err, "draft cannot take payments")

	updated, err := repo.Update(ctx, inv.ID, &domain.UpdateInvoiceRequest{
		Items: []domain.InvoiceItemInput{{Description: "only", Quantity: 2, UnitPrice: 15}},
	})
	require.NoError(t, err)
	assert.Equal(t, 30.0, updated.TotalAmount)
	assert.Equal(t, 30.0, updated.BalanceDue)

	items, err := repo.Items(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "only", items[0].Description)
}

func TestInvoiceSetStatusRejectsOverdue(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	inv, err := repo.Create(ctx, sentInvoice(100, "2999-01-01"))
	require.NoError(t, err)

	_, err = repo.SetStatus(ctx, inv.ID, domain.InvoiceOverdue)
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)

	got, err := repo.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, got.Status)
}

func TestInvoiceMarkOverdue(t *testing.T) {
	ctx := context.Background()
	store := dynamo.NewMemStore()
	repo := NewInvoiceRepository(store, testTable, nil)

	future, err := repo.Create(ctx, sentInvoice(100, "2999-01-01"))
	require.NoError(t, err)
	_, err = repo.MarkOverdue(ctx, future.ID, "2024-05-01")
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "due_date", ve.Field)

	past, err := repo.Create(ctx, sentInvoice(100, "2020-02-01"))
	require.NoError(t, err)
	marked, err := repo.MarkOverdue(ctx, past.ID, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOverdue, marked.Status)

	raw, err := store.Get(ctx, testTable, dynamo.PrimaryKey(dynamo.EntityInvoice, past.ID))
	require.NoError(t, err)
	assert.Equal(t, "STATUS#overdue", raw[dynamo.GSI2.PKAttr()])

	_, err = repo.MarkOverdue(ctx, past.ID, "2024-05-01")
	var bad *domain.ErrInvalidTransition
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, domain.InvoiceOverdue, bad.From)
}

func TestInvoiceUpdateDueDateRestoresStatus(t *testing.T) {
	ctx := context.Background()
	store := dynamo.NewMemStore()
	repo := NewInvoiceRepository(store, testTable, nil)

	unpaid, err := repo.Create(ctx, sentInvoice(100, "2020-02-01"))
	require.NoError(t, err)
	partly, err := repo.Create(ctx, sentInvoice(100, "2020-02-01"))
	require.NoError(t, err)
	_, err = repo.ApplyPayment(ctx, partly.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	for _, id := range []string{unpaid.ID, partly.ID} {
		_, err = repo.MarkOverdue(ctx, id, "2024-05-01")
		require.NoError(t, err)
	}

	later := "2999-01-01"
	updated, err := repo.Update(ctx, unpaid.ID, &domain.UpdateInvoiceRequest{DueDate: &later})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, updated.Status)
	updated, err = repo.Update(ctx, partly.ID, &domain.UpdateInvoiceRequest{DueDate: &later})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartial, updated.Status)

	got, err := repo.GetByID(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, got.Status)
	raw, err := store.Get(ctx, testTable, dynamo.PrimaryKey(dynamo.EntityInvoice, unpaid.ID))
	require.NoError(t, err)
	assert.Equal(t, "STATUS#sent", raw[dynamo.GSI2.PKAttr()])

	stillOverdue, err := repo.ListByStatus(ctx, domain.InvoiceOverdue, domain.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, stillOverdue.Items)
}

func TestInvoiceUpdateItemsRefreshesTotals(t *testing.T) {
	ctx := context.Background()
	store := dynamo.NewMemStore()
	repo := NewInvoiceRepository(store, testTable, nil)

	inv, err := repo.Create(ctx, &domain.Invoice{
		CompanyID:  "co-1",
		CustomerID: "cust-1",
		TaxRate:    10,
		Items: []domain.InvoiceItem{
			{Description: "a", Quantity: 1, UnitPrice: 10},
			{Description: "b", Quantity: 1, UnitPrice: 20},
		},
	})
	require.NoError(t, err)

	_, err = repo.Update(ctx, inv.ID, &domain.UpdateInvoiceRequest{Items: []domain.InvoiceItemInput{}})
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items", ve.Field)
	items, err := repo.Items(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	updated, err := repo.Update(ctx, inv.ID, &domain.UpdateInvoiceRequest{
		Items: []domain.InvoiceItemInput{{Description: "c", Quantity: 1, UnitPrice: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.Subtotal)
	assert.Equal(t, 5.0, updated.TaxAmount)
	assert.Equal(t, 55.0, updated.TotalAmount)

	raw, err := store.Get(ctx, testTable, dynamo.PrimaryKey(dynamo.EntityInvoice, inv.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 1, raw["item_count"])
}

func TestInvoiceListOverdueSkipsDisputed(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	open, err := repo.Create(ctx, sentInvoice(100, "2020-02-01"))
	require.NoError(t, err)
	disputed, err := repo.Create(ctx, sentInvoice(200, "2020-03-01"))
	require.NoError(t, err)
	_, err = repo.SetStatus(ctx, disputed.ID, domain.InvoiceDisputed)
	require.NoError(t, err)

	page, err := repo.ListOverdue(ctx, "2024-05-01", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, open.ID, page.Items[0].ID)
}

func TestInvoiceListsByCustomerNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(dynamo.NewMemStore(), testTable, nil)

	for _, issue := range []string{"2024-01-01", "2024-03-01", "2024-02-01"} {
		inv := sentInvoice(10, "2999-01-01")
		inv.IssueDate = issue
		_, err := repo.Create(ctx, inv)
		require.NoError(t, err)
	}

	page, err := repo.ListByCustomer(ctx, "cust-1", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "2024-03-01", page.Items[0].IssueDate)
	assert.Equal(t, "2024-01-01", page.Items[2].IssueDate)

	byCompany, err := repo.ListByCompany(ctx, "co-1", domain.PageRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byCompany.Items, 1)
	assert.NotEmpty(t, byCompany.NextToken)
}
