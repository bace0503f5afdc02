package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceCreate_UnknownCustomer(t *testing.T) {
	e := newEnv(t)
	_, err := e.invoices.Create(context.Background(), "user-1", &domain.CreateInvoiceRequest{
		CustomerID: "missing", TotalAmount: 100,
	})
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestInvoiceCreate_DueDateFromCustomerTerms(t *testing.T) {
	e := newEnv(t)
	c := e.customer(t, "billing@acme.test")

	inv, err := e.invoices.Create(context.Background(), "user-1", &domain.CreateInvoiceRequest{
		CustomerID: c.ID,
		IssueDate:  "2024-01-01",
		Items:      []domain.InvoiceItemInput{{Description: "Audit", Quantity: 2, UnitPrice: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", inv.DueDate)
	assert.Equal(t, "co-1", inv.CompanyID)
	assert.Equal(t, "user-1", inv.CreatedBy)
	assert.Equal(t, domain.InvoiceDraft, inv.Status)
	assert.InDelta(t, 100.0, inv.TotalAmount, 0.001)

	events := e.bus.ofType(domain.EventInvoiceCreated)
	require.Len(t, events, 1)
	assert.Equal(t, "invoice", events[0].Source)
	assert.Equal(t, inv.ID, events[0].Detail["invoice_id"])
}

func TestInvoiceChangeStatus_PublishesTransition(t *testing.T) {
	e := newEnv(t)
	c := e.customer(t, "billing@acme.test")
	inv := e.sentInvoice(t, c.ID, 100, "2024-01-01", "2099-12-31")

	assert.Equal(t, domain.InvoiceSent, inv.Status)
	require.NotNil(t, inv.SentAt)

	events := e.bus.ofType(domain.EventInvoiceStatusChanged)
	require.Len(t, events, 1)
	assert.Equal(t, domain.InvoiceDraft, events[0].Detail["from"])
	assert.Equal(t, domain.InvoiceSent, events[0].Detail["to"])

	_, err := e.invoices.ChangeStatus(context.Background(), inv.ID, &domain.StatusChangeRequest{Status: "archived"})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestInvoiceCancel_IsTerminal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	inv := e.sentInvoice(t, c.ID, 100, "2024-01-01", "2099-12-31")

	require.NoError(t, e.invoices.Cancel(ctx, inv.ID))

	_, err := e.invoices.ChangeStatus(ctx, inv.ID, &domain.StatusChangeRequest{Status: domain.InvoiceSent})
	var it *domain.ErrInvalidTransition
	assert.ErrorAs(t, err, &it)
}

func TestInvoiceChangeStatus_OverdueIsDerived(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	inv := e.sentInvoice(t, c.ID, 100, "2024-01-01", "2999-01-01")

	_, err := e.invoices.ChangeStatus(ctx, inv.ID, &domain.StatusChangeRequest{Status: domain.InvoiceOverdue})
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)

	got, err := e.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, got.Status)
}

func TestInvoiceList_RequiresFilter(t *testing.T) {
	e := newEnv(t)
	_, err := e.invoices.List(context.Background(), "", "", domain.PageRequest{})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestRefreshOverdue_PersistsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	late := e.sentInvoice(t, c.ID, 100, "2020-01-01", "2020-01-31")
	e.sentInvoice(t, c.ID, 100, "2020-01-01", "2099-12-31")

	n, err := e.invoices.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, e.bus.batches, 1)
	require.Len(t, e.bus.batches[0], 1)
	ev := e.bus.batches[0][0]
	assert.Equal(t, domain.EventInvoiceOverdue, ev.DetailType)
	assert.Equal(t, late.ID, ev.Detail["invoice_id"])

	n, err = e.invoices.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	page, err := e.invoices.ListOverdue(ctx, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, domain.InvoiceOverdue, page.Items[0].Status)
}
