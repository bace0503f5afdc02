package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCustomerCreate_EmitsAndMirrors(t *testing.T) {
	e := newEnv(t)
	c := e.customer(t, "billing@acme.test")

	assert.Equal(t, domain.DefaultCountry, c.Country)
	assert.Equal(t, domain.DefaultPaymentTerms, c.PaymentTerms)

	events := e.bus.ofType(domain.EventCustomerUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, "customer", events[0].Source)
	assert.Equal(t, "created", events[0].Detail["action"])
	assert.Equal(t, []string{"arn:aws:customer:" + c.ID}, events[0].Resources)

	require.Len(t, e.mirror.upserts, 1)
	assert.Equal(t, c.ID, e.mirror.upserts[0].ID)
}

func TestCustomerCreate_Validation(t *testing.T) {
	e := newEnv(t)
	_, err := e.customers.Create(context.Background(), &domain.CreateCustomerRequest{
		CompanyID: "co-1", CustomerName: "Acme", Email: "not-an-email",
	})
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)
	assert.Empty(t, e.bus.events)
}

func TestCustomerUpdate_EmptyRejected(t *testing.T) {
	e := newEnv(t)
	c := e.customer(t, "billing@acme.test")

	_, err := e.customers.Update(context.Background(), c.ID, &domain.UpdateCustomerRequest{})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestCustomerDelete_MirrorsDeletedState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")

	require.NoError(t, e.customers.Delete(ctx, c.ID))

	got, err := e.customers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerDeleted, got.Status)
	assert.False(t, got.IsActive)

	require.Len(t, e.mirror.upserts, 2)
	assert.Equal(t, domain.CustomerDeleted, e.mirror.upserts[1].Status)

	n, err := e.customers.ActiveCount(ctx, "co-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCustomerList_RequiresCompany(t *testing.T) {
	e := newEnv(t)
	_, err := e.customers.List(context.Background(), "", domain.PageRequest{})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestMirrorParity_InSync(t *testing.T) {
	e := newEnv(t)
	for _, email := range []string{"a@acme.test", "b@acme.test", "c@acme.test"} {
		e.customer(t, email)
	}

	report, err := e.customers.MirrorParity(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.InSync)
	assert.True(t, report.Consistent())
}

func TestMirrorParity_ReportsDrift(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ok := e.customer(t, "ok@acme.test")
	missing := e.customer(t, "missing@acme.test")
	suspended := e.customer(t, "suspended@acme.test")
	deleted := e.customer(t, "deleted@acme.test")

	delete(e.mirror.rows, missing.ID)

	row := e.mirror.rows[suspended.ID]
	row.Status = domain.CustomerSuspended
	e.mirror.rows[suspended.ID] = row

	live := e.mirror.rows[deleted.ID]
	require.NoError(t, e.customers.Delete(ctx, deleted.ID))
	e.mirror.rows[deleted.ID] = live

	e.mirror.rows["ghost"] = domain.Customer{ID: "ghost", CompanyID: "co-1", Status: domain.CustomerActive}

	report, err := e.customers.MirrorParity(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.InSync)
	assert.Equal(t, []string{missing.ID}, report.MissingInMirror)
	assert.ElementsMatch(t, []string{suspended.ID, deleted.ID}, report.Stale)
	assert.Equal(t, []string{"ghost"}, report.ExtraInMirror)
	assert.False(t, report.Consistent())
	assert.NotContains(t, report.Stale, ok.ID)
}

func TestMirrorParity_RequiresMirror(t *testing.T) {
	e := newEnv(t)
	svc := service.NewCustomerService(e.customerRepo, nil, e.bg, zap.NewNop())

	_, err := svc.MirrorParity(context.Background(), "co-1")
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)

	_, err = e.customers.MirrorParity(context.Background(), "")
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}
