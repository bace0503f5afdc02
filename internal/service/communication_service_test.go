package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCommService(e *env, email *mockEmail) *service.CommunicationService {
	var sender port.EmailSender
	if email != nil {
		sender = email
	}
	return service.NewCommunicationService(e.commRepo, e.customerRepo, e.invoiceRepo, sender, nil, e.bg, zap.NewNop())
}

func TestSendEmail_DeliveredInBackground(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	inv := e.sentInvoice(t, c.ID, 250, "2024-01-01", "2099-12-31")
	email := &mockEmail{}
	svc := newCommService(e, email)

	sent, err := svc.Send(ctx, &domain.SendCommunicationRequest{
		CustomerID: c.ID,
		InvoiceID:  inv.ID,
		Template:   domain.TemplatePaymentReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, sent.Channel)
	assert.Equal(t, "billing@acme.test", email.recipient)
	assert.Contains(t, email.subject, inv.InvoiceNumber)
	assert.Contains(t, email.body, "USD 250.00")

	got, err := svc.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommSent, got.Status)
	assert.Equal(t, "ses-msg-1", got.ProviderMessageID)
	assert.NotNil(t, got.SentAt)
	assert.Len(t, e.bus.ofType(domain.EventCommunicationSent), 1)
}

func TestSendSMS_UnconfiguredChannelFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	svc := newCommService(e, nil)

	sent, err := svc.Send(ctx, &domain.SendCommunicationRequest{
		CustomerID: c.ID,
		Channel:    domain.ChannelSMS,
		Content:    "Your invoice is ready",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", sent.Recipient)

	got, err := svc.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.NotNil(t, got.FailedAt)
	assert.Empty(t, e.bus.ofType(domain.EventCommunicationSent))
}

func TestCommunicationHistory_Summarizes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, "billing@acme.test")
	svc := newCommService(e, &mockEmail{})

	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, &domain.SendCommunicationRequest{CustomerID: c.ID, Channel: domain.ChannelInApp, Content: "hello"})
		require.NoError(t, err)
	}
	first, err := svc.Send(ctx, &domain.SendCommunicationRequest{CustomerID: c.ID, Content: "hi"})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, first.ID, &domain.UpdateCommStatusRequest{Status: domain.CommOpened})
	require.NoError(t, err)

	h, err := svc.History(ctx, c.ID, domain.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, h.Communications, 4)
	assert.Equal(t, 4, h.TotalSent)
	assert.Equal(t, 1, h.TotalDelivered)
	assert.Equal(t, 1, h.TotalOpened)

	_, err = svc.UpdateStatus(ctx, first.ID, &domain.UpdateCommStatusRequest{Status: "lost"})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}
