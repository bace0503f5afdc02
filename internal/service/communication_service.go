package service

import (
	"context"
	"fmt"
	"html"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var commTracer = otel.Tracer("service/communication")

// CommunicationService records outbound messages and delivers them in the
// background through the channel's provider.
type CommunicationService struct {
	comms     *repository.CommunicationRepository
	customers *repository.CustomerRepository
	invoices  *repository.InvoiceRepository
	email     port.EmailSender
	sms       port.SMSSender
	bg        *Background
	logger    *zap.Logger
}

// NewCommunicationService creates the service. email and sms may be nil;
// messages on an unconfigured channel are marked failed.
func NewCommunicationService(
	comms *repository.CommunicationRepository,
	customers *repository.CustomerRepository,
	invoices *repository.InvoiceRepository,
	email port.EmailSender,
	sms port.SMSSender,
	bg *Background,
	logger *zap.Logger,
) *CommunicationService {
	return &CommunicationService{
		comms:     comms,
		customers: customers,
		invoices:  invoices,
		email:     email,
		sms:       sms,
		bg:        bg,
		logger:    logger,
	}
}

// Send records the message as pending and schedules delivery. In-app and
// webhook messages have no provider and are marked sent immediately.
func (s *CommunicationService) Send(ctx context.Context, req *domain.SendCommunicationRequest) (*domain.Communication, error) {
	ctx, span := commTracer.Start(ctx, "CommunicationService.Send")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("channel", string(req.Channel)), attribute.String("template", string(req.Template)))

	cust, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	var inv *domain.Invoice
	if req.InvoiceID != "" {
		if inv, err = s.invoices.GetByID(ctx, req.InvoiceID); err != nil {
			return nil, err
		}
	}

	recipient := req.Recipient
	if recipient == "" {
		switch req.Channel {
		case domain.ChannelEmail:
			recipient = cust.Email
		case domain.ChannelSMS:
			recipient = cust.Phone
		default:
			recipient = cust.ID
		}
	}
	if recipient == "" {
		return nil, &domain.ErrValidation{Field: "recipient", Message: "customer has no address for channel " + string(req.Channel)}
	}

	subject, content := renderMessage(req.Template, cust, inv)
	if req.Subject != "" {
		subject = req.Subject
	}
	if req.Content != "" {
		content = req.Content
	}

	c, err := s.comms.Create(ctx, &domain.Communication{
		CustomerID: cust.ID,
		InvoiceID:  req.InvoiceID,
		Channel:    req.Channel,
		Template:   req.Template,
		Recipient:  recipient,
		Subject:    subject,
		Content:    content,
		Status:     domain.CommPending,
	})
	if err != nil {
		return nil, err
	}

	switch c.Channel {
	case domain.ChannelEmail, domain.ChannelSMS:
		if !s.bg.Go("communication.deliver", func(ctx context.Context) error {
			return s.deliver(ctx, c)
		}) {
			s.logger.Warn("communication delivery not scheduled", zap.String("communication_id", c.ID))
		}
	default:
		if c, err = s.markSent(ctx, c, ""); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// deliver hands the message to its provider and records the outcome.
func (s *CommunicationService) deliver(ctx context.Context, c *domain.Communication) error {
	ctx, span := commTracer.Start(ctx, "CommunicationService.deliver")
	defer span.End()

	var (
		providerID string
		err        error
	)
	switch {
	case c.Channel == domain.ChannelEmail && s.email != nil:
		providerID, err = s.email.Send(ctx, c.Recipient, c.Subject, htmlBody(c.Content))
	case c.Channel == domain.ChannelSMS && s.sms != nil:
		providerID, err = s.sms.SendSMS(ctx, c.Recipient, c.Content)
	default:
		err = fmt.Errorf("channel %s not configured", c.Channel)
	}
	if err != nil {
		s.logger.Warn("communication delivery failed",
			zap.String("communication_id", c.ID),
			zap.String("channel", string(c.Channel)),
			zap.Error(err),
		)
		if _, uerr := s.comms.UpdateStatus(ctx, c.ID, repository.CommStatusUpdate{Status: domain.CommFailed, Error: err.Error()}); uerr != nil {
			return uerr
		}
		return err
	}
	_, err = s.markSent(ctx, c, providerID)
	return err
}

func (s *CommunicationService) markSent(ctx context.Context, c *domain.Communication, providerID string) (*domain.Communication, error) {
	out, err := s.comms.UpdateStatus(ctx, c.ID, repository.CommStatusUpdate{Status: domain.CommSent, ProviderMessageID: providerID})
	if err != nil {
		return nil, err
	}
	s.logger.Info("communication sent",
		zap.String("communication_id", out.ID),
		zap.String("channel", string(out.Channel)),
	)
	s.bg.Emit(domain.Event{
		Source:     "communication",
		DetailType: domain.EventCommunicationSent,
		Detail: map[string]any{
			"communication_id": out.CommunicationID,
			"customer_id":      out.CustomerID,
			"invoice_id":       out.InvoiceID,
			"channel":          out.Channel,
			"template":         out.Template,
		},
		Resources: resource("customer", out.CustomerID),
	})
	return out, nil
}

func (s *CommunicationService) Get(ctx context.Context, id string) (*domain.Communication, error) {
	ctx, span := commTracer.Start(ctx, "CommunicationService.Get")
	defer span.End()
	return s.comms.GetByID(ctx, id)
}

// UpdateStatus records a delivery callback.
func (s *CommunicationService) UpdateStatus(ctx context.Context, id string, req *domain.UpdateCommStatusRequest) (*domain.Communication, error) {
	ctx, span := commTracer.Start(ctx, "CommunicationService.UpdateStatus")
	defer span.End()

	if !req.Status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown status " + string(req.Status)}
	}
	return s.comms.UpdateStatus(ctx, id, repository.CommStatusUpdate{Status: req.Status, Error: req.Error})
}

// History returns one page of the customer's messages with delivery totals
// for that page.
func (s *CommunicationService) History(ctx context.Context, customerID string, page domain.PageRequest) (domain.CommunicationHistory, error) {
	ctx, span := commTracer.Start(ctx, "CommunicationService.History")
	defer span.End()

	res, err := s.comms.ListByCustomer(ctx, customerID, page)
	if err != nil {
		return domain.CommunicationHistory{}, err
	}
	h := domain.Summarize(customerID, res.Items)
	h.NextToken = res.NextToken
	return h, nil
}

// renderMessage builds the default subject and body for a template.
func renderMessage(t domain.Template, c *domain.Customer, inv *domain.Invoice) (string, string) {
	number, amount, due := "", "", ""
	if inv != nil {
		number = inv.InvoiceNumber
		amount = fmt.Sprintf("%s %.2f", inv.Currency, inv.BalanceDue)
		due = inv.DueDate
	}
	switch t {
	case domain.TemplateInvoiceCreated:
		return "New invoice " + number,
			fmt.Sprintf("Dear %s, invoice %s for %s has been issued and is due on %s.", c.CustomerName, number, amount, due)
	case domain.TemplatePaymentReminder:
		return "Payment reminder: invoice " + number,
			fmt.Sprintf("Dear %s, this is a reminder that %s on invoice %s is due on %s.", c.CustomerName, amount, number, due)
	case domain.TemplatePaymentOverdue:
		return "Overdue: invoice " + number,
			fmt.Sprintf("Dear %s, invoice %s was due on %s and %s remains unpaid. Please arrange payment.", c.CustomerName, number, due, amount)
	case domain.TemplatePaymentReceived:
		return "Payment received for invoice " + number,
			fmt.Sprintf("Dear %s, thank you. We received your payment for invoice %s. Remaining balance: %s.", c.CustomerName, number, amount)
	case domain.TemplatePaymentPlanCreated:
		return "Your payment plan for invoice " + number,
			fmt.Sprintf("Dear %s, a payment plan has been set up for invoice %s.", c.CustomerName, number)
	case domain.TemplateRiskAlert:
		return "Account review",
			fmt.Sprintf("Dear %s, please contact us regarding your account.", c.CustomerName)
	}
	return "", ""
}

func htmlBody(content string) string {
	return "<html><body><p>" + html.EscapeString(content) + "</p></body></html>"
}
