package repository

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resComm = "communication"

// CommunicationRepository stores outbound messages per customer (GSI1) and,
// when linked, per invoice (GSI2).
type CommunicationRepository struct {
	base
}

// NewCommunicationRepository creates a CommunicationRepository on table.
func NewCommunicationRepository(store dynamo.Store, table string, logger *zap.Logger) *CommunicationRepository {
	return &CommunicationRepository{base: newBase(store, table, logger)}
}

func (r *CommunicationRepository) Create(ctx context.Context, c *domain.Communication) (*domain.Communication, error) {
	now := r.now()
	out := *c
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.CommunicationID == "" {
		out.CommunicationID = "COMM-" + shortCode(8)
	}
	if out.Status == "" {
		out.Status = domain.CommPending
	}
	attrs := map[string]any{
		"id":                  out.ID,
		"communication_id":    out.CommunicationID,
		"customer_id":         out.CustomerID,
		"invoice_id":          out.InvoiceID,
		"channel":             out.Channel,
		"template":            out.Template,
		"recipient":           out.Recipient,
		"subject":             out.Subject,
		"content":             out.Content,
		"status":              out.Status,
		"provider_message_id": out.ProviderMessageID,
		"error":               out.Error,
		"created_at":          out.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityComm, resComm, out.ID, attrs); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CommunicationRepository) GetByID(ctx context.Context, id string) (*domain.Communication, error) {
	item, err := r.getItem(ctx, dynamo.EntityComm, resComm, id)
	if err != nil {
		return nil, err
	}
	return commFromItem(item), nil
}

// ListByCustomer returns the customer's messages, newest first.
func (r *CommunicationRepository) ListByCustomer(ctx context.Context, customerID string, page domain.PageRequest) (domain.Page[domain.Communication], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI1,
		Key:        childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityCustomer, customerID), "COMM#"),
		Descending: true,
	}, page, resComm)
	if err != nil {
		return domain.Page[domain.Communication]{}, err
	}
	return decodePage(out, commFromItem), nil
}

// ListByInvoice returns the messages linked to the invoice, newest first.
func (r *CommunicationRepository) ListByInvoice(ctx context.Context, invoiceID string, page domain.PageRequest) (domain.Page[domain.Communication], error) {
	out, err := r.queryPage(ctx, dynamo.QueryInput{
		Index:      dynamo.GSI2,
		Key:        childQuery(dynamo.GSI2, dynamo.Prefix(dynamo.EntityInvoice, invoiceID), "COMM#"),
		Descending: true,
	}, page, resComm)
	if err != nil {
		return domain.Page[domain.Communication]{}, err
	}
	return decodePage(out, commFromItem), nil
}

// CommStatusUpdate describes a delivery state change.
type CommStatusUpdate struct {
	Status            domain.CommStatus
	ProviderMessageID string
	Error             string
}

// UpdateStatus sets the status and stamps its timestamp field.
func (r *CommunicationRepository) UpdateStatus(ctx context.Context, id string, u CommStatusUpdate) (*domain.Communication, error) {
	current, err := r.getItem(ctx, dynamo.EntityComm, resComm, id)
	if err != nil {
		return nil, err
	}
	set := map[string]any{"status": u.Status}
	if field := u.Status.TimestampField(); field != "" {
		set[field] = r.now()
	}
	if u.ProviderMessageID != "" {
		set["provider_message_id"] = u.ProviderMessageID
	}
	if u.Error != "" {
		set["error"] = u.Error
	}
	item, err := r.updateEntity(ctx, dynamo.EntityComm, resComm, id, current, set)
	if err != nil {
		return nil, err
	}
	return commFromItem(item), nil
}

func commFromItem(m map[string]any) *domain.Communication {
	return &domain.Communication{
		ID:                attrString(m, "id"),
		CommunicationID:   attrString(m, "communication_id"),
		CustomerID:        attrString(m, "customer_id"),
		InvoiceID:         attrString(m, "invoice_id"),
		Channel:           domain.Channel(attrString(m, "channel")),
		Template:          domain.Template(attrString(m, "template")),
		Recipient:         attrString(m, "recipient"),
		Subject:           attrString(m, "subject"),
		Content:           attrString(m, "content"),
		Status:            domain.CommStatus(attrString(m, "status")),
		ProviderMessageID: attrString(m, "provider_message_id"),
		Error:             attrString(m, "error"),
		SentAt:            attrTimePtr(m, "sent_at"),
		DeliveredAt:       attrTimePtr(m, "delivered_at"),
		OpenedAt:          attrTimePtr(m, "opened_at"),
		ClickedAt:         attrTimePtr(m, "clicked_at"),
		FailedAt:          attrTimePtr(m, "failed_at"),
		CreatedAt:         attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:         attrTime(m, dynamo.AttrUpdatedAt),
	}
}
