package domain

import (
	"strings"
	"time"
)

// Channel is the delivery medium of a communication.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Template identifies the message kind.
type Template string

const (
	TemplateInvoiceCreated     Template = "invoice_created"
	TemplatePaymentReminder    Template = "payment_reminder"
	TemplatePaymentOverdue     Template = "payment_overdue"
	TemplatePaymentReceived    Template = "payment_received"
	TemplatePaymentPlanCreated Template = "payment_plan_created"
	TemplateRiskAlert          Template = "risk_alert"
	TemplateCustom             Template = "custom"
)

// CommStatus is the delivery state of a communication.
type CommStatus string

const (
	CommPending   CommStatus = "pending"
	CommSent      CommStatus = "sent"
	CommDelivered CommStatus = "delivered"
	CommFailed    CommStatus = "failed"
	CommBounced   CommStatus = "bounced"
	CommOpened    CommStatus = "opened"
	CommClicked   CommStatus = "clicked"
)

// Valid reports whether s is a known communication status.
func (s CommStatus) Valid() bool {
	switch s {
	case CommPending, CommSent, CommDelivered, CommFailed, CommBounced, CommOpened, CommClicked:
		return true
	}
	return false
}

// TimestampField names the attribute stamped when a communication enters s.
// Pending and bounced have none of their own; bounced reuses failed_at.
func (s CommStatus) TimestampField() string {
	switch s {
	case CommSent:
		return "sent_at"
	case CommDelivered:
		return "delivered_at"
	case CommOpened:
		return "opened_at"
	case CommClicked:
		return "clicked_at"
	case CommFailed, CommBounced:
		return "failed_at"
	}
	return ""
}

// Communication is one outbound message to a customer.
type Communication struct {
	ID                string     `json:"id"`
	CommunicationID   string     `json:"communication_id"`
	CustomerID        string     `json:"customer_id"`
	InvoiceID         string     `json:"invoice_id,omitempty"`
	Channel           Channel    `json:"channel"`
	Template          Template   `json:"template"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject,omitempty"`
	Content           string     `json:"content"`
	Status            CommStatus `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SendCommunicationRequest is the payload for POST /v1/communications.
type SendCommunicationRequest struct {
	CustomerID string   `json:"customer_id"`
	InvoiceID  string   `json:"invoice_id,omitempty"`
	Channel    Channel  `json:"channel"`
	Template   Template `json:"template"`
	Recipient  string   `json:"recipient,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Content    string   `json:"content,omitempty"`
}

// Validate checks required fields.
func (r *SendCommunicationRequest) Validate() error {
	if r.CustomerID == "" {
		return &ErrValidation{Field: "customer_id", Message: "is required"}
	}
	switch r.Channel {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelWebhook:
	case "":
		r.Channel = ChannelEmail
	default:
		return &ErrValidation{Field: "channel", Message: "unknown channel " + string(r.Channel)}
	}
	if r.Template == "" {
		r.Template = TemplateCustom
	}
	if r.Template == TemplateCustom && strings.TrimSpace(r.Content) == "" {
		return &ErrValidation{Field: "content", Message: "is required for custom messages"}
	}
	return nil
}

// UpdateCommStatusRequest is the payload for POST /v1/communications/{id}/status,
// typically fed by provider delivery callbacks.
type UpdateCommStatusRequest struct {
	Status CommStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// CommunicationHistory summarizes a customer's communications.
type CommunicationHistory struct {
	CustomerID     string          `json:"customer_id"`
	Communications []Communication `json:"communications"`
	TotalSent      int             `json:"total_sent"`
	TotalDelivered int             `json:"total_delivered"`
	TotalOpened    int             `json:"total_opened"`
	NextToken      string          `json:"next_token,omitempty"`
}

// Summarize counts the communications by delivery milestone. A message
// that was opened was also delivered and sent.
func Summarize(customerID string, comms []Communication) CommunicationHistory {
	h := CommunicationHistory{CustomerID: customerID, Communications: comms}
	for _, c := range comms {
		if c.SentAt != nil || c.Status == CommSent || c.Status == CommDelivered || c.Status == CommOpened || c.Status == CommClicked {
			h.TotalSent++
		}
		if c.DeliveredAt != nil || c.Status == CommDelivered || c.Status == CommOpened || c.Status == CommClicked {
			h.TotalDelivered++
		}
		if c.OpenedAt != nil || c.Status == CommOpened || c.Status == CommClicked {
			h.TotalOpened++
		}
	}
	return h
}
