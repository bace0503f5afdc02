package domain

// ============================================================
// Business events
// ============================================================

// EventSourcePrefix is prepended to every event source.
const EventSourcePrefix = "billing.intelligence."

// Detail types published on the event bus.
const (
	EventInvoiceCreated          = "InvoiceCreated"
	EventInvoiceStatusChanged    = "InvoiceStatusChanged"
	EventInvoiceOverdue          = "InvoiceOverdue"
	EventPaymentReceived         = "PaymentReceived"
	EventPaymentPlanCreated      = "PaymentPlanCreated"
	EventReceiptUploaded         = "ReceiptUploaded"
	EventRiskAssessmentCompleted = "RiskAssessmentCompleted"
	EventCommunicationSent       = "CommunicationSent"
	EventCustomerUpdated         = "CustomerUpdated"
)

// Event is one business event. Source is the short producer name
// ("invoices", "payments", ...) without the prefix.
type Event struct {
	Source     string         `json:"source"`
	DetailType string         `json:"detail_type"`
	Detail     map[string]any `json:"detail"`
	Resources  []string       `json:"resources,omitempty"`
}

// FullSource returns the bus source name.
func (e Event) FullSource() string {
	return EventSourcePrefix + e.Source
}

// BatchResult reports a batch publication.
type BatchResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
