package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Payments, plans and receipts
// ============================================================

// PaymentMethod is how a payment was made.
type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodCash         PaymentMethod = "cash"
	MethodPaypal       PaymentMethod = "paypal"
	MethodStripe       PaymentMethod = "stripe"
	MethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodBankTransfer, MethodCheck,
		MethodCash, MethodPaypal, MethodStripe, MethodOther:
		return true
	}
	return false
}

// PaymentStatus of a recorded payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is money received against one invoice.
type Payment struct {
	ID                 string        `json:"id"`
	InvoiceID          string        `json:"invoice_id"`
	CustomerID         string        `json:"customer_id"`
	CompanyID          string        `json:"company_id"`
	PaymentNumber      string        `json:"payment_number"`
	Amount             float64       `json:"amount"`
	Currency           string        `json:"currency"`
	PaymentDate        string        `json:"payment_date"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	TransactionID      string        `json:"transaction_id"`
	ReferenceNumber    string        `json:"reference_number,omitempty"`
	ConfirmationNumber string        `json:"confirmation_number,omitempty"`
	Status             PaymentStatus `json:"status"`
	ProcessingFee      float64       `json:"processing_fee"`
	ReceiptKey         string        `json:"receipt_key,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// RecordPaymentRequest is the payload for POST /v1/invoices/{id}/payments.
type RecordPaymentRequest struct {
	Amount             float64       `json:"amount"`
	Currency           string        `json:"currency,omitempty"`
	PaymentDate        string        `json:"payment_date,omitempty"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	ReferenceNumber    string        `json:"reference_number,omitempty"`
	ConfirmationNumber string        `json:"confirmation_number,omitempty"`
	ProcessingFee      float64       `json:"processing_fee,omitempty"`
	Notes              string        `json:"notes,omitempty"`
}

// Validate checks required fields and ranges.
func (r *RecordPaymentRequest) Validate() error {
	if r.Amount <= 0 {
		return &ErrValidation{Field: "amount", Message: "must be > 0"}
	}
	if !decimal.NewFromFloat(r.Amount).Equal(decimal.NewFromFloat(r.Amount).Round(2)) {
		return &ErrValidation{Field: "amount", Message: "must have at most 2 decimal places"}
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = MethodOther
	}
	if !r.PaymentMethod.Valid() {
		return &ErrValidation{Field: "payment_method", Message: "unknown method " + string(r.PaymentMethod)}
	}
	if r.PaymentDate != "" {
		if _, err := time.Parse(DateLayout, r.PaymentDate); err != nil {
			return &ErrValidation{Field: "payment_date", Message: "must be YYYY-MM-DD"}
		}
	}
	if r.ProcessingFee < 0 {
		return &ErrValidation{Field: "processing_fee", Message: "must be >= 0"}
	}
	return nil
}

// PaymentOutcome is returned after a payment is applied to an invoice.
type PaymentOutcome struct {
	Payment *Payment `json:"payment"`
	Invoice *Invoice `json:"invoice"`
}

// ApplyPayment computes the invoice money fields after receiving amount.
// The returned status is paid when nothing is left to pay, partial otherwise.
func ApplyPayment(total, paid, amount decimal.Decimal) (newPaid, balance decimal.Decimal, status InvoiceStatus) {
	newPaid = paid.Add(amount)
	balance = BalanceDue(total, newPaid)
	if balance.IsZero() {
		return newPaid, balance, InvoicePaid
	}
	return newPaid, balance, InvoicePartial
}

// PlanFrequency is the spacing between installments.
type PlanFrequency string

const (
	FrequencyWeekly   PlanFrequency = "weekly"
	FrequencyBiweekly PlanFrequency = "biweekly"
	FrequencyMonthly  PlanFrequency = "monthly"
)

// PlanStatus of a payment plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
	PlanOverdue   PlanStatus = "overdue"
)

// Installment is one scheduled plan payment.
type Installment struct {
	Number  int     `json:"number"`
	DueDate string  `json:"due_date"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"`
}

// PaymentPlan splits an invoice balance into scheduled installments.
type PaymentPlan struct {
	ID           string        `json:"id"`
	PlanID       string        `json:"plan_id"`
	InvoiceID    string        `json:"invoice_id"`
	CustomerID   string        `json:"customer_id"`
	TotalAmount  float64       `json:"total_amount"`
	Installments []Installment `json:"installments"`
	Frequency    PlanFrequency `json:"frequency"`
	StartDate    string        `json:"start_date"`
	Status       PlanStatus    `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CreatePlanRequest is the payload for POST /v1/invoices/{id}/plans.
type CreatePlanRequest struct {
	Installments int           `json:"installments"`
	Frequency    PlanFrequency `json:"frequency"`
	StartDate    string        `json:"start_date,omitempty"`
}

// Validate checks required fields and ranges.
func (r *CreatePlanRequest) Validate() error {
	if r.Installments < 2 || r.Installments > 24 {
		return &ErrValidation{Field: "installments", Message: "must be between 2 and 24"}
	}
	switch r.Frequency {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
	case "":
		r.Frequency = FrequencyMonthly
	default:
		return &ErrValidation{Field: "frequency", Message: "must be weekly, biweekly or monthly"}
	}
	if r.StartDate != "" {
		if _, err := time.Parse(DateLayout, r.StartDate); err != nil {
			return &ErrValidation{Field: "start_date", Message: "must be YYYY-MM-DD"}
		}
	}
	return nil
}

// BuildSchedule splits balance into n installments starting at start.
// Each installment is balance/n rounded down to cents; the remainder goes
// on the last one so the schedule sums exactly to balance.
func BuildSchedule(balance decimal.Decimal, n int, freq PlanFrequency, start time.Time) []Installment {
	each := balance.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	last := balance.Sub(each.Mul(decimal.NewFromInt(int64(n - 1))))
	out := make([]Installment, n)
	for i := 0; i < n; i++ {
		amt := each
		if i == n-1 {
			amt = last
		}
		var due time.Time
		switch freq {
		case FrequencyWeekly:
			due = start.AddDate(0, 0, 7*i)
		case FrequencyBiweekly:
			due = start.AddDate(0, 0, 14*i)
		default:
			due = start.AddDate(0, i, 0)
		}
		out[i] = Installment{
			Number:  i + 1,
			DueDate: due.Format(DateLayout),
			Amount:  amt.InexactFloat64(),
			Status:  "pending",
		}
	}
	return out
}

// ReceiptStatus tracks text extraction of an uploaded receipt.
type ReceiptStatus string

const (
	ReceiptUploaded  ReceiptStatus = "uploaded"
	ReceiptProcessed ReceiptStatus = "processed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// MaxReceiptSize is the largest accepted upload.
const MaxReceiptSize = 10 << 20

var receiptTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/pdf":       "pdf",
	"application/pdf": "pdf",
}

// ReceiptExtension returns the file extension for an accepted content type.
func ReceiptExtension(contentType string) (string, bool) {
	ext, ok := receiptTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// Receipt is uploaded payment evidence. Only the object key and the
// structured extraction result are persisted.
type Receipt struct {
	ID                 string        `json:"id"`
	InvoiceID          string        `json:"invoice_id"`
	TransactionID      string        `json:"transaction_id,omitempty"`
	S3Key              string        `json:"s3_key"`
	FileName           string        `json:"file_name"`
	ContentType        string        `json:"content_type"`
	SizeBytes          int64         `json:"size_bytes"`
	Status             ReceiptStatus `json:"status"`
	ExtractedAmount    *float64      `json:"extracted_amount,omitempty"`
	ExtractedDate      string        `json:"extracted_date,omitempty"`
	ExtractedReference string        `json:"extracted_reference,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// ReceiptUpload is returned after a receipt is stored.
type ReceiptUpload struct {
	Receipt      *Receipt `json:"receipt"`
	PresignedURL string   `json:"presigned_url"`
	ExpiresIn    int      `json:"expires_in"`
}
