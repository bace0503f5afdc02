package domain

import "time"

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// LevelForScore maps a 0-100 score to a level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 85:
		return RiskCritical
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskFactors are the per-dimension inputs of a score, each 0-100 where
// higher means riskier.
type RiskFactors struct {
	PaymentHistoryScore    float64 `json:"payment_history_score"`
	OutstandingAmountScore float64 `json:"outstanding_amount_score"`
	OverdueDaysScore       float64 `json:"overdue_days_score"`
	CustomerTenureScore    float64 `json:"customer_tenure_score"`
	PaymentFrequencyScore  float64 `json:"payment_frequency_score"`
}

// RiskAssessment is a point-in-time evaluation of a customer.
type RiskAssessment struct {
	ID              string      `json:"id"`
	AssessmentID    string      `json:"assessment_id"`
	CustomerID      string      `json:"customer_id"`
	InvoiceID       string      `json:"invoice_id,omitempty"`
	RiskScore       float64     `json:"risk_score"`
	RiskLevel       RiskLevel   `json:"risk_level"`
	ConfidenceScore float64     `json:"confidence_score"`
	Factors         RiskFactors `json:"factors"`
	Recommendations []string    `json:"recommendations"`
	Narrative       string      `json:"narrative,omitempty"`
	AssessedBy      string      `json:"assessed_by"`
	TriggeredBy     string      `json:"triggered_by"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AssessRiskRequest is the payload for POST /v1/risk/assess.
type AssessRiskRequest struct {
	CustomerID  string `json:"customer_id"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// Validate checks required fields.
func (r *AssessRiskRequest) Validate() error {
	if r.CustomerID == "" {
		return &ErrValidation{Field: "customer_id", Message: "is required"}
	}
	if r.TriggeredBy == "" {
		r.TriggeredBy = "manual"
	}
	return nil
}
