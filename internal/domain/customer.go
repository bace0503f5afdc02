package domain

import (
	"net/mail"
	"strings"
	"time"
)

// ============================================================
// Customer
// ============================================================

// CustomerStatus is the lifecycle flag of a customer record.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerInactive  CustomerStatus = "inactive"
	CustomerSuspended CustomerStatus = "suspended"
	CustomerDeleted   CustomerStatus = "deleted"
)

// Valid reports whether s is a known customer status.
func (s CustomerStatus) Valid() bool {
	switch s {
	case CustomerActive, CustomerInactive, CustomerSuspended, CustomerDeleted:
		return true
	}
	return false
}

// Customer is a billable party owned by exactly one company.
type Customer struct {
	ID              string         `json:"id"`
	CompanyID       string         `json:"company_id"`
	CustomerName    string         `json:"customer_name"`
	CustomerCompany string         `json:"customer_company,omitempty"`
	Industry        string         `json:"industry,omitempty"`
	Email           string         `json:"email"`
	Phone           string         `json:"phone,omitempty"`
	AddressLine1    string         `json:"address_line1,omitempty"`
	AddressLine2    string         `json:"address_line2,omitempty"`
	City            string         `json:"city,omitempty"`
	State           string         `json:"state,omitempty"`
	PostalCode      string         `json:"postal_code,omitempty"`
	Country         string         `json:"country"`
	TaxID           string         `json:"tax_id,omitempty"`
	PaymentTerms    int            `json:"payment_terms"`
	CreditLimit     float64        `json:"credit_limit"`
	Notes           string         `json:"notes,omitempty"`
	Tags            []string       `json:"tags"`
	Status          CustomerStatus `json:"status"`
	RiskLevel       RiskLevel      `json:"risk_level,omitempty"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Defaults applied when a customer is created without these fields.
const (
	DefaultCountry      = "USA"
	DefaultPaymentTerms = 30
)

// CreateCustomerRequest is the payload for POST /v1/customers.
type CreateCustomerRequest struct {
	CompanyID       string   `json:"company_id"`
	CustomerName    string   `json:"customer_name"`
	CustomerCompany string   `json:"customer_company,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone,omitempty"`
	AddressLine1    string   `json:"address_line1,omitempty"`
	AddressLine2    string   `json:"address_line2,omitempty"`
	City            string   `json:"city,omitempty"`
	State           string   `json:"state,omitempty"`
	PostalCode      string   `json:"postal_code,omitempty"`
	Country         string   `json:"country,omitempty"`
	TaxID           string   `json:"tax_id,omitempty"`
	PaymentTerms    *int     `json:"payment_terms,omitempty"`
	CreditLimit     float64  `json:"credit_limit,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Validate checks required fields and ranges.
func (r *CreateCustomerRequest) Validate() error {
	if strings.TrimSpace(r.CompanyID) == "" {
		return &ErrValidation{Field: "company_id", Message: "is required"}
	}
	if strings.TrimSpace(r.CustomerName) == "" || len(r.CustomerName) > 255 {
		return &ErrValidation{Field: "customer_name", Message: "must be 1-255 characters"}
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.PaymentTerms != nil && (*r.PaymentTerms < 0 || *r.PaymentTerms > 365) {
		return &ErrValidation{Field: "payment_terms", Message: "must be between 0 and 365"}
	}
	if r.CreditLimit < 0 {
		return &ErrValidation{Field: "credit_limit", Message: "must be >= 0"}
	}
	return nil
}

// NewCustomer builds a customer from a validated request, filling defaults.
func (r *CreateCustomerRequest) NewCustomer() *Customer {
	c := &Customer{
		CompanyID:       r.CompanyID,
		CustomerName:    strings.TrimSpace(r.CustomerName),
		CustomerCompany: r.CustomerCompany,
		Industry:        r.Industry,
		Email:           strings.TrimSpace(r.Email),
		Phone:           r.Phone,
		AddressLine1:    r.AddressLine1,
		AddressLine2:    r.AddressLine2,
		City:            r.City,
		State:           r.State,
		PostalCode:      r.PostalCode,
		Country:         r.Country,
		TaxID:           r.TaxID,
		PaymentTerms:    DefaultPaymentTerms,
		CreditLimit:     r.CreditLimit,
		Notes:           r.Notes,
		Tags:            r.Tags,
		Status:          CustomerActive,
		IsActive:        true,
	}
	if c.Country == "" {
		c.Country = DefaultCountry
	}
	if r.PaymentTerms != nil {
		c.PaymentTerms = *r.PaymentTerms
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

// UpdateCustomerRequest is the payload for PUT /v1/customers/{id}.
// Nil fields are left untouched.
type UpdateCustomerRequest struct {
	CustomerName    *string         `json:"customer_name,omitempty"`
	CustomerCompany *string         `json:"customer_company,omitempty"`
	Industry        *string         `json:"industry,omitempty"`
	Email           *string         `json:"email,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	AddressLine1    *string         `json:"address_line1,omitempty"`
	AddressLine2    *string         `json:"address_line2,omitempty"`
	City            *string         `json:"city,omitempty"`
	State           *string         `json:"state,omitempty"`
	PostalCode      *string         `json:"postal_code,omitempty"`
	Country         *string         `json:"country,omitempty"`
	TaxID           *string         `json:"tax_id,omitempty"`
	PaymentTerms    *int            `json:"payment_terms,omitempty"`
	CreditLimit     *float64        `json:"credit_limit,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Status          *CustomerStatus `json:"status,omitempty"`
	RiskLevel       *RiskLevel      `json:"risk_level,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateCustomerRequest) Validate() error {
	if r.CustomerName != nil && (strings.TrimSpace(*r.CustomerName) == "" || len(*r.CustomerName) > 255) {
		return &ErrValidation{Field: "customer_name", Message: "must be 1-255 characters"}
	}
	if r.Email != nil {
		if err := validateEmail(*r.Email); err != nil {
			return err
		}
	}
	if r.PaymentTerms != nil && (*r.PaymentTerms < 0 || *r.PaymentTerms > 365) {
		return &ErrValidation{Field: "payment_terms", Message: "must be between 0 and 365"}
	}
	if r.CreditLimit != nil && *r.CreditLimit < 0 {
		return &ErrValidation{Field: "credit_limit", Message: "must be >= 0"}
	}
	if r.Status != nil && !r.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "unknown status " + string(*r.Status)}
	}
	if r.RiskLevel != nil && !r.RiskLevel.Valid() {
		return &ErrValidation{Field: "risk_level", Message: "unknown risk level " + string(*r.RiskLevel)}
	}
	return nil
}

// Empty reports whether the request changes nothing.
func (r *UpdateCustomerRequest) Empty() bool {
	return r.CustomerName == nil && r.CustomerCompany == nil && r.Industry == nil &&
		r.Email == nil && r.Phone == nil && r.AddressLine1 == nil && r.AddressLine2 == nil &&
		r.City == nil && r.State == nil && r.PostalCode == nil && r.Country == nil &&
		r.TaxID == nil && r.PaymentTerms == nil && r.CreditLimit == nil && r.Notes == nil &&
		r.Tags == nil && r.Status == nil && r.RiskLevel == nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return &ErrValidation{Field: "email", Message: "must be a valid email address"}
	}
	return nil
}

// MirrorFilter narrows a listing of the relational mirror. An empty Status
// lists every customer that is not deleted.
type MirrorFilter struct {
	Status    CustomerStatus
	RiskLevel RiskLevel
	Limit     int
	Offset    int
}

// MirrorReport compares a company's customers in the item store with the
// relational mirror.
type MirrorReport struct {
	CompanyID       string   `json:"company_id"`
	Checked         int      `json:"checked"`
	InSync          int      `json:"in_sync"`
	MissingInMirror []string `json:"missing_in_mirror"`
	Stale           []string `json:"stale"`
	ExtraInMirror   []string `json:"extra_in_mirror"`
}

// Consistent reports whether the mirror matched the store.
func (r *MirrorReport) Consistent() bool {
	return len(r.MissingInMirror) == 0 && len(r.Stale) == 0 && len(r.ExtraInMirror) == 0
}
