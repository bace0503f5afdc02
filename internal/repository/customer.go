package repository

import (
	"context"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const resCustomer = "customer"

// CustomerRepository stores customers under CUSTOMER#{id}, listed per
// company through GSI5.
type CustomerRepository struct {
	base
}

// NewCustomerRepository creates a CustomerRepository on table.
func NewCustomerRepository(store dynamo.Store, table string, logger *zap.Logger) *CustomerRepository {
	return &CustomerRepository{base: newBase(store, table, logger)}
}

func customerQuery(companyID string) dynamo.QueryInput {
	return dynamo.QueryInput{
		Index: dynamo.GSI5,
		Key:   childQuery(dynamo.GSI5, dynamo.Prefix(dynamo.EntityCompany, companyID), "CUSTOMER#"),
	}
}

// Create assigns an id and timestamps and stores c. The email must be unique
// among the company's live customers, compared case-insensitively.
func (r *CustomerRepository) Create(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	if err := r.ensureEmailFree(ctx, c.CompanyID, c.Email, ""); err != nil {
		return nil, err
	}

	now := r.now()
	out := *c
	out.ID = newID()
	out.CreatedAt, out.UpdatedAt = now, now
	if out.Tags == nil {
		out.Tags = []string{}
	}

	if err := r.putEntity(ctx, dynamo.EntityCustomer, resCustomer, out.ID, customerAttrs(&out)); err != nil {
		return nil, err
	}
	r.logger.Debug("customer created", zap.String("customer_id", out.ID), zap.String("company_id", out.CompanyID))
	return &out, nil
}

// GetByID returns the customer, including soft-deleted ones.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	item, err := r.getItem(ctx, dynamo.EntityCustomer, resCustomer, id)
	if err != nil {
		return nil, err
	}
	return customerFromItem(item), nil
}

// ListByCompany returns one page of the company's customers ordered by name.
// Soft-deleted customers are filtered out.
func (r *CustomerRepository) ListByCompany(ctx context.Context, companyID string, page domain.PageRequest) (domain.Page[domain.Customer], error) {
	in := customerQuery(companyID)
	in.Filters = []dynamo.Filter{dynamo.Ne("status", domain.CustomerDeleted)}
	out, err := r.queryPage(ctx, in, page, resCustomer)
	if err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	return decodePage(out, customerFromItem), nil
}

// GetByEmail finds a live customer of the company by email.
func (r *CustomerRepository) GetByEmail(ctx context.Context, companyID, email string) (*domain.Customer, error) {
	in := customerQuery(companyID)
	in.Filters = []dynamo.Filter{
		dynamo.Eq("email_lower", strings.ToLower(strings.TrimSpace(email))),
		dynamo.Ne("status", domain.CustomerDeleted),
	}
	items, err := r.queryAll(ctx, in, resCustomer)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &domain.ErrNotFound{Resource: resCustomer, ID: email}
	}
	return customerFromItem(items[0]), nil
}

// ensureEmailFree relies on the company index, which is eventually
// consistent: two concurrent creates with the same email can both pass.
func (r *CustomerRepository) ensureEmailFree(ctx context.Context, companyID, email, selfID string) error {
	existing, err := r.GetByEmail(ctx, companyID, email)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == selfID {
		return nil
	}
	return &domain.ErrConflict{
		Resource: resCustomer,
		Message:  "email " + email + " already exists for company " + companyID,
	}
}

// Update applies the non-nil fields of req.
func (r *CustomerRepository) Update(ctx context.Context, id string, req *domain.UpdateCustomerRequest) (*domain.Customer, error) {
	current, err := r.getItem(ctx, dynamo.EntityCustomer, resCustomer, id)
	if err != nil {
		return nil, err
	}

	set := map[string]any{}
	str := func(attr string, v *string) {
		if v != nil {
			set[attr] = strings.TrimSpace(*v)
		}
	}
	str("customer_name", req.CustomerName)
	str("customer_company", req.CustomerCompany)
	str("industry", req.Industry)
	str("phone", req.Phone)
	str("address_line1", req.AddressLine1)
	str("address_line2", req.AddressLine2)
	str("city", req.City)
	str("state", req.State)
	str("postal_code", req.PostalCode)
	str("country", req.Country)
	str("tax_id", req.TaxID)
	str("notes", req.Notes)
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if !strings.EqualFold(email, attrString(current, "email")) {
			if err := r.ensureEmailFree(ctx, attrString(current, "company_id"), email, id); err != nil {
				return nil, err
			}
		}
		set["email"] = email
		set["email_lower"] = strings.ToLower(email)
	}
	if req.PaymentTerms != nil {
		set["payment_terms"] = *req.PaymentTerms
	}
	if req.CreditLimit != nil {
		set["credit_limit"] = *req.CreditLimit
	}
	if req.Tags != nil {
		set["tags"] = req.Tags
	}
	if req.Status != nil {
		set["status"] = *req.Status
		set["is_active"] = *req.Status == domain.CustomerActive
	}
	if req.RiskLevel != nil {
		set["risk_level"] = *req.RiskLevel
	}

	item, err := r.updateEntity(ctx, dynamo.EntityCustomer, resCustomer, id, current, set)
	if err != nil {
		return nil, err
	}
	return customerFromItem(item), nil
}

// SetRiskLevel records the latest assessed risk level on the customer.
func (r *CustomerRepository) SetRiskLevel(ctx context.Context, id string, level domain.RiskLevel) error {
	current, err := r.getItem(ctx, dynamo.EntityCustomer, resCustomer, id)
	if err != nil {
		return err
	}
	_, err = r.updateEntity(ctx, dynamo.EntityCustomer, resCustomer, id, current, map[string]any{"risk_level": level})
	return err
}

// Delete soft-deletes the customer: is_active=false, status=deleted.
func (r *CustomerRepository) Delete(ctx context.Context, id string) error {
	current, err := r.getItem(ctx, dynamo.EntityCustomer, resCustomer, id)
	if err != nil {
		return err
	}
	_, err = r.updateEntity(ctx, dynamo.EntityCustomer, resCustomer, id, current, map[string]any{
		"is_active": false,
		"status":    domain.CustomerDeleted,
	})
	return err
}

// Search matches text case-insensitively against name, email and company
// name. It reads every customer of the company and filters in memory.
func (r *CustomerRepository) Search(ctx context.Context, companyID, text string, limit int) ([]domain.Customer, error) {
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.DefaultPageSize
	}
	in := customerQuery(companyID)
	in.Filters = []dynamo.Filter{dynamo.Ne("status", domain.CustomerDeleted)}
	items, err := r.queryAll(ctx, in, resCustomer)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	out := make([]domain.Customer, 0)
	for _, it := range items {
		c := customerFromItem(it)
		if needle == "" ||
			strings.Contains(strings.ToLower(c.CustomerName), needle) ||
			strings.Contains(strings.ToLower(c.Email), needle) ||
			strings.Contains(strings.ToLower(c.CustomerCompany), needle) {
			out = append(out, *c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ActiveCount returns how many active customers the company has.
func (r *CustomerRepository) ActiveCount(ctx context.Context, companyID string) (int, error) {
	in := customerQuery(companyID)
	in.Filters = []dynamo.Filter{dynamo.Eq("is_active", true)}
	items, err := r.queryAll(ctx, in, resCustomer)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func customerAttrs(c *domain.Customer) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"company_id":       c.CompanyID,
		"customer_name":    c.CustomerName,
		"customer_company": c.CustomerCompany,
		"industry":         c.Industry,
		"email":            c.Email,
		"email_lower":      strings.ToLower(c.Email),
		"phone":            c.Phone,
		"address_line1":    c.AddressLine1,
		"address_line2":    c.AddressLine2,
		"city":             c.City,
		"state":            c.State,
		"postal_code":      c.PostalCode,
		"country":          c.Country,
		"tax_id":           c.TaxID,
		"payment_terms":    c.PaymentTerms,
		"credit_limit":     c.CreditLimit,
		"notes":            c.Notes,
		"tags":             c.Tags,
		"status":           c.Status,
		"risk_level":       c.RiskLevel,
		"is_active":        c.IsActive,
		"created_at":       c.CreatedAt,
	}
}

func customerFromItem(m map[string]any) *domain.Customer {
	c := &domain.Customer{
		ID:              attrString(m, "id"),
		CompanyID:       attrString(m, "company_id"),
		CustomerName:    attrString(m, "customer_name"),
		CustomerCompany: attrString(m, "customer_company"),
		Industry:        attrString(m, "industry"),
		Email:           attrString(m, "email"),
		Phone:           attrString(m, "phone"),
		AddressLine1:    attrString(m, "address_line1"),
		AddressLine2:    attrString(m, "address_line2"),
		City:            attrString(m, "city"),
		State:           attrString(m, "state"),
		PostalCode:      attrString(m, "postal_code"),
		Country:         attrString(m, "country"),
		TaxID:           attrString(m, "tax_id"),
		PaymentTerms:    attrInt(m, "payment_terms"),
		CreditLimit:     attrFloat(m, "credit_limit"),
		Notes:           attrString(m, "notes"),
		Tags:            attrStrings(m, "tags"),
		Status:          domain.CustomerStatus(attrString(m, "status")),
		RiskLevel:       domain.RiskLevel(attrString(m, "risk_level")),
		IsActive:        attrBool(m, "is_active"),
		CreatedAt:       attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:       attrTime(m, dynamo.AttrUpdatedAt),
	}
	if c.Country == "" {
		c.Country = domain.DefaultCountry
	}
	if c.Status == "" {
		c.Status = domain.CustomerActive
	}
	if _, ok := m["payment_terms"]; !ok {
		c.PaymentTerms = domain.DefaultPaymentTerms
	}
	return c
}
