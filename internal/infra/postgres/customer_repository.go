package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool used by the repositories.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ port.CustomerMirror = (*CustomerRepo)(nil)

// CustomerRepo mirrors customers into PostgreSQL.
type CustomerRepo struct {
	db DB
}

// NewCustomerRepository builds the mirror adapter.
func NewCustomerRepository(db DB) *CustomerRepo {
	return &CustomerRepo{db: db}
}

const upsertCustomer = `
	INSERT INTO customers (id, company_id, customer_name, customer_company, email, phone, country,
		payment_terms, credit_limit, tags, status, risk_level, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		customer_name = EXCLUDED.customer_name,
		customer_company = EXCLUDED.customer_company,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		country = EXCLUDED.country,
		payment_terms = EXCLUDED.payment_terms,
		credit_limit = EXCLUDED.credit_limit,
		tags = EXCLUDED.tags,
		status = EXCLUDED.status,
		risk_level = EXCLUDED.risk_level,
		is_active = EXCLUDED.is_active,
		updated_at = EXCLUDED.updated_at
	WHERE customers.updated_at <= EXCLUDED.updated_at`

// UpsertCustomer writes c unless the mirror already holds a newer version.
func (r *CustomerRepo) UpsertCustomer(ctx context.Context, c *domain.Customer) error {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.Exec(ctx, upsertCustomer,
		c.ID, c.CompanyID, c.CustomerName, c.CustomerCompany, c.Email, c.Phone, c.Country,
		c.PaymentTerms, decimal.NewFromFloat(c.CreditLimit).Round(2), tags,
		string(c.Status), string(c.RiskLevel), c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, err)
	}
	return nil
}

const selectCustomer = `
	SELECT id, company_id, customer_name, customer_company, email, phone, country,
		payment_terms, credit_limit, tags, status, risk_level, is_active, created_at, updated_at
	FROM customers`

// GetByID returns the mirrored customer.
func (r *CustomerRepo) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, selectCustomer+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "customer", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	return c, nil
}

// ListByCompany returns one page of the company's mirrored customers
// ordered by name. Without a status filter deleted customers are skipped.
func (r *CustomerRepo) ListByCompany(ctx context.Context, companyID string, f domain.MirrorFilter) ([]domain.Customer, error) {
	where := []string{"company_id = $1"}
	args := []any{companyID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	} else {
		where = append(where, "status <> 'deleted'")
	}
	if f.RiskLevel != "" {
		args = append(args, string(f.RiskLevel))
		where = append(where, fmt.Sprintf("risk_level = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	limit = min(limit, domain.MaxPageSize)
	args = append(args, limit, max(f.Offset, 0))

	query := fmt.Sprintf("%s WHERE %s ORDER BY customer_name, id LIMIT $%d OFFSET $%d",
		selectCustomer, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	out := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var (
		c      domain.Customer
		credit decimal.Decimal
		status string
		risk   string
	)
	err := row.Scan(&c.ID, &c.CompanyID, &c.CustomerName, &c.CustomerCompany, &c.Email, &c.Phone,
		&c.Country, &c.PaymentTerms, &credit, &c.Tags, &status, &risk, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.CreditLimit = credit.InexactFloat64()
	c.Status = domain.CustomerStatus(status)
	c.RiskLevel = domain.RiskLevel(risk)
	return &c, nil
}
