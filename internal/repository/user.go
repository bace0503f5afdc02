package repository

import (
	"context"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"

	"go.uber.org/zap"
)

const (
	resUser       = "user"
	resMembership = "membership"
)

// UserRepository stores users (email lookup through GSI4) and their company
// memberships (GSI1 by user, GSI5 by company).
type UserRepository struct {
	base
}

// NewUserRepository creates a UserRepository on table.
func NewUserRepository(store dynamo.Store, table string, logger *zap.Logger) *UserRepository {
	return &UserRepository{base: newBase(store, table, logger)}
}

// Create stores u. Emails are unique across the platform.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	if _, err := r.GetByEmail(ctx, u.Email); err == nil {
		return nil, &domain.ErrConflict{Resource: resUser, Message: "email already registered"}
	} else if !isNotFound(err) {
		return nil, err
	}

	now := r.now()
	out := *u
	out.ID = newID()
	out.Email = strings.TrimSpace(out.Email)
	out.CreatedAt, out.UpdatedAt = now, now
	attrs := map[string]any{
		"id":            out.ID,
		"email":         out.Email,
		"full_name":     out.FullName,
		"password_hash": out.PasswordHash,
		"is_active":     out.IsActive,
		"is_admin":      out.IsAdmin,
		"created_at":    out.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityUser, resUser, out.ID, attrs); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	item, err := r.getItem(ctx, dynamo.EntityUser, resUser, id)
	if err != nil {
		return nil, err
	}
	return userFromItem(item), nil
}

// GetByEmail looks the user up case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	lower := strings.ToLower(strings.TrimSpace(email))
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index: dynamo.GSI4,
		Key:   dynamo.PartitionEquals(dynamo.GSI4.PKAttr(), "EMAIL#"+lower).Equals(dynamo.GSI4.SKAttr(), string(dynamo.EntityUser)),
	}, resUser)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &domain.ErrNotFound{Resource: resUser, ID: lower}
	}
	return userFromItem(items[0]), nil
}

// AddMembership links a user to a company with role.
func (r *UserRepository) AddMembership(ctx context.Context, m domain.Membership) (*domain.Membership, error) {
	now := r.now()
	m.CreatedAt = now
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	id := m.UserID + "#" + m.CompanyID
	attrs := map[string]any{
		"id":         id,
		"user_id":    m.UserID,
		"company_id": m.CompanyID,
		"role":       m.Role,
		"created_at": m.CreatedAt,
	}
	if err := r.putEntity(ctx, dynamo.EntityMembership, resMembership, id, attrs); err != nil {
		return nil, err
	}
	return &m, nil
}

// CompaniesForUser lists the user's memberships.
func (r *UserRepository) CompaniesForUser(ctx context.Context, userID string) ([]domain.Membership, error) {
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index: dynamo.GSI1,
		Key:   childQuery(dynamo.GSI1, dynamo.Prefix(dynamo.EntityUser, userID), "COMPANY#"),
	}, resMembership)
	if err != nil {
		return nil, err
	}
	return membershipsFromItems(items), nil
}

// UsersForCompany lists the company's memberships.
func (r *UserRepository) UsersForCompany(ctx context.Context, companyID string) ([]domain.Membership, error) {
	items, err := r.queryAll(ctx, dynamo.QueryInput{
		Index: dynamo.GSI5,
		Key:   childQuery(dynamo.GSI5, dynamo.Prefix(dynamo.EntityCompany, companyID), "USER#"),
	}, resMembership)
	if err != nil {
		return nil, err
	}
	return membershipsFromItems(items), nil
}

func membershipsFromItems(items []map[string]any) []domain.Membership {
	out := make([]domain.Membership, 0, len(items))
	for _, m := range items {
		out = append(out, domain.Membership{
			UserID:    attrString(m, "user_id"),
			CompanyID: attrString(m, "company_id"),
			Role:      domain.Role(attrString(m, "role")),
			CreatedAt: attrTime(m, dynamo.AttrCreatedAt),
		})
	}
	return out
}

func userFromItem(m map[string]any) *domain.User {
	return &domain.User{
		ID:           attrString(m, "id"),
		Email:        attrString(m, "email"),
		FullName:     attrString(m, "full_name"),
		PasswordHash: attrString(m, "password_hash"),
		IsActive:     attrBool(m, "is_active"),
		IsAdmin:      attrBool(m, "is_admin"),
		CreatedAt:    attrTime(m, dynamo.AttrCreatedAt),
		UpdatedAt:    attrTime(m, dynamo.AttrUpdatedAt),
	}
}
