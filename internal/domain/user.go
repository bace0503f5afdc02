package domain

import (
	"strings"
	"time"
)

// ============================================================
// Users & company membership
// ============================================================

// Role of a user inside a company.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is an operator of the billing platform.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership links a user to a company.
type Membership struct {
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterRequest is the payload for POST /v1/auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	CompanyID string `json:"company_id"`
}

// Validate checks required fields.
func (r *RegisterRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if len(r.Password) < 8 {
		return &ErrValidation{Field: "password", Message: "must be at least 8 characters"}
	}
	if strings.TrimSpace(r.FullName) == "" {
		return &ErrValidation{Field: "full_name", Message: "is required"}
	}
	if strings.TrimSpace(r.CompanyID) == "" {
		return &ErrValidation{Field: "company_id", Message: "is required"}
	}
	return nil
}

// LoginRequest is the payload for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	UserID      string   `json:"user_id"`
	CompanyIDs  []string `json:"company_ids"`
}

// Profile is the authenticated user with their company memberships.
type Profile struct {
	User        *User        `json:"user"`
	Memberships []Membership `json:"memberships"`
}
