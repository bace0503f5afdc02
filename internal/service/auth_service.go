package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
	"github.com/boddenberg/billingiq-api/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost  = 12
	tokenIssuer = "billingiq-api"
	tokenAccess = "access"
)

// AuthService registers users and issues access tokens.
type AuthService struct {
	users     *repository.UserRepository
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(users *repository.UserRepository, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// ============================================================
// Register: POST /v1/auth/register
// ============================================================

// Register creates the user and links it to the company. The first user of
// a company becomes its owner.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, &domain.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}

	role := domain.RoleMember
	existing, err := s.users.UsersForCompany(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		role = domain.RoleOwner
	}
	if _, err := s.users.AddMembership(ctx, domain.Membership{UserID: u.ID, CompanyID: req.CompanyID, Role: role}); err != nil {
		return nil, fmt.Errorf("add membership: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", u.ID),
		zap.String("company_id", req.CompanyID),
		zap.String("role", string(role)),
	)
	return u, nil
}

// ============================================================
// Login: POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	u, err := s.users.GetByEmail(ctx, req.Email)
	if isNotFoundErr(err) {
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	span.SetAttributes(attribute.String("user_id", u.ID))

	if !u.IsActive {
		s.logger.Warn("login: inactive user", zap.String("user_id", u.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt", zap.String("user_id", u.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	memberships, err := s.users.CompaniesForUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("get memberships: %w", err)
	}
	companies := make([]string, 0, len(memberships))
	admin := u.IsAdmin
	for _, m := range memberships {
		companies = append(companies, m.CompanyID)
		if m.Role == domain.RoleOwner || m.Role == domain.RoleAdmin {
			admin = true
		}
	}

	token, err := s.signAccessToken(u.ID, companies, admin)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", u.ID))
	return &domain.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
		UserID:      u.ID,
		CompanyIDs:  companies,
	}, nil
}

// Me returns the user behind userID with their memberships.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Me")
	defer span.End()

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.users.CompaniesForUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("get memberships: %w", err)
	}
	return &domain.Profile{User: u, Memberships: memberships}, nil
}

// ============================================================
// ValidateToken: used by middleware
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub        string   `json:"sub"`
	CompanyIDs []string `json:"company_ids"`
	Admin      bool     `json:"admin,omitempty"`
	Type       string   `json:"type"`
	jwt.RegisteredClaims
}

// HasCompany reports whether the token grants access to companyID.
func (c *JWTClaims) HasCompany(companyID string) bool {
	for _, id := range c.CompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != tokenAccess {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(userID string, companies []string, admin bool) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:        userID,
		CompanyIDs: companies,
		Admin:      admin,
		Type:       tokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isNotFoundErr(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
