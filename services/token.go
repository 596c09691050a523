package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haiphandev/acadflow/authz"
)

// TokenService turns bearer tokens into authz.Principal values. Token
// issuance and verification are the only JWT mechanics in the repo; the
// engine itself only ever sees the resulting principal snapshot.
type TokenService struct {
	secret []byte
	pg     *sql.DB
}

// Claims carried in acadflow tokens. Kind distinguishes the two identity
// spaces; tokens for one space never validate as the other.
type Claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// NewTokenService creates a new TokenService
func NewTokenService(secret string, pg *sql.DB) *TokenService {
	return &TokenService{secret: []byte(secret), pg: pg}
}

// IssueUserToken signs a token for a user principal.
func (s *TokenService) IssueUserToken(userID string, ttl time.Duration) (string, error) {
	return s.issue(userID, string(authz.PrincipalUser), ttl)
}

// IssuePlatformAdminToken signs a token for a platform admin principal.
func (s *TokenService) IssuePlatformAdminToken(adminID string, ttl time.Duration) (string, error) {
	return s.issue(adminID, string(authz.PrincipalPlatformAdmin), ttl)
}

func (s *TokenService) issue(subject, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ExtractTokenFromHeader pulls the bearer token out of an Authorization
// header value.
func (s *TokenService) ExtractTokenFromHeader(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("authorization header must be a bearer token")
	}
	return parts[1], nil
}

// ResolvePrincipal validates the token and builds the principal snapshot
// the engine consumes. User tenants and the platform-admin password flag
// are read fresh from the database on every request: role membership and
// the must-change-password interrupt must never be served from stale
// token claims.
func (s *TokenService) ResolvePrincipal(tokenString string) (authz.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return authz.Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return authz.Principal{}, fmt.Errorf("invalid token")
	}

	switch authz.PrincipalKind(claims.Kind) {
	case authz.PrincipalUser:
		return s.resolveUser(claims.Subject)
	case authz.PrincipalPlatformAdmin:
		return s.resolvePlatformAdmin(claims.Subject)
	default:
		return authz.Principal{}, fmt.Errorf("unknown principal kind %q", claims.Kind)
	}
}

func (s *TokenService) resolveUser(userID string) (authz.Principal, error) {
	var tenantID string
	err := s.pg.QueryRow(
		`SELECT COALESCE(institution_id::text, '') FROM users WHERE id = $1`, userID,
	).Scan(&tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return authz.Principal{}, fmt.Errorf("unknown user: %w", authz.ErrNotFound)
		}
		return authz.Principal{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	return authz.Principal{ID: userID, Kind: authz.PrincipalUser, TenantID: tenantID}, nil
}

func (s *TokenService) resolvePlatformAdmin(adminID string) (authz.Principal, error) {
	var mustChange bool
	err := s.pg.QueryRow(
		`SELECT must_change_password FROM platform_admins WHERE id = $1`, adminID,
	).Scan(&mustChange)
	if err != nil {
		if err == sql.ErrNoRows {
			return authz.Principal{}, fmt.Errorf("unknown platform admin: %w", authz.ErrNotFound)
		}
		return authz.Principal{}, fmt.Errorf("failed to resolve platform admin: %w", err)
	}
	return authz.Principal{
		ID:                 adminID,
		Kind:               authz.PrincipalPlatformAdmin,
		MustChangePassword: mustChange,
	}, nil
}
