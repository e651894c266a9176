// Package auth provides bearer-token authentication and role checks.
//
// Tokens are HS256 JWTs whose subject is the user id and whose "role" claim
// is one of the marketplace roles. Every API route requires a token; role
// gates are applied per route group.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rentwise/riskd/internal/apierr"
)

// Role is a marketplace role carried in the token.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleInspector  Role = "INSPECTOR"
	RoleOwner      Role = "OWNER"
	RoleRenter     Role = "RENTER"
)

// Role groups used by route gates.
var (
	Admins    = []Role{RoleAdmin, RoleSuperAdmin}
	Reporters = []Role{RoleAdmin, RoleSuperAdmin, RoleInspector}
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleInspector, RoleOwner, RoleRenter:
		return r, true
	}
	return "", false
}

// Errors
var (
	ErrNoToken      = apierr.New(apierr.ErrUnauthenticated, "bearer token required")
	ErrInvalidToken = apierr.New(apierr.ErrUnauthenticated, "invalid or expired token")
	ErrRole         = apierr.New(apierr.ErrForbidden, "role not permitted for this action")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// HasRole reports whether p holds any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Claims is the JWT payload.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies tokens.
type Manager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewManager creates a token manager for the shared HMAC secret.
func NewManager(secret, issuer string) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for userID with the given role and lifetime.
func (m *Manager) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	if _, ok := ParseRole(string(role)); !ok {
		return "", errors.New("auth: unknown role " + string(role))
	}
	now := m.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses a raw token, with or without the "Bearer " prefix.
func (m *Manager) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return Principal{}, ErrNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	role, ok := ParseRole(string(claims.Role))
	if !ok || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.Subject, Role: role}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Actor returns the caller's user id, or "system" outside a request.
func Actor(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok {
		return p.UserID
	}
	return "system"
}
