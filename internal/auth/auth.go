// Package auth issues and checks the bearer tokens that identify callers
// of the HTTP API and the roles they hold.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("auth: missing bearer token")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrForbidden     = errors.New("auth: role not granted")
	ErrEmptyAccount  = errors.New("auth: account is required")
	ErrEmptySecret   = errors.New("auth: secret is required")
	ErrUnknownRole   = errors.New("auth: unknown role")
	ErrTokenCreation = errors.New("auth: failed to sign token")
)

// Role names a set of API operations.
type Role string

const (
	RoleTrader   Role = "trader"
	RoleExecutor Role = "executor"
	RoleAdmin    Role = "admin"
)

func (r Role) valid() bool {
	switch r {
	case RoleTrader, RoleExecutor, RoleAdmin:
		return true
	}
	return false
}

// Claims represents the JWT claims structure. Subject is the account.
type Claims struct {
	jwt.RegisteredClaims
	Roles []Role `json:"roles"`
}

// Account returns the account the token was issued to.
func (c *Claims) Account() string { return c.Subject }

// Has reports whether the claims grant role.
func (c *Claims) Has(role Role) bool { return slices.Contains(c.Roles, role) }

// Service signs and validates HS256 tokens.
type Service struct {
	secret []byte
	now    func() time.Time
}

// NewService creates a token service with the given JWT secret.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Service{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for account holding roles, valid for ttl.
func (s *Service) Issue(account string, roles []Role, ttl time.Duration) (string, error) {
	if account == "" {
		return "", ErrEmptyAccount
	}
	for _, r := range roles {
		if !r.valid() {
			return "", fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenCreation, err)
	}
	return signed, nil
}

// Validate verifies a token's signature and expiry and returns its claims.
func (s *Service) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// FromContext returns the claims stored by Authenticate.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// AccountFrom returns the authenticated account, or "".
func AccountFrom(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.Account()
	}
	return ""
}

// Authenticate rejects requests without a valid bearer token and stores
// the claims in the request context.
func (s *Service) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		claims, err := s.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole allows the request through only if the authenticated caller
// holds at least one of roles. It must run after Authenticate.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			for _, role := range roles {
				if claims.Has(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, ErrForbidden)
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
