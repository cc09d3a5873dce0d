package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService("test-secret")
	require.NoError(t, err)
	return s
}

func TestNewService_EmptySecret(t *testing.T) {
	_, err := NewService("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestIssueAndValidate(t *testing.T) {
	s := newService(t)

	token, err := s.Issue("alice", []Role{RoleTrader}, time.Hour)
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Account())
	assert.True(t, claims.Has(RoleTrader))
	assert.False(t, claims.Has(RoleAdmin))
}

func TestIssue_Rejects(t *testing.T) {
	s := newService(t)

	_, err := s.Issue("", []Role{RoleTrader}, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyAccount)

	_, err = s.Issue("alice", []Role{"root"}, time.Hour)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestValidate_Expired(t *testing.T) {
	s := newService(t)
	issued := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return issued }

	token, err := s.Issue("alice", []Role{RoleTrader}, time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := newService(t).Issue("alice", []Role{RoleTrader}, time.Hour)
	require.NoError(t, err)

	other, err := NewService("other-secret")
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"}, Roles: []Role{RoleAdmin}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newService(t).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func router(s *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(s.Authenticate)
	r.With(RequireRole(RoleAdmin)).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(AccountFrom(r.Context())))
	})
	r.With(RequireRole(RoleTrader, RoleAdmin)).Get("/trade", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(AccountFrom(r.Context())))
	})
	return r
}

func do(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	s := newService(t)
	h := router(s)

	trader, err := s.Issue("alice", []Role{RoleTrader}, time.Hour)
	require.NoError(t, err)
	admin, err := s.Issue("ops", []Role{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		body   string
	}{
		{"no token", "/trade", "", http.StatusUnauthorized, ""},
		{"garbage token", "/trade", "not-a-jwt", http.StatusUnauthorized, ""},
		{"trader on trade", "/trade", trader, http.StatusOK, "alice"},
		{"trader on admin", "/admin", trader, http.StatusForbidden, ""},
		{"admin on trade", "/trade", admin, http.StatusOK, "ops"},
		{"admin on admin", "/admin", admin, http.StatusOK, "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.path, tt.token)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
