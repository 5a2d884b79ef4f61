package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/logging"
)

type stubAuthenticator struct {
	tenants map[string]tenant.Tenant
	calls   int
}

func (s *stubAuthenticator) Authenticate(_ context.Context, key string) (tenant.Tenant, error) {
	s.calls++
	t, ok := s.tenants[key]
	if !ok {
		return tenant.Tenant{}, errors.Unauthorized("Invalid API key")
	}
	return t, nil
}

func newStubAuthenticator() *stubAuthenticator {
	return &stubAuthenticator{tenants: map[string]tenant.Tenant{
		"te_good": {
			ID:                "tenant-1",
			Plan:              "BASIC",
			TreasuryAccountID: "0.0.2",
			Tokens:            tenant.Tokens{ConsentTokenID: "0.0.501"},
		},
	}}
}

func tenantEcho(t *testing.T, got *tenant.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := TenantFromContext(r.Context())
		require.True(t, ok)
		*got = tc
		assert.Equal(t, tc.ID(), logging.GetTenantID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware_ResolvesTenant(t *testing.T) {
	auth := newStubAuthenticator()
	m := NewAPIKeyMiddleware(auth, logging.NewDiscard(), 0)

	var got tenant.Context
	req := httptest.NewRequest(http.MethodGet, "/consent/active/0.0.1001", nil)
	req.Header.Set(APIKeyHeader, "te_good")
	rr := httptest.NewRecorder()
	m.Handler(tenantEcho(t, &got)).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "tenant-1", got.ID())
	assert.Equal(t, "0.0.2", got.TreasuryID())
	assert.Equal(t, "0.0.501", got.Tokens().ConsentTokenID)
}

func TestAPIKeyMiddleware_Rejects(t *testing.T) {
	m := NewAPIKeyMiddleware(newStubAuthenticator(), logging.NewDiscard(), 0)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	for name, key := range map[string]string{"missing": "", "unknown": "te_bad"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if key != "" {
				req.Header.Set(APIKeyHeader, key)
			}
			rr := httptest.NewRecorder()
			m.Handler(next).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestAPIKeyMiddleware_CachesAndInvalidates(t *testing.T) {
	auth := newStubAuthenticator()
	m := NewAPIKeyMiddleware(auth, logging.NewDiscard(), time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var got tenant.Context
	serve := func() int {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set(APIKeyHeader, "te_good")
		rr := httptest.NewRecorder()
		m.Handler(tenantEcho(t, &got)).ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, serve())
	require.Equal(t, http.StatusOK, serve())
	assert.Equal(t, 1, auth.calls)

	m.Invalidate(context.Background(), "tenant-1")
	require.Equal(t, http.StatusOK, serve())
	assert.Equal(t, 2, auth.calls)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Cleanup())
	require.Equal(t, http.StatusOK, serve())
	assert.Equal(t, 3, auth.calls)
}
