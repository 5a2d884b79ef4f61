package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/logging"
)

func tenantRequest(id, plan string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	tc := tenant.NewContext(tenant.Tenant{ID: id, Plan: plan})
	return req.WithContext(WithTenant(req.Context(), tc))
}

func TestRateLimiter_PlanLimit(t *testing.T) {
	plans := config.Plans{config.PlanFree: {RequestsPerMinute: 2}, config.PlanBasic: {RequestsPerMinute: 5}}
	rl := NewRateLimiter(plans, logging.NewDiscard())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, tenantRequest("free-tenant", config.PlanFree))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, tenantRequest("free-tenant", config.PlanFree))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body RateLimitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, 2, body.Limit)
	assert.True(t, body.ResetTime.After(now))

	// Other tenants have their own bucket.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, tenantRequest("basic-tenant", config.PlanBasic))
	assert.Equal(t, http.StatusOK, rr.Code)

	// Tokens refill over the minute.
	now = now.Add(30 * time.Second)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, tenantRequest("free-tenant", config.PlanFree))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiter_PassesWithoutTenant(t *testing.T) {
	rl := NewRateLimiter(config.DefaultPlans(), logging.NewDiscard())
	rr := httptest.NewRecorder()
	rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(config.DefaultPlans(), logging.NewDiscard())
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getLimiter("a", 10)
	now = now.Add(10 * time.Minute)
	rl.getLimiter("b", 10)

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "b")
}
