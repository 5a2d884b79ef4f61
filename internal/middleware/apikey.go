package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/errors"
	internalhttputil "github.com/R3E-Network/token_engine/internal/httputil"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// APIKeyHeader carries the tenant credential.
const APIKeyHeader = "X-API-Key"

// DefaultAPIKeyCacheTTL bounds how long a resolved key is trusted without a store lookup.
const DefaultAPIKeyCacheTTL = 30 * time.Second

type tenantContextKey struct{}

// TenantAuthenticator resolves an API key to its tenant.
type TenantAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (tenant.Tenant, error)
}

// APIKeyMiddleware resolves the tenant once per request and stores an
// immutable tenant.Context for handlers.
type APIKeyMiddleware struct {
	auth   TenantAuthenticator
	logger *logging.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	resolved map[string]*cachedTenant
	peers    KeyPublisher
}

// cachedTenant stores a resolved tenant with expiry.
type cachedTenant struct {
	tenant    tenant.Tenant
	expiresAt time.Time
}

// NewAPIKeyMiddleware creates the tenant middleware. ttl <= 0 disables caching.
func NewAPIKeyMiddleware(auth TenantAuthenticator, logger *logging.Logger, ttl time.Duration) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		auth:     auth,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
		resolved: make(map[string]*cachedTenant),
	}
}

// Handler returns the middleware handler function.
func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			m.respondError(w, r, errors.Unauthorized("API key is required"))
			return
		}

		t, err := m.resolve(r.Context(), key)
		if err != nil {
			m.logger.LogSecurityEvent(r.Context(), "api_key_rejected", map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			})
			m.respondError(w, r, err)
			return
		}

		ctx := WithTenant(r.Context(), tenant.NewContext(t))
		ctx = logging.WithTenantID(ctx, t.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *APIKeyMiddleware) resolve(ctx context.Context, key string) (tenant.Tenant, error) {
	cacheKey := digest(key)
	if t, ok := m.cached(cacheKey); ok {
		return t, nil
	}

	t, err := m.auth.Authenticate(ctx, key)
	if err != nil {
		return tenant.Tenant{}, err
	}
	m.store(cacheKey, t)
	return t, nil
}

func (m *APIKeyMiddleware) cached(cacheKey string) (tenant.Tenant, bool) {
	if m.ttl <= 0 {
		return tenant.Tenant{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.resolved[cacheKey]
	if !ok || m.now().After(entry.expiresAt) {
		return tenant.Tenant{}, false
	}
	return entry.tenant, true
}

func (m *APIKeyMiddleware) store(cacheKey string, t tenant.Tenant) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolved[cacheKey] = &cachedTenant{tenant: t, expiresAt: m.now().Add(m.ttl)}
	if len(m.resolved) > 1000 {
		m.cleanupLocked()
	}
}

// PublishTo makes Invalidate announce tenant ids to other replicas.
func (m *APIKeyMiddleware) PublishTo(peers KeyPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = peers
}

// Invalidate drops cached keys of tenantID, e.g. after a key rotation or
// token provisioning, here and on every replica reachable through PublishTo.
func (m *APIKeyMiddleware) Invalidate(ctx context.Context, tenantID string) {
	m.drop(tenantID)

	m.mu.RLock()
	peers := m.peers
	m.mu.RUnlock()
	if peers == nil {
		return
	}
	if err := peers.PublishInvalidation(ctx, tenantID); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("failed to publish API key invalidation")
	}
}

func (m *APIKeyMiddleware) drop(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, entry := range m.resolved {
		if entry.tenant.ID == tenantID {
			delete(m.resolved, k)
		}
	}
}

// Cleanup removes expired cache entries.
func (m *APIKeyMiddleware) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

func (m *APIKeyMiddleware) cleanupLocked() int {
	now := m.now()
	removed := 0
	for k, entry := range m.resolved {
		if now.After(entry.expiresAt) {
			delete(m.resolved, k)
			removed++
		}
	}
	return removed
}

func (m *APIKeyMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Tenant authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// WithTenant stores tc in ctx.
func WithTenant(ctx context.Context, tc tenant.Context) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantFromContext returns the tenant resolved by APIKeyMiddleware.
func TenantFromContext(ctx context.Context) (tenant.Context, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(tenant.Context)
	return tc, ok
}
