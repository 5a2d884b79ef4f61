package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/logging"
)

type publishRecorder struct {
	tenants []string
	err     error
}

func (p *publishRecorder) PublishInvalidation(_ context.Context, tenantID string) error {
	p.tenants = append(p.tenants, tenantID)
	return p.err
}

func serveKey(t *testing.T, m *APIKeyMiddleware) int {
	t.Helper()
	var got tenant.Context
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set(APIKeyHeader, "te_good")
	rr := httptest.NewRecorder()
	m.Handler(tenantEcho(t, &got)).ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKeyMiddleware_InvalidatePublishes(t *testing.T) {
	auth := newStubAuthenticator()
	m := NewAPIKeyMiddleware(auth, logging.NewDiscard(), time.Minute)
	peers := &publishRecorder{}
	m.PublishTo(peers)

	require.Equal(t, http.StatusOK, serveKey(t, m))
	m.Invalidate(context.Background(), "tenant-1")
	assert.Equal(t, []string{"tenant-1"}, peers.tenants)

	// a failed publish still drops the local entry
	peers.err = errors.New("redis down")
	m.Invalidate(context.Background(), "tenant-1")
	require.Equal(t, http.StatusOK, serveKey(t, m))
	assert.Equal(t, 2, auth.calls)
}

// TestRedisKeyInvalidation runs against a real redis when TEST_REDIS_ADDR is set.
func TestRedisKeyInvalidation(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis invalidation test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	// two replicas sharing one redis
	authA, authB := newStubAuthenticator(), newStubAuthenticator()
	replicaA := NewAPIKeyMiddleware(authA, logging.NewDiscard(), time.Minute)
	replicaB := NewAPIKeyMiddleware(authB, logging.NewDiscard(), time.Minute)

	busA := NewRedisKeyInvalidation(client, replicaA, logging.NewDiscard())
	busB := NewRedisKeyInvalidation(client, replicaB, logging.NewDiscard())
	require.NoError(t, busA.Start(ctx))
	require.NoError(t, busB.Start(ctx))
	t.Cleanup(func() {
		_ = busA.Stop(context.Background())
		_ = busB.Stop(context.Background())
	})
	replicaA.PublishTo(busA)
	replicaB.PublishTo(busB)

	require.Equal(t, http.StatusOK, serveKey(t, replicaB))
	require.Equal(t, 1, authB.calls)

	replicaA.Invalidate(ctx, "tenant-1")

	assert.Eventually(t, func() bool {
		_, ok := replicaB.cached(digest("te_good"))
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
