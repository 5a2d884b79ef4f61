package runtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                3000,
		HederaNetwork:       "testnet",
		HandoffTTL:          time.Minute,
		JWTTTL:              time.Hour,
		APIKeyCacheTTL:      time.Second,
		IncentiveSupply:     1000,
		UsageRetention:      time.Hour,
		MaintenanceSchedule: "@hourly",
		Plans:               config.DefaultPlans(),
	}
}

func TestJWTSecret(t *testing.T) {
	secret, err := jwtSecret("")
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	other, err := jwtSecret("")
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)

	secret, err = jwtSecret("a-long-enough-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("a-long-enough-secret"), secret)

	_, err = jwtSecret("short")
	assert.Error(t, err)
}

func TestNew_OfflineInMemory(t *testing.T) {
	a, err := New(testConfig(), logging.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { a.closeResources() })

	assert.Equal(t, ":3000", a.httpServer.Addr)
	assert.Nil(t, a.db)
	assert.Nil(t, a.redis)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Ledger string `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "offline", body.Ledger)
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.MaintenanceSchedule = "every now and then"
	_, err := New(cfg, logging.NewDiscard())
	assert.Error(t, err)
}

func TestNew_BadDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"
	_, err := New(cfg, logging.NewDiscard())
	assert.Error(t, err)
}
