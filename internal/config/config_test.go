package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "HEDERA_NETWORK", "HANDOFF_TTL", "PLANS_FILE", "MIRROR_NODE_URL", "HEDERA_OPERATOR_ID", "HEDERA_OPERATOR_KEY"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	empty := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(empty, []byte("# empty\n"), 0o600))

	cfg, err = Load(empty)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "testnet", cfg.HederaNetwork)
	assert.Equal(t, 180*time.Second, cfg.HandoffTTL)
	assert.Equal(t, 720*time.Hour, cfg.UsageRetention)
	assert.Equal(t, "@hourly", cfg.MaintenanceSchedule)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, uint64(1000000), cfg.IncentiveSupply)
	assert.Equal(t, "https://testnet.mirrornode.hedera.com", cfg.MirrorURL())
	assert.False(t, cfg.LedgerConfigured())
	assert.Equal(t, 60, cfg.Plans.Limit(PlanBasic))
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HEDERA_NETWORK", "mainnet")
	t.Setenv("HANDOFF_TTL", "90s")
	t.Setenv("MIRROR_NODE_URL", "http://mirror.local/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("HEDERA_OPERATOR_ID", "0.0.2")
	t.Setenv("HEDERA_OPERATOR_KEY", "302e020100300506032b657004220420")

	empty := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	cfg, err := Load(empty)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.HandoffTTL)
	assert.Equal(t, "http://mirror.local", cfg.MirrorURL())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins())
	assert.True(t, cfg.LedgerConfigured())
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:            3000,
		HederaNetwork:   "testnet",
		HandoffTTL:      time.Minute,
		JWTTTL:          time.Hour,
		IncentiveSupply: 1000,
		UsageRetention:  time.Hour,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.HederaNetwork = "devnet"
	assert.Error(t, bad.Validate())

	bad = base
	bad.HederaOperatorID = "0.0.2"
	assert.Error(t, bad.Validate())

	bad = base
	bad.HandoffTTL = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.IncentiveSupply = 0
	assert.Error(t, bad.Validate())
}

func TestLoadPlansFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  basic:\n    requests_per_minute: 120\n  partner:\n    requests_per_minute: 5000\n"), 0o600))

	plans, err := LoadPlansFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 120, plans.Limit("basic"))
	assert.Equal(t, 5000, plans.Limit("PARTNER"))
	assert.Equal(t, 10, plans.Limit("unknown"))
	assert.True(t, plans.Valid("premium"))

	require.NoError(t, os.WriteFile(path, []byte("plans:\n  basic:\n    requests_per_minute: 0\n"), 0o600))
	_, err = LoadPlansFromPath(path)
	assert.Error(t, err)
}
