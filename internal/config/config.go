// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the gateway configuration.
type Config struct {
	Port      int    `env:"PORT,default=3000"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	HederaNetwork     string `env:"HEDERA_NETWORK,default=testnet"`
	HederaOperatorID  string `env:"HEDERA_OPERATOR_ID"`
	HederaOperatorKey string `env:"HEDERA_OPERATOR_KEY"`
	MirrorNodeURL     string `env:"MIRROR_NODE_URL"`

	JWTSecret          string        `env:"JWT_SECRET"`
	JWTTTL             time.Duration `env:"JWT_TTL,default=24h"`
	APIKeyCacheTTL     time.Duration `env:"API_KEY_CACHE_TTL,default=30s"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS"`
	AuditLogPath       string        `env:"AUDIT_LOG_PATH"`

	HandoffTTL      time.Duration `env:"HANDOFF_TTL,default=180s"`
	IncentiveSupply uint64        `env:"INCENTIVE_SUPPLY,default=1000000"`

	PlansFile           string        `env:"PLANS_FILE"`
	UsageRetention      time.Duration `env:"USAGE_RETENTION,default=720h"`
	MaintenanceSchedule string        `env:"MAINTENANCE_SCHEDULE,default=@hourly"`

	Plans Plans `env:"-"`
}

// Load reads an optional .env file and decodes the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	plans := DefaultPlans()
	if cfg.PlansFile != "" {
		loaded, err := LoadPlansFromPath(cfg.PlansFile)
		if err != nil {
			return nil, err
		}
		plans = loaded
	}
	cfg.Plans = plans

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envdecode cannot.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	switch c.HederaNetwork {
	case "mainnet", "testnet", "previewnet", "local":
	default:
		return fmt.Errorf("unsupported HEDERA_NETWORK %q", c.HederaNetwork)
	}
	if c.HandoffTTL <= 0 {
		return errors.New("HANDOFF_TTL must be positive")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.IncentiveSupply == 0 {
		return errors.New("INCENTIVE_SUPPLY must be positive")
	}
	if c.UsageRetention <= 0 {
		return errors.New("USAGE_RETENTION must be positive")
	}
	if (c.HederaOperatorID == "") != (c.HederaOperatorKey == "") {
		return errors.New("HEDERA_OPERATOR_ID and HEDERA_OPERATOR_KEY must be set together")
	}
	return nil
}

// MirrorURL returns the mirror node base URL, derived from the network when unset.
func (c *Config) MirrorURL() string {
	if c.MirrorNodeURL != "" {
		return strings.TrimRight(c.MirrorNodeURL, "/")
	}
	if c.HederaNetwork == "local" {
		return "http://localhost:5551"
	}
	return fmt.Sprintf("https://%s.mirrornode.hedera.com", c.HederaNetwork)
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LedgerConfigured reports whether operator credentials are present.
func (c *Config) LedgerConfigured() bool {
	return c.HederaOperatorID != "" && c.HederaOperatorKey != ""
}
