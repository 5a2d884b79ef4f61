package runtime

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/token_engine/internal/app"
	"github.com/R3E-Network/token_engine/internal/app/httpapi"
	"github.com/R3E-Network/token_engine/internal/app/storage/postgres"
	"github.com/R3E-Network/token_engine/internal/app/system"
	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/httputil"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/ledger/hedera"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/middleware"
	"github.com/R3E-Network/token_engine/internal/mirror"
	"github.com/R3E-Network/token_engine/internal/platform/migrations"
)

const (
	shutdownTimeout = 10 * time.Second
	limiterIdle     = 10 * time.Minute
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logging.Logger
	app        *app.Application
	api        *httpapi.API
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
	hedera     *hedera.Network
}

// NewApplication loads configuration from the environment and builds the gateway.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg, logging.New("gateway", cfg.LogLevel, cfg.LogFormat))
}

// New builds the gateway from an explicit configuration.
func New(cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("gateway")
	}
	a := &Application{cfg: cfg, log: log}

	built, err := a.build()
	if err != nil {
		a.closeResources()
		return nil, err
	}
	return built, nil
}

func (a *Application) build() (*Application, error) {
	cfg, log := a.cfg, a.log

	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if err := migrations.Up(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Tenants:      store,
			Accounts:     store,
			Consents:     store,
			DataCaptures: store,
			Incentives:   store,
			Usage:        store,
		}
		log.Info("Using PostgreSQL storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	lc := app.Ledger{HandoffTTL: cfg.HandoffTTL}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		lc.Registry = handoff.NewRedisRegistry(a.redis)
		log.Info("Using Redis handoff registry")
	}

	if cfg.LedgerConfigured() {
		network, err := hedera.New(hedera.Config{
			Network:     cfg.HederaNetwork,
			OperatorID:  cfg.HederaOperatorID,
			OperatorKey: cfg.HederaOperatorKey,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure ledger: %w", err)
		}
		a.hedera = network
		lc.Network = network
		lc.TreasuryID = network.OperatorID()
	} else {
		lc.Network = ledger.Offline{}
		log.Warn("HEDERA_OPERATOR_ID not set; ledger operations are unavailable")
	}
	lc.Mirror = mirror.New(httputil.NewClient(httputil.ClientConfig{BaseURL: cfg.MirrorURL()}), mirror.WithLogger(log))

	application, err := app.New(stores, lc, cfg.Plans, log)
	if err != nil {
		return nil, err
	}
	a.app = application

	secret, err := jwtSecret(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; generated an ephemeral secret, dashboard tokens will not survive a restart")
	}

	api, err := httpapi.New(application, httpapi.Options{
		JWTSecret:       secret,
		TokenTTL:        cfg.JWTTTL,
		AllowedOrigins:  cfg.AllowedOrigins(),
		Plans:           cfg.Plans,
		APIKeyCacheTTL:  cfg.APIKeyCacheTTL,
		IncentiveSupply: cfg.IncentiveSupply,
		LedgerReady:     cfg.LedgerConfigured(),
		AuditLogPath:    cfg.AuditLogPath,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	a.api = api

	if a.redis != nil {
		invalidation := middleware.NewRedisKeyInvalidation(a.redis, api.APIKeyCache(), log)
		api.APIKeyCache().PublishTo(invalidation)
		if err := application.Attach(invalidation); err != nil {
			return nil, err
		}
	}

	jobs := append(application.MaintenanceJobs(cfg.UsageRetention), api.MaintenanceJobs(limiterIdle)...)
	maintenance, err := system.NewMaintenance(cfg.MaintenanceSchedule, log, jobs...)
	if err != nil {
		return nil, err
	}
	if err := application.Attach(maintenance); err != nil {
		return nil, err
	}

	a.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.api
}

// Domain returns the wired domain application.
func (a *Application) Domain() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var firstErr error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}
	if a.app != nil {
		if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closeResources()
	return firstErr
}

func (a *Application) closeResources() {
	if a.api != nil {
		if err := a.api.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit log")
		}
	}
	if a.hedera != nil {
		if err := a.hedera.Close(); err != nil {
			a.log.WithError(err).Warn("error closing ledger client")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func openDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// jwtSecret returns the configured secret, or 32 random bytes when unset.
func jwtSecret(configured string) ([]byte, error) {
	if configured != "" {
		if len(configured) < 16 {
			return nil, errors.New("JWT_SECRET must be at least 16 characters")
		}
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate JWT secret: %w", err)
	}
	return secret, nil
}
