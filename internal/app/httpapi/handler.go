// Package httpapi exposes the token engine REST API.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/token_engine/internal/app"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/metrics"
	"github.com/R3E-Network/token_engine/internal/app/system"
	"github.com/R3E-Network/token_engine/internal/config"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	internalhttputil "github.com/R3E-Network/token_engine/internal/httputil"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/middleware"
)

// DefaultIncentiveSupply is minted into the treasury when a tenant provisions
// its tokens without naming a supply.
const DefaultIncentiveSupply uint64 = 1_000_000

// Options configures the REST API. LedgerReady is reported on /healthz.
type Options struct {
	JWTSecret       []byte
	TokenTTL        time.Duration
	AllowedOrigins  []string
	Plans           config.Plans
	APIKeyCacheTTL  time.Duration
	IncentiveSupply uint64
	LedgerReady     bool
	AuditLogPath    string
	Logger          *logging.Logger
}

// API bundles HTTP endpoints for the application services.
type API struct {
	handler http.Handler
	app     *app.Application
	log     *logging.Logger

	tenantAuth *middleware.APIKeyMiddleware
	limiter    *middleware.RateLimiter
	jwtAuth    *middleware.AuthMiddleware

	jwtSecret       []byte
	tokenTTL        time.Duration
	incentiveSupply uint64
	ledgerReady     bool

	audit     *auditLog
	auditSink *fileAuditSink
}

// New builds the router and its middleware chain.
func New(application *app.Application, opts Options) (*API, error) {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	if len(opts.JWTSecret) == 0 {
		return nil, svcerrors.Validation("JWT secret is required")
	}
	if opts.Plans == nil {
		opts.Plans = config.DefaultPlans()
	}
	if opts.IncentiveSupply == 0 {
		opts.IncentiveSupply = DefaultIncentiveSupply
	}

	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, err
	}

	a := &API{
		app:             application,
		log:             log,
		tenantAuth:      middleware.NewAPIKeyMiddleware(application.Tenants, log, opts.APIKeyCacheTTL),
		limiter:         middleware.NewRateLimiter(opts.Plans, log),
		jwtAuth:         middleware.NewAuthMiddleware(opts.JWTSecret, log, nil),
		jwtSecret:       opts.JWTSecret,
		tokenTTL:        opts.TokenTTL,
		incentiveSupply: opts.IncentiveSupply,
		ledgerReady:     opts.LedgerReady,
		audit:           newAuditLog(500, sink),
		auditSink:       sink,
	}

	router := mux.NewRouter()
	router.Use(metrics.InstrumentHandler)
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	a.dashboardRoutes(api)

	tenantRoutes := api.NewRoute().Subrouter()
	tenantRoutes.Use(a.tenantAuth.Handler, a.limiter.Handler, middleware.NewUsageMiddleware(application.Usage(), log).Handler, a.auditWrites)
	a.userRoutes(tenantRoutes)
	a.consentRoutes(tenantRoutes)
	a.dataCaptureRoutes(tenantRoutes)
	a.incentiveRoutes(tenantRoutes)

	var h http.Handler = router
	h = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(h)
	h = middleware.NewTracingMiddleware(log).Handler(h)
	h = middleware.Recovery(log)(h)
	a.handler = h

	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// MaintenanceJobs returns the housekeeping jobs of the HTTP layer.
func (a *API) MaintenanceJobs(limiterIdle time.Duration) []system.Job {
	return []system.Job{
		{
			Name: "rate_limiter_cleanup",
			Run: func(context.Context) error {
				a.limiter.Cleanup(limiterIdle)
				return nil
			},
		},
		{
			Name: "api_key_cache_cleanup",
			Run: func(context.Context) error {
				a.tenantAuth.Cleanup()
				return nil
			},
		},
	}
}

// APIKeyCache returns the tenant API key middleware so key invalidations can
// be shared between replicas.
func (a *API) APIKeyCache() *middleware.APIKeyMiddleware {
	return a.tenantAuth
}

// Close releases the audit sink.
func (a *API) Close() error {
	return a.auditSink.Close()
}

func (a *API) tenantContext(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		a.writeError(w, r, svcerrors.Unauthorized("API key is required"))
	}
	return tc, ok
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := internalhttputil.DecodeJSON(r, dst); err != nil {
		a.writeError(w, r, svcerrors.Validation(err.Error()))
		return false
	}
	return true
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal server error", err)
	}

	entry := a.log.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"code":   se.Code,
	})
	message := se.Message
	if se.HTTPStatus >= http.StatusInternalServerError {
		entry.Error("Request failed")
		if se.Code == svcerrors.CodeInternal {
			message = "Internal server error"
		}
	} else {
		entry.Debug("Request rejected")
	}

	internalhttputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), message, se.Details)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	internalhttputil.WriteJSON(w, status, data)
}

func pathSerial(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, svcerrors.Validation(name + " must be a positive integer")
	}
	return n, nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), "Route not found", nil)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	internalhttputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}
