package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/tenants"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/middleware"
)

// dashboardRoutes serves tenant self-service. Register and login are public,
// the rest need a dashboard JWT.
func (a *API) dashboardRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	jwt := func(h http.HandlerFunc) http.Handler {
		return a.jwtAuth.Handler(middleware.RequireUserID(h))
	}
	r.Handle("/auth/me", jwt(a.me)).Methods(http.MethodGet)
	r.Handle("/auth/api-key", jwt(a.rotateAPIKey)).Methods(http.MethodPost)
	r.Handle("/auth/provision", jwt(a.provision)).Methods(http.MethodPost)
	r.Handle("/auth/audit", jwt(a.auditTrail)).Methods(http.MethodGet)
}

func (a *API) issue(w http.ResponseWriter, r *http.Request, status int, t tenant.Tenant, rawKey string) {
	token, err := middleware.IssueToken(a.jwtSecret, t.ID, t.Email, a.tokenTTL)
	if err != nil {
		a.writeError(w, r, svcerrors.Internal("failed to issue token", err))
		return
	}
	writeJSON(w, status, authResponse{
		Token:  token,
		Tenant: toTenantView(t),
		APIKey: optional(rawKey),
	})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	t, rawKey, err := a.app.Tenants.Register(r.Context(), tenants.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Plan:     req.Plan,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.issue(w, r, http.StatusCreated, t, rawKey)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	t, err := a.app.Tenants.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.issue(w, r, http.StatusOK, t, "")
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	t, err := a.app.Tenants.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantView(t))
}

func (a *API) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetUserID(r.Context())
	key, err := a.app.Tenants.RotateAPIKey(r.Context(), tenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.tenantAuth.Invalidate(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, apiKeyResponse{APIKey: key, APIKeyPrefix: tenants.DisplayPrefix(key)})
}

func (a *API) provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	supply := a.incentiveSupply
	if req.IncentiveSupply != nil {
		supply = *req.IncentiveSupply
	}

	tenantID := middleware.GetUserID(r.Context())
	t, err := a.app.Tenants.Provision(r.Context(), tenantID, supply)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.tenantAuth.Invalidate(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, toTenantView(t))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ledgerState := "offline"
	if a.ledgerReady {
		ledgerState = "configured"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Time:     time.Now().UTC(),
		Ledger:   ledgerState,
		Services: a.app.Descriptors(),
	})
}
