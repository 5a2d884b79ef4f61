package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/services/accounts"
	"github.com/R3E-Network/token_engine/internal/app/services/consent"
	"github.com/R3E-Network/token_engine/internal/app/services/datacapture"
	"github.com/R3E-Network/token_engine/internal/app/services/incentives"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
	"github.com/R3E-Network/token_engine/internal/app/services/tenants"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	"github.com/R3E-Network/token_engine/internal/app/storage/memory"
	"github.com/R3E-Network/token_engine/internal/app/system"
	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/mirror"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tenants      storage.TenantStore
	Accounts     storage.AccountStore
	Consents     storage.ConsentStore
	DataCaptures storage.DataCaptureStore
	Incentives   storage.IncentiveStore
	Usage        storage.UsageStore
}

// Ledger groups the network-facing dependencies.
type Ledger struct {
	// Network defaults to ledger.Offline.
	Network ledger.Network
	// Mirror must be set for listing and verification endpoints.
	Mirror mirror.Reader
	// Registry defaults to an in-memory registry.
	Registry handoff.Registry
	// TreasuryID is the operator account holding tenant token supplies.
	TreasuryID string
	HandoffTTL time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager  *system.Manager
	log      *logging.Logger
	stores   Stores
	registry handoff.Registry

	Tenants     *tenants.Service
	Signing     *signing.Service
	Accounts    *accounts.Service
	Consent     *consent.Service
	DataCapture *datacapture.Service
	Incentives  *incentives.Service
}

// New builds a fully initialised application.
func New(stores Stores, l Ledger, plans config.Plans, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	if l.Mirror == nil {
		return nil, fmt.Errorf("mirror reader is required")
	}
	if plans == nil {
		plans = config.DefaultPlans()
	}

	mem := memory.New()
	if stores.Tenants == nil {
		stores.Tenants = mem
	}
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Consents == nil {
		stores.Consents = mem
	}
	if stores.DataCaptures == nil {
		stores.DataCaptures = mem
	}
	if stores.Incentives == nil {
		stores.Incentives = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}
	if l.Network == nil {
		log.Warn("Ledger operator not configured; ledger operations will return SERVICE_UNAVAILABLE")
		l.Network = ledger.Offline{}
	}
	if l.Registry == nil {
		l.Registry = handoff.NewMemoryRegistry()
	}

	guard := handoff.NewGuard(l.Registry, l.HandoffTTL, log)
	signer := signing.New(l.Network, guard, log)
	incentiveService := incentives.New(l.Network, signer, l.Mirror, stores.Accounts, stores.Incentives, log)

	return &Application{
		manager:     system.NewManager(log),
		log:         log,
		stores:      stores,
		registry:    l.Registry,
		Tenants:     tenants.New(stores.Tenants, l.Network, plans, l.TreasuryID, log),
		Signing:     signer,
		Accounts:    accounts.New(l.Network, signer, stores.Accounts, log),
		Consent:     consent.New(l.Network, signer, l.Mirror, stores.Consents, incentiveService, log),
		DataCapture: datacapture.New(l.Network, l.Mirror, stores.DataCaptures, incentiveService, log),
		Incentives:  incentiveService,
	}, nil
}

// Usage returns the store API calls are recorded in.
func (a *Application) Usage() storage.UsageStore {
	return a.stores.Usage
}

// Descriptors lists every domain service for health reporting.
func (a *Application) Descriptors() []service.Descriptor {
	describers := []service.Describer{a.Tenants, a.Signing, a.Accounts, a.Consent, a.DataCapture, a.Incentives}
	out := make([]service.Descriptor, 0, len(describers))
	for _, d := range describers {
		out = append(out, d.Descriptor())
	}
	return out
}

// MaintenanceJobs returns the housekeeping jobs owned by the application.
func (a *Application) MaintenanceJobs(usageRetention time.Duration) []system.Job {
	jobs := []system.Job{{
		Name: "usage_prune",
		Run: func(ctx context.Context) error {
			removed, err := a.stores.Usage.PruneUsage(ctx, time.Now().Add(-usageRetention))
			if err != nil {
				return err
			}
			a.log.WithContext(ctx).WithField("removed", removed).Debug("Pruned API usage")
			return nil
		},
	}}

	if sweeper, ok := a.registry.(interface{ Sweep() int }); ok {
		jobs = append(jobs, system.Job{
			Name: "handoff_sweep",
			Run: func(context.Context) error {
				sweeper.Sweep()
				return nil
			},
		})
	}
	return jobs
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
