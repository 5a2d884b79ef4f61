// Package app composes the token engine gateway.
//
// The layout is:
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── core/service/       # Service descriptors reported on /healthz
//	├── domain/             # Tenant, user account and record models
//	├── storage/            # Store interfaces, memory and postgres implementations
//	├── services/           # Tenants, signing handoff, accounts, consent, data capture, incentives
//	├── httpapi/            # REST routes
//	├── system/             # Lifecycle manager and cron maintenance
//	├── runtime/            # Process wiring: config, database, redis, HTTP server
//	└── metrics/            # Prometheus collectors
//
// Business rules live in services. Services reach the ledger and mirror node
// only through internal/ledger and internal/mirror.
package app
