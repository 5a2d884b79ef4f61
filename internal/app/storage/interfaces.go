package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("storage: duplicate")
)

// TenantStore persists tenants and their credentials.
type TenantStore interface {
	CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	GetTenant(ctx context.Context, id string) (tenant.Tenant, error)
	GetTenantByEmail(ctx context.Context, email string) (tenant.Tenant, error)
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (tenant.Tenant, error)
}

// AccountStore persists ledger accounts opened for end users.
type AccountStore interface {
	CreateUserAccount(ctx context.Context, acct account.UserAccount) (account.UserAccount, error)
	UpdateUserAccount(ctx context.Context, acct account.UserAccount) (account.UserAccount, error)
	GetUserAccount(ctx context.Context, tenantID, accountID string) (account.UserAccount, error)
	ListUserAccounts(ctx context.Context, tenantID string) ([]account.UserAccount, error)
}

// ConsentFilter narrows ListConsents. Zero fields match everything.
type ConsentFilter struct {
	AccountID string
	Status    record.ConsentStatus
}

// ConsentStore persists consent records.
type ConsentStore interface {
	CreateConsent(ctx context.Context, c record.Consent) (record.Consent, error)
	UpdateConsent(ctx context.Context, c record.Consent) (record.Consent, error)
	GetConsentBySerial(ctx context.Context, tenantID, tokenID string, serial int64) (record.Consent, error)
	ListConsents(ctx context.Context, tenantID string, filter ConsentFilter) ([]record.Consent, error)
}

// DataCaptureStore persists data capture records.
type DataCaptureStore interface {
	CreateDataCapture(ctx context.Context, dc record.DataCapture) (record.DataCapture, error)
	GetDataCaptureBySerial(ctx context.Context, tenantID, tokenID string, serial int64) (record.DataCapture, error)
	ListDataCaptures(ctx context.Context, tenantID, accountID string) ([]record.DataCapture, error)
}

// IncentiveStore persists incentive token movements.
type IncentiveStore interface {
	CreateIncentiveTransfer(ctx context.Context, tr record.IncentiveTransfer) (record.IncentiveTransfer, error)
	GetIncentiveTransferByTxID(ctx context.Context, tenantID, txID string) (record.IncentiveTransfer, error)
	ListIncentiveTransfers(ctx context.Context, tenantID, accountID string) ([]record.IncentiveTransfer, error)
}

// UsageStore records API calls for quota reporting.
type UsageStore interface {
	RecordUsage(ctx context.Context, u record.Usage) error
	CountUsage(ctx context.Context, tenantID string, since time.Time) (int, error)
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}

// AsServiceError maps store sentinels onto the API taxonomy.
func AsServiceError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, ErrDuplicate):
		return svcerrors.Conflict(resource + " already exists").WithDetails("id", id)
	case svcerrors.GetServiceError(err) != nil:
		return err
	}
	return svcerrors.Internal("storage failure", err)
}
