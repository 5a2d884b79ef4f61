package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage"
)

func TestStore_Tenants(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateTenant(ctx, tenant.Tenant{Name: "Acme", Email: "ops@acme.test", APIKeyHash: "h1", Plan: "BASIC"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = store.CreateTenant(ctx, tenant.Tenant{Name: "Other", Email: "OPS@acme.test"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	byKey, err := store.GetTenantByAPIKeyHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)

	_, err = store.GetTenantByAPIKeyHash(ctx, "h2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	created.APIKeyHash = "h2"
	_, err = store.UpdateTenant(ctx, created)
	require.NoError(t, err)
	_, err = store.GetTenantByAPIKeyHash(ctx, "h1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_UserAccounts(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateUserAccount(ctx, account.UserAccount{TenantID: "t1", AccountID: "0.0.1001", PublicKey: "pk"})
	require.NoError(t, err)

	_, err = store.CreateUserAccount(ctx, account.UserAccount{TenantID: "t1", AccountID: "0.0.1001"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// Same ledger account under another tenant is a different record.
	_, err = store.CreateUserAccount(ctx, account.UserAccount{TenantID: "t2", AccountID: "0.0.1001"})
	assert.NoError(t, err)

	acct.Associated = true
	acct.AssociationTxID = "0.0.1001@1.1"
	updated, err := store.UpdateUserAccount(ctx, acct)
	require.NoError(t, err)
	assert.True(t, updated.Associated)

	got, err := store.GetUserAccount(ctx, "t1", "0.0.1001")
	require.NoError(t, err)
	assert.Equal(t, "0.0.1001@1.1", got.AssociationTxID)

	list, err := store.ListUserAccounts(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_ConsentUniqueTransaction(t *testing.T) {
	store := New()
	ctx := context.Background()

	c, err := store.CreateConsent(ctx, record.Consent{TenantID: "t1", AccountID: "0.0.1001", TokenID: "0.0.500", SerialNumber: 1, MintTransactionID: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, record.ConsentActive, c.Status)

	_, err = store.CreateConsent(ctx, record.Consent{TenantID: "t1", TokenID: "0.0.500", SerialNumber: 2, MintTransactionID: "tx-1"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	now := time.Now().UTC()
	c.Status = record.ConsentWithdrawn
	c.WithdrawTransactionID = "tx-w"
	c.WithdrawnAt = &now
	_, err = store.UpdateConsent(ctx, c)
	require.NoError(t, err)

	other, err := store.CreateConsent(ctx, record.Consent{TenantID: "t1", TokenID: "0.0.500", SerialNumber: 2, MintTransactionID: "tx-2"})
	require.NoError(t, err)
	other.WithdrawTransactionID = "tx-w"
	_, err = store.UpdateConsent(ctx, other)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	withdrawn, err := store.ListConsents(ctx, "t1", storage.ConsentFilter{Status: record.ConsentWithdrawn})
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, int64(1), withdrawn[0].SerialNumber)

	got, err := store.GetConsentBySerial(ctx, "t1", "0.0.500", 1)
	require.NoError(t, err)
	require.NotNil(t, got.WithdrawnAt)

	_, err = store.GetConsentBySerial(ctx, "t2", "0.0.500", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_IncentivesAndDataCaptures(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateIncentiveTransfer(ctx, record.IncentiveTransfer{TenantID: "t1", AccountID: "0.0.1001", Amount: 5, Direction: record.DirectionRedeem, TransactionID: "tx-r"})
	require.NoError(t, err)
	_, err = store.CreateIncentiveTransfer(ctx, record.IncentiveTransfer{TenantID: "t1", AccountID: "0.0.1001", Amount: 5, Direction: record.DirectionRedeem, TransactionID: "tx-r"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	list, err := store.ListIncentiveTransfers(ctx, "t1", "0.0.1001")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.CreateDataCapture(ctx, record.DataCapture{TenantID: "t1", AccountID: "0.0.1001", TokenID: "0.0.501", SerialNumber: 3, TransactionID: "tx-d"})
	require.NoError(t, err)
	dc, err := store.GetDataCaptureBySerial(ctx, "t1", "0.0.501", 3)
	require.NoError(t, err)
	assert.Equal(t, "tx-d", dc.TransactionID)
}

func TestStore_Usage(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RecordUsage(ctx, record.Usage{TenantID: "t1", Path: "/a", CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, store.RecordUsage(ctx, record.Usage{TenantID: "t1", Path: "/b", CreatedAt: now}))
	require.NoError(t, store.RecordUsage(ctx, record.Usage{TenantID: "t2", Path: "/c", CreatedAt: now}))

	count, err := store.CountUsage(ctx, "t1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := store.PruneUsage(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err = store.CountUsage(ctx, "t1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
