package accounts

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
	"github.com/R3E-Network/token_engine/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger/ledgertest"
	"github.com/R3E-Network/token_engine/internal/logging"
)

var acme = tenant.NewContext(tenant.Tenant{
	ID:                "tenant-acme",
	TreasuryAccountID: ledgertest.Operator,
	Tokens:            tenant.Tokens{ConsentTokenID: "0.0.500", DataCaptureTokenID: "0.0.501", IncentiveTokenID: "0.0.502"},
})

func newService(t *testing.T) (*Service, *ledgertest.Network, *memory.Store) {
	t.Helper()
	network := ledgertest.New()
	store := memory.New()
	guard := handoff.NewGuard(handoff.NewMemoryRegistry(), time.Minute, logging.NewDiscard())
	signer := signing.New(network, guard, logging.NewDiscard())
	return New(network, signer, store, logging.NewDiscard()), network, store
}

func TestService_CreateAndAssociate(t *testing.T) {
	svc, network, store := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, acme, "302a300506032b6570032100aabbccdd")
	require.NoError(t, err)
	require.NotEmpty(t, created.Account.AccountID)
	require.NotEmpty(t, created.Association.Transaction)
	assert.ElementsMatch(t, acme.Tokens().IDs(), created.Association.Operation.TokenIDs)
	assert.Equal(t, created.Account.AccountID, created.Association.Operation.AccountID)

	receipt, err := svc.SubmitAssociation(ctx, acme, created.Account.AccountID, ledgertest.SignedBase64(created.Association.Transaction))
	require.NoError(t, err)
	assert.True(t, receipt.Success())
	assert.True(t, network.Associated(created.Account.AccountID, "0.0.501"))

	stored, err := store.GetUserAccount(ctx, acme.ID(), created.Account.AccountID)
	require.NoError(t, err)
	assert.True(t, stored.Associated)
	assert.Equal(t, receipt.TransactionID, stored.AssociationTxID)

	_, err = svc.BuildAssociation(ctx, acme, created.Account.AccountID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))
}

func TestService_CreateRejectsBadKey(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Create(context.Background(), acme, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))

	_, err = svc.Create(context.Background(), acme, "invalid-key")
	require.Error(t, err)
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
}

func TestService_CreateRequiresTenantTokens(t *testing.T) {
	svc, _, _ := newService(t)
	bare := tenant.NewContext(tenant.Tenant{ID: "tenant-bare"})

	_, err := svc.Create(context.Background(), bare, "302a300506032b6570032100aabbccdd")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestService_SubmitAssociationForUnknownAccount(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.SubmitAssociation(context.Background(), acme, "0.0.9999", "AAAA")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestService_AssociationOfOtherAccountRefused(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, acme, "key-one")
	require.NoError(t, err)
	second, err := svc.Create(ctx, acme, "key-two")
	require.NoError(t, err)

	// first account's association presented as the second's
	_, err = svc.SubmitAssociation(ctx, acme, second.Account.AccountID, ledgertest.SignedBase64(first.Association.Transaction))
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))
}

func TestService_ListIsTenantScoped(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, acme, "key-one")
	require.NoError(t, err)

	list, err := svc.List(ctx, acme)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	other := tenant.NewContext(tenant.Tenant{ID: "tenant-other"})
	list, err = svc.List(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Get(ctx, other, "not-an-id")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestService_Descriptor(t *testing.T) {
	svc, _, _ := newService(t)
	assert.Equal(t, "accounts", svc.Descriptor().Name)
	assert.Contains(t, svc.Descriptor().Capabilities, "token-association")
}
