package datacapture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/ledger/ledgertest"
	"github.com/R3E-Network/token_engine/internal/logging"
)

const (
	captureToken = "0.0.501"
	alice        = "0.0.1001"
)

var acme = tenant.NewContext(tenant.Tenant{
	ID:                "tenant-acme",
	TreasuryAccountID: ledgertest.Operator,
	Tokens:            tenant.Tokens{ConsentTokenID: "0.0.500", DataCaptureTokenID: captureToken, IncentiveTokenID: "0.0.502"},
})

type fakeRewards struct{ calls int }

func (f *fakeRewards) Send(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (record.IncentiveTransfer, error) {
	f.calls++
	return record.IncentiveTransfer{AccountID: accountID, Amount: amount, TransactionID: "0.0.2@9.9"}, nil
}

func TestService_MintVerifyList(t *testing.T) {
	network := ledgertest.New()
	store := memory.New()
	rewards := &fakeRewards{}
	svc := New(network, network, store, rewards, logging.NewDiscard())
	ctx := context.Background()

	minted, err := svc.Mint(ctx, acme, MintRequest{AccountID: alice, CategoryID: "survey", Hash: "deadbeef", IncentiveAmount: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), minted.DataCapture.SerialNumber)
	assert.Equal(t, "0.0.2@9.9", minted.DataCapture.IncentiveTransactionID)
	assert.Equal(t, 1, rewards.calls)

	v, err := svc.Verify(ctx, acme, alice, 1)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Equal(t, "survey", v.CategoryID)
	assert.Equal(t, "deadbeef", v.Hash)
	require.NotNil(t, v.Record)

	v, err = svc.Verify(ctx, acme, "0.0.1002", 1)
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, alice, v.Holder)

	list, err := svc.List(ctx, acme, alice)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_VerifyMissingSerial(t *testing.T) {
	network := ledgertest.New()
	svc := New(network, network, memory.New(), nil, logging.NewDiscard())

	_, err := svc.Verify(context.Background(), acme, alice, 7)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	_, err = svc.Verify(context.Background(), acme, alice, 0)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestService_MintWithoutToken(t *testing.T) {
	network := ledgertest.New()
	svc := New(network, network, memory.New(), nil, logging.NewDiscard())
	bare := tenant.NewContext(tenant.Tenant{ID: "t"})

	_, err := svc.Mint(context.Background(), bare, MintRequest{AccountID: alice, CategoryID: "c", Hash: "h"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}
