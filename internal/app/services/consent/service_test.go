package consent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	"github.com/R3E-Network/token_engine/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger/ledgertest"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/mirror"
)

const (
	consentToken = "0.0.500"
	alice        = "0.0.1001"
	bob          = "0.0.1002"
)

var acme = tenant.NewContext(tenant.Tenant{
	ID:                "tenant-acme",
	TreasuryAccountID: ledgertest.Operator,
	Tokens:            tenant.Tokens{ConsentTokenID: consentToken, DataCaptureTokenID: "0.0.501", IncentiveTokenID: "0.0.502"},
})

type fakeRewards struct {
	calls int
	err   error
}

func (f *fakeRewards) Send(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (record.IncentiveTransfer, error) {
	f.calls++
	if f.err != nil {
		return record.IncentiveTransfer{}, f.err
	}
	return record.IncentiveTransfer{AccountID: accountID, Amount: amount, TransactionID: "0.0.2@1.1", Direction: record.DirectionSend}, nil
}

func newService(t *testing.T, rewards Rewarder) (*Service, *ledgertest.Network, *memory.Store) {
	t.Helper()
	network := ledgertest.New()
	store := memory.New()
	guard := handoff.NewGuard(handoff.NewMemoryRegistry(), time.Minute, logging.NewDiscard())
	signer := signing.New(network, guard, logging.NewDiscard())
	return New(network, signer, network, store, rewards, logging.NewDiscard()), network, store
}

func TestService_MintStampsMetadata(t *testing.T) {
	rewards := &fakeRewards{}
	svc, network, _ := newService(t, rewards)
	ctx := context.Background()

	minted, err := svc.Mint(ctx, acme, MintRequest{AccountID: alice, CategoryID: "marketing", Hash: "abc123", IncentiveAmount: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), minted.Consent.SerialNumber)
	assert.Equal(t, record.ConsentActive, minted.Consent.Status)
	require.NotNil(t, minted.Incentive)
	assert.Equal(t, "0.0.2@1.1", minted.Consent.IncentiveTransactionID)
	assert.Equal(t, 1, rewards.calls)

	nft, err := network.GetNFT(ctx, consentToken, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, nft.AccountID)
	assert.Equal(t, "marketing:abc123", string(nft.Metadata))
}

func TestService_MintIncentiveFailureKeepsConsent(t *testing.T) {
	rewards := &fakeRewards{err: errors.New("treasury empty")}
	svc, _, store := newService(t, rewards)
	ctx := context.Background()

	minted, err := svc.Mint(ctx, acme, MintRequest{AccountID: alice, CategoryID: "c", Hash: "h", IncentiveAmount: 5})
	require.NoError(t, err)
	assert.Nil(t, minted.Incentive)
	assert.Contains(t, minted.IncentiveError, "treasury empty")

	records, err := store.ListConsents(ctx, acme.ID(), storage.ConsentFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_MintValidation(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	cases := []MintRequest{
		{AccountID: "alice", CategoryID: "c", Hash: "h"},
		{AccountID: alice, CategoryID: "", Hash: "h"},
		{AccountID: alice, CategoryID: "a:b", Hash: "h"},
		{AccountID: alice, CategoryID: "c", Hash: strings.Repeat("f", 100)},
		{AccountID: alice, CategoryID: "c", Hash: "h", IncentiveAmount: -1},
	}
	for _, req := range cases {
		_, err := svc.Mint(ctx, acme, req)
		assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation), "request %+v", req)
	}
}

func TestService_WithdrawLifecycle(t *testing.T) {
	svc, network, store := newService(t, nil)
	ctx := context.Background()

	minted, err := svc.Mint(ctx, acme, MintRequest{AccountID: alice, CategoryID: "c", Hash: "h"})
	require.NoError(t, err)
	serial := minted.Consent.SerialNumber

	built, err := svc.BuildWithdraw(ctx, acme, alice, serial)
	require.NoError(t, err)
	require.Len(t, built.Operation.NFTs, 1)
	assert.Equal(t, ledgertest.Operator, built.Operation.NFTs[0].To)

	withdrawn, err := svc.SubmitWithdraw(ctx, acme, alice, ledgertest.SignedBase64(built.Transaction))
	require.NoError(t, err)
	assert.Equal(t, record.ConsentWithdrawn, withdrawn.Status)
	assert.Equal(t, built.TransactionID, withdrawn.WithdrawTransactionID)
	require.NotNil(t, withdrawn.WithdrawnAt)

	status, err := svc.Status(ctx, acme, consentToken, serial)
	require.NoError(t, err)
	assert.Equal(t, mirror.StatusWithdrawn, status.Status)
	require.NotNil(t, status.Record)
	assert.Equal(t, record.ConsentWithdrawn, status.Record.Status)

	_, err = svc.BuildWithdraw(ctx, acme, alice, serial)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	history, err := svc.History(ctx, acme, consentToken, serial)
	require.NoError(t, err)
	assert.Equal(t, built.TransactionID, history[0].TransactionID)

	stored, err := store.GetConsentBySerial(ctx, acme.ID(), consentToken, serial)
	require.NoError(t, err)
	assert.Equal(t, record.ConsentWithdrawn, stored.Status)
	assert.Equal(t, 1, network.Submissions)
}

func TestService_WithdrawByOtherHolderRefused(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	minted, err := svc.Mint(ctx, acme, MintRequest{AccountID: alice, CategoryID: "c", Hash: "h"})
	require.NoError(t, err)

	_, err = svc.BuildWithdraw(ctx, acme, bob, minted.Consent.SerialNumber)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = svc.BuildWithdraw(ctx, acme, alice, 99)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}

func TestService_ActiveAndWithdrawnLists(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	for _, holder := range []string{alice, alice, bob} {
		_, err := svc.Mint(ctx, acme, MintRequest{AccountID: holder, CategoryID: "c", Hash: "h"})
		require.NoError(t, err)
	}
	built, err := svc.BuildWithdraw(ctx, acme, alice, 1)
	require.NoError(t, err)
	_, err = svc.SubmitWithdraw(ctx, acme, alice, ledgertest.SignedBase64(built.Transaction))
	require.NoError(t, err)

	active, err := svc.Active(ctx, acme, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	aliceActive, err := svc.Active(ctx, acme, alice)
	require.NoError(t, err)
	require.Len(t, aliceActive, 1)
	assert.Equal(t, int64(2), aliceActive[0].SerialNumber)
	assert.Equal(t, "c", aliceActive[0].CategoryID)

	withdrawn, err := svc.Withdrawn(ctx, acme)
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, int64(1), withdrawn[0].SerialNumber)
}

func TestService_StatusScopedToTenantToken(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, err := svc.Status(context.Background(), acme, "0.0.777", 1)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	_, err = svc.Status(context.Background(), acme, consentToken, 42)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	_, err = svc.History(context.Background(), acme, consentToken, 0)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}
