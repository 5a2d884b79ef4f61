package signing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/ledger/ledgertest"
	"github.com/R3E-Network/token_engine/internal/logging"
)

var (
	acme  = tenant.NewContext(tenant.Tenant{ID: "tenant-acme", TreasuryAccountID: "0.0.2"})
	other = tenant.NewContext(tenant.Tenant{ID: "tenant-other", TreasuryAccountID: "0.0.3"})
)

func newService(t *testing.T) (*Service, *ledgertest.Network) {
	t.Helper()
	network := ledgertest.New()
	guard := handoff.NewGuard(handoff.NewMemoryRegistry(), 3*time.Minute, logging.NewDiscard())
	return New(network, guard, logging.NewDiscard()), network
}

func associateParams() ledger.BuildParams {
	return ledger.BuildParams{
		Kind:      ledger.KindAssociateTokens,
		AccountID: "0.0.1001",
		TokenIDs:  []string{"0.0.500", "0.0.501", "0.0.502"},
	}
}

func requireCode(t *testing.T, err error, code svcerrors.ErrorCode, status int) {
	t.Helper()
	require.Error(t, err)
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se, "expected ServiceError, got %T: %v", err, err)
	assert.Equal(t, code, se.Code)
	assert.Equal(t, status, se.HTTPStatus)
}

type recorder struct {
	calls int
	err   error
}

func (r *recorder) record(ctx context.Context, entry handoff.Entry, receipt ledger.Receipt) error {
	r.calls++
	return r.err
}

func TestBuild_AssociationNamesRequestedTokens(t *testing.T) {
	svc, network := newService(t)

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	require.NotEmpty(t, built.Transaction)

	raw, err := ledger.Decode(built.Transaction)
	require.NoError(t, err)
	op, err := network.Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindAssociateTokens, op.Kind)
	assert.Equal(t, "0.0.1001", op.AccountID)
	assert.ElementsMatch(t, []string{"0.0.500", "0.0.501", "0.0.502"}, op.TokenIDs)
	assert.Equal(t, built.TransactionID, op.TransactionID)
}

func TestBuild_ValidationAndUnavailable(t *testing.T) {
	svc, network := newService(t)

	_, err := svc.Build(context.Background(), acme, ledger.BuildParams{Kind: ledger.KindAssociateTokens, AccountID: "bogus"}, "")
	requireCode(t, err, svcerrors.CodeValidation, http.StatusBadRequest)

	network.BuildErr = ledger.Unavailable(errors.New("freeze failed"))
	_, err = svc.Build(context.Background(), acme, associateParams(), "")
	requireCode(t, err, svcerrors.CodeServiceUnavailable, http.StatusServiceUnavailable)
}

func TestBuild_ConcurrentBuildsAreIndependent(t *testing.T) {
	svc, _ := newService(t)

	a, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	b, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	assert.NotEqual(t, a.TransactionID, b.TransactionID)
	assert.NotEqual(t, a.Transaction, b.Transaction)
}

func TestSubmit_ConfirmsAndRecordsOnce(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	signed := ledgertest.SignedBase64(built.Transaction)

	sub := Submission{Transaction: signed, AccountID: "0.0.1001", Kind: ledger.KindAssociateTokens}
	confirmed, err := svc.Submit(context.Background(), acme, sub, rec.record)
	require.NoError(t, err)
	assert.True(t, confirmed.Receipt.Success())
	assert.Equal(t, built.TransactionID, confirmed.Receipt.TransactionID)
	assert.True(t, network.Associated("0.0.1001", "0.0.502"))

	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	requireCode(t, err, svcerrors.CodeConflict, http.StatusConflict)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, network.Submissions)
}

func TestSubmit_MalformedPayload(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	_, err := svc.Submit(context.Background(), acme, Submission{Transaction: "not-base64!!"}, rec.record)
	requireCode(t, err, svcerrors.CodeDecode, http.StatusBadRequest)

	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledger.Encode([]byte("garbage"))}, rec.record)
	requireCode(t, err, svcerrors.CodeDecode, http.StatusBadRequest)

	assert.Zero(t, rec.calls)
	assert.Zero(t, network.Submissions)
}

func TestSubmit_NeverBuiltIsRefused(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	forged, err := network.BuildUnsigned(context.Background(), associateParams())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledger.Encode(ledgertest.Sign(forged.Bytes))}, rec.record)
	requireCode(t, err, svcerrors.CodeForbidden, http.StatusForbidden)
	assert.Zero(t, network.Submissions)
	assert.Zero(t, rec.calls)
}

func TestSubmit_CrossTenantIsRefused(t *testing.T) {
	svc, network := newService(t)

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), other, Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}, nil)
	requireCode(t, err, svcerrors.CodeForbidden, http.StatusForbidden)
	assert.Zero(t, network.Submissions)

	// the owner can still submit
	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}, nil)
	require.NoError(t, err)
}

func TestSubmit_TamperedContentIsRefused(t *testing.T) {
	svc, network := newService(t)

	built, err := svc.Build(context.Background(), acme, ledger.BuildParams{
		Kind: ledger.KindTransferFungible, TokenID: "0.0.502",
		FromAccountID: "0.0.1001", ToAccountID: "0.0.2", Amount: 5,
	}, "")
	require.NoError(t, err)

	raw, err := ledger.Decode(built.Transaction)
	require.NoError(t, err)
	tampered := ledgertest.Tamper(ledgertest.Sign(raw), func(op *ledger.Operation) {
		for i := range op.Tokens {
			op.Tokens[i].Amount *= 100
		}
	})

	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledger.Encode(tampered)}, nil)
	requireCode(t, err, svcerrors.CodeForbidden, http.StatusForbidden)
	assert.Zero(t, network.Submissions)
}

func TestSubmit_WrongKindForEndpoint(t *testing.T) {
	svc, _ := newService(t)

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), acme, Submission{
		Transaction: ledgertest.SignedBase64(built.Transaction),
		Kind:        ledger.KindTransferFungible,
	}, nil)
	requireCode(t, err, svcerrors.CodeValidation, http.StatusBadRequest)
}

func TestSubmit_NetworkErrorReleasesClaim(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	sub := Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}

	network.SubmitErr = ledger.Unreachable(errors.New("connection refused"))
	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	requireCode(t, err, svcerrors.CodeNetwork, http.StatusServiceUnavailable)
	assert.Zero(t, rec.calls)

	network.SubmitErr = nil
	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
}

func TestSubmit_UnsignedIsLedgerRejected(t *testing.T) {
	svc, _ := newService(t)
	rec := &recorder{}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: built.Transaction}, rec.record)
	requireCode(t, err, svcerrors.CodeLedgerRejected, http.StatusBadGateway)
	assert.Zero(t, rec.calls)

	// rejected submissions stay consumed; the caller builds a new one
	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}, rec.record)
	requireCode(t, err, svcerrors.CodeConflict, http.StatusConflict)
}

func TestSubmit_RecordFailureIsReported(t *testing.T) {
	svc, _ := newService(t)
	rec := &recorder{err: errors.New("db down")}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), acme, Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}, rec.record)
	requireCode(t, err, svcerrors.CodeInternal, http.StatusInternalServerError)
	se := svcerrors.GetServiceError(err)
	assert.Equal(t, built.TransactionID, se.Details["transactionId"])
}

func TestSubmit_LostReceiptIsRecovered(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	sub := Submission{Transaction: ledgertest.SignedBase64(built.Transaction), AccountID: "0.0.1001"}

	network.LostReceipts = 1
	confirmed, err := svc.Submit(context.Background(), acme, sub, rec.record)
	require.NoError(t, err)
	assert.True(t, confirmed.Receipt.Success())
	assert.Equal(t, built.TransactionID, confirmed.Receipt.TransactionID)
	assert.Equal(t, 1, rec.calls)

	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	requireCode(t, err, svcerrors.CodeConflict, http.StatusConflict)
	assert.Equal(t, 1, network.Submissions)
	assert.Equal(t, 1, rec.calls)
}

func TestSubmit_UnknownOutcomeKeepsClaim(t *testing.T) {
	svc, network := newService(t)
	rec := &recorder{}

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)
	sub := Submission{Transaction: ledgertest.SignedBase64(built.Transaction), AccountID: "0.0.1001"}

	network.LostReceipts = 1
	network.ReceiptErr = ledger.Dispatched(built.TransactionID, context.DeadlineExceeded)

	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	requireCode(t, err, svcerrors.CodeUpstream, http.StatusBadGateway)
	se := svcerrors.GetServiceError(err)
	assert.Equal(t, built.TransactionID, se.Details["transactionId"])
	assert.False(t, se.Retryable())
	assert.True(t, network.Associated("0.0.1001", "0.0.502"))

	// a retry must not reach the ledger a second time
	_, err = svc.Submit(context.Background(), acme, sub, rec.record)
	requireCode(t, err, svcerrors.CodeConflict, http.StatusConflict)
	assert.Equal(t, 1, network.Submissions)
	assert.Zero(t, rec.calls)
}

func TestSubmit_CancelledRequestStillRecords(t *testing.T) {
	svc, network := newService(t)

	built, err := svc.Build(context.Background(), acme, associateParams(), "")
	require.NoError(t, err)

	var recordErr error
	record := func(ctx context.Context, entry handoff.Entry, receipt ledger.Receipt) error {
		recordErr = ctx.Err()
		return nil
	}

	// the client went away while the receipt was being read
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	network.LostReceipts = 1

	_, err = svc.Submit(ctx, acme, Submission{Transaction: ledgertest.SignedBase64(built.Transaction)}, record)
	require.NoError(t, err)
	assert.NoError(t, recordErr)
}
