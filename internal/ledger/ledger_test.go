package ledger

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
)

func TestBuildParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  BuildParams
		wantErr bool
	}{
		{
			name:   "associate",
			params: BuildParams{Kind: KindAssociateTokens, AccountID: "0.0.1001", TokenIDs: []string{"0.0.500", "0.0.501", "0.0.502"}},
		},
		{
			name:    "associate without tokens",
			params:  BuildParams{Kind: KindAssociateTokens, AccountID: "0.0.1001"},
			wantErr: true,
		},
		{
			name:    "associate duplicate token",
			params:  BuildParams{Kind: KindAssociateTokens, AccountID: "0.0.1001", TokenIDs: []string{"0.0.500", "0.0.500"}},
			wantErr: true,
		},
		{
			name:    "malformed account",
			params:  BuildParams{Kind: KindAssociateTokens, AccountID: "1001", TokenIDs: []string{"0.0.500"}},
			wantErr: true,
		},
		{
			name:   "nft transfer",
			params: BuildParams{Kind: KindTransferNFT, TokenID: "0.0.500", SerialNumber: 7, FromAccountID: "0.0.1001", ToAccountID: "0.0.2"},
		},
		{
			name:    "nft transfer zero serial",
			params:  BuildParams{Kind: KindTransferNFT, TokenID: "0.0.500", FromAccountID: "0.0.1001", ToAccountID: "0.0.2"},
			wantErr: true,
		},
		{
			name:    "nft transfer to self",
			params:  BuildParams{Kind: KindTransferNFT, TokenID: "0.0.500", SerialNumber: 1, FromAccountID: "0.0.1001", ToAccountID: "0.0.1001"},
			wantErr: true,
		},
		{
			name:   "fungible",
			params: BuildParams{Kind: KindTransferFungible, TokenID: "0.0.502", Amount: 25, FromAccountID: "0.0.1001", ToAccountID: "0.0.2", Memo: "redeem"},
		},
		{
			name:    "fungible negative amount",
			params:  BuildParams{Kind: KindTransferFungible, TokenID: "0.0.502", Amount: -1, FromAccountID: "0.0.1001", ToAccountID: "0.0.2"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			params:  BuildParams{Kind: "burn"},
			wantErr: true,
		},
		{
			name:    "memo too long",
			params:  BuildParams{Kind: KindTransferFungible, TokenID: "0.0.502", Amount: 1, FromAccountID: "0.0.1001", ToAccountID: "0.0.2", Memo: string(make([]byte, MaxMemoLength+1))},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuildParams_Payer(t *testing.T) {
	assert.Equal(t, "0.0.1001", BuildParams{Kind: KindAssociateTokens, AccountID: "0.0.1001"}.Payer())
	assert.Equal(t, "0.0.7", BuildParams{Kind: KindTransferNFT, FromAccountID: "0.0.7", ToAccountID: "0.0.2"}.Payer())
}

func TestOperation_EqualIgnoresOrder(t *testing.T) {
	a := Operation{
		Kind:          KindAssociateTokens,
		TransactionID: "0.0.2@1700000000.000000001",
		AccountID:     "0.0.1001",
		TokenIDs:      []string{"0.0.502", "0.0.500", "0.0.501"},
	}
	b := a
	b.TokenIDs = []string{"0.0.500", "0.0.501", "0.0.502"}
	assert.True(t, a.Equal(b))

	b.TokenIDs = []string{"0.0.500", "0.0.501"}
	assert.False(t, a.Equal(b))

	c := a
	c.TransactionID = "0.0.2@1700000000.000000002"
	assert.False(t, a.Equal(c))
}

func TestOperation_Matches(t *testing.T) {
	params := BuildParams{Kind: KindTransferFungible, TokenID: "0.0.502", Amount: 25, FromAccountID: "0.0.1001", ToAccountID: "0.0.2"}
	op := Operation{
		Kind: KindTransferFungible,
		Tokens: []TokenMove{
			{TokenID: "0.0.502", AccountID: "0.0.2", Amount: 25},
			{TokenID: "0.0.502", AccountID: "0.0.1001", Amount: -25},
		},
	}
	assert.True(t, op.Matches(params))

	params.Amount = 26
	assert.False(t, op.Matches(params))

	nft := Operation{Kind: KindTransferNFT, NFTs: []NFTMove{{TokenID: "0.0.500", SerialNumber: 3, From: "0.0.1001", To: "0.0.2"}}}
	assert.True(t, nft.Matches(BuildParams{Kind: KindTransferNFT, TokenID: "0.0.500", SerialNumber: 3, FromAccountID: "0.0.1001", ToAccountID: "0.0.2"}))
	assert.False(t, nft.Matches(BuildParams{Kind: KindTransferNFT, TokenID: "0.0.500", SerialNumber: 4, FromAccountID: "0.0.1001", ToAccountID: "0.0.2"}))
}

func TestToServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   svcerrors.ErrorCode
		status int
	}{
		{"params", invalid("bad"), svcerrors.CodeValidation, http.StatusBadRequest},
		{"decode", ErrDecode, svcerrors.CodeDecode, http.StatusBadRequest},
		{"rejected", Rejected("INVALID_SIGNATURE", "0.0.2@1.1", nil), svcerrors.CodeLedgerRejected, http.StatusBadGateway},
		{"network", Unreachable(errors.New("dial tcp")), svcerrors.CodeNetwork, http.StatusServiceUnavailable},
		{"unavailable", Unavailable(errors.New("freeze")), svcerrors.CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"dispatched", Dispatched("0.0.2@1.1", context.DeadlineExceeded), svcerrors.CodeUpstream, http.StatusBadGateway},
		{"other", errors.New("boom"), svcerrors.CodeUpstream, http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			se := ToServiceError(tc.err)
			require.NotNil(t, se)
			assert.Equal(t, tc.code, se.Code)
			assert.Equal(t, tc.status, se.HTTPStatus)
		})
	}

	se := ToServiceError(Rejected("INVALID_SIGNATURE", "0.0.2@1.1", nil))
	assert.Equal(t, "INVALID_SIGNATURE", se.Details["status"])
	assert.Equal(t, "0.0.2@1.1", se.Details["transactionId"])
	assert.Nil(t, ToServiceError(nil))

	lost := ToServiceError(Dispatched("0.0.2@1.1", context.DeadlineExceeded))
	assert.Equal(t, "0.0.2@1.1", lost.Details["transactionId"])
	assert.False(t, lost.Retryable())
	assert.False(t, errors.Is(Dispatched("0.0.2@1.1", nil), ErrNetwork))
}

func TestOffline_ReportsUnavailable(t *testing.T) {
	_, err := Offline{}.BuildUnsigned(context.Background(), BuildParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, ToServiceError(err).HTTPStatus)
}
