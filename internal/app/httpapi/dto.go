package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
)

// categoryID accepts a JSON string or integer.
type categoryID string

func (c *categoryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = categoryID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("categoryId must be a string or number")
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("categoryId must be an integer")
	}
	*c = categoryID(n.String())
	return nil
}

// Users ----------------------------------------------------------------------

type createUserRequest struct {
	PublicKey string  `json:"publicKey"`
	UID       *string `json:"uid,omitempty"`
}

type createUserResponse struct {
	UID                               *string   `json:"uid,omitempty"`
	PublicKey                         string    `json:"publicKey"`
	AccountID                         string    `json:"accountId"`
	UnsignedTokenAssociateTransaction string    `json:"unsignedTokenAssociateTransaction"`
	TransactionID                     string    `json:"transactionId"`
	ExpiresAt                         time.Time `json:"expiresAt"`
	TokenIDs                          []string  `json:"tokenIds"`
}

type associationResponse struct {
	UnsignedTokenAssociateTransaction string    `json:"unsignedTokenAssociateTransaction"`
	AccountID                         string    `json:"accountId"`
	TransactionID                     string    `json:"transactionId"`
	ExpiresAt                         time.Time `json:"expiresAt"`
	TokenIDs                          []string  `json:"tokenIds"`
}

// submitRequest carries a signed transaction back for submission.
type submitRequest struct {
	AccountID         string  `json:"accountId"`
	SignedTransaction string  `json:"signedTransaction"`
	UID               *string `json:"uid,omitempty"`
}

// submitResponse is the outcome of every signed submission.
type submitResponse struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transactionId,omitempty"`
	Message       string  `json:"message"`
	UID           *string `json:"uid,omitempty"`
}

// Consent --------------------------------------------------------------------

type createConsentRequest struct {
	AccountID       string     `json:"accountId"`
	UID             *string    `json:"uid,omitempty"`
	ConsentHash     string     `json:"consentHash"`
	CategoryID      categoryID `json:"categoryId"`
	IncentiveAmount *int64     `json:"incentiveAmount,omitempty"`
}

type createConsentResponse struct {
	Success         bool    `json:"success"`
	SerialNumber    int64   `json:"serialNumber"`
	TokenID         string  `json:"tokenId"`
	TransactionID   string  `json:"transactionId"`
	AccountID       string  `json:"accountId"`
	CategoryID      string  `json:"categoryId"`
	ConsentHash     string  `json:"consentHash"`
	IncentiveAmount *int64  `json:"incentiveAmount,omitempty"`
	IncentiveTxID   *string `json:"incentiveTransactionId,omitempty"`
	IncentiveError  *string `json:"incentiveError,omitempty"`
	UID             *string `json:"uid,omitempty"`
}

type withdrawConsentRequest struct {
	AccountID    string  `json:"accountId"`
	UID          *string `json:"uid,omitempty"`
	SerialNumber int64   `json:"serialNumber"`
	ConsentHash  *string `json:"consentHash,omitempty"`
}

type withdrawConsentResponse struct {
	UnsignedWithdrawTransaction string    `json:"unsignedWithdrawTransaction"`
	AccountID                   string    `json:"accountId"`
	SerialNumber                int64     `json:"serialNumber"`
	TransactionID               string    `json:"transactionId"`
	ExpiresAt                   time.Time `json:"expiresAt"`
	UID                         *string   `json:"uid,omitempty"`
	ConsentHash                 *string   `json:"consentHash,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listOf[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

// Data capture ---------------------------------------------------------------

type createDataCaptureRequest struct {
	AccountID       string     `json:"accountId"`
	UID             *string    `json:"uid,omitempty"`
	DataHash        string     `json:"dataHash"`
	CategoryID      categoryID `json:"categoryId"`
	IncentiveAmount *int64     `json:"incentiveAmount,omitempty"`
}

type createDataCaptureResponse struct {
	Success         bool    `json:"success"`
	SerialNumber    int64   `json:"serialNumber"`
	TokenID         string  `json:"tokenId"`
	TransactionID   string  `json:"transactionId"`
	AccountID       string  `json:"accountId"`
	DataHash        string  `json:"dataHash"`
	CategoryID      string  `json:"categoryId"`
	IncentiveAmount *int64  `json:"incentiveAmount,omitempty"`
	IncentiveTxID   *string `json:"incentiveTransactionId,omitempty"`
	IncentiveError  *string `json:"incentiveError,omitempty"`
	UID             *string `json:"uid,omitempty"`
}

// Incentives -----------------------------------------------------------------

type incentiveRequest struct {
	AccountID string  `json:"accountId"`
	Amount    int64   `json:"amount"`
	Memo      *string `json:"memo,omitempty"`
}

type sendIncentiveResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"accountId"`
	Amount        int64  `json:"amount"`
}

type redeemResponse struct {
	UnsignedRedeemTransaction string    `json:"unsignedRedeemTransaction"`
	AccountID                 string    `json:"accountId"`
	Amount                    int64     `json:"amount"`
	Memo                      *string   `json:"memo,omitempty"`
	TransactionID             string    `json:"transactionId"`
	ExpiresAt                 time.Time `json:"expiresAt"`
}

type balanceResponse struct {
	AccountID string `json:"accountId"`
	TokenID   string `json:"tokenId"`
	Balance   int64  `json:"balance"`
}

// Dashboard ------------------------------------------------------------------

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Plan     string `json:"plan,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type provisionRequest struct {
	IncentiveSupply *uint64 `json:"incentiveSupply,omitempty"`
}

type tenantView struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Plan               string    `json:"plan"`
	APIKeyPrefix       string    `json:"apiKeyPrefix"`
	TreasuryAccountID  *string   `json:"treasuryAccountId,omitempty"`
	ConsentTokenID     *string   `json:"consentTokenId,omitempty"`
	DataCaptureTokenID *string   `json:"dataCaptureTokenId,omitempty"`
	IncentiveTokenID   *string   `json:"incentiveTokenId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type authResponse struct {
	Token  string     `json:"token"`
	Tenant tenantView `json:"tenant"`
	APIKey *string    `json:"apiKey,omitempty"`
}

type apiKeyResponse struct {
	APIKey       string `json:"apiKey"`
	APIKeyPrefix string `json:"apiKeyPrefix"`
}

type healthResponse struct {
	Status   string               `json:"status"`
	Time     time.Time            `json:"time"`
	Ledger   string               `json:"ledger"`
	Services []service.Descriptor `json:"services"`
}

// Mapping --------------------------------------------------------------------

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toTenantView(t tenant.Tenant) tenantView {
	return tenantView{
		ID:                 t.ID,
		Name:               t.Name,
		Email:              t.Email,
		Plan:               t.Plan,
		APIKeyPrefix:       t.APIKeyPrefix,
		TreasuryAccountID:  optional(t.TreasuryAccountID),
		ConsentTokenID:     optional(t.Tokens.ConsentTokenID),
		DataCaptureTokenID: optional(t.Tokens.DataCaptureTokenID),
		IncentiveTokenID:   optional(t.Tokens.IncentiveTokenID),
		CreatedAt:          t.CreatedAt,
	}
}

func toAssociationResponse(acct account.UserAccount, built signing.Built) associationResponse {
	return associationResponse{
		UnsignedTokenAssociateTransaction: built.Transaction,
		AccountID:                         acct.AccountID,
		TransactionID:                     built.TransactionID,
		ExpiresAt:                         built.ExpiresAt,
		TokenIDs:                          built.Operation.TokenIDs,
	}
}

func incentiveFields(transfer *record.IncentiveTransfer, failure string) (*int64, *string, *string) {
	if transfer != nil {
		amount := transfer.Amount
		return &amount, optional(transfer.TransactionID), nil
	}
	if failure != "" {
		return nil, nil, &failure
	}
	return nil, nil, nil
}
