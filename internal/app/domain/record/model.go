// Package record holds the operation records written after confirmed ledger
// transactions.
package record

import "time"

// ConsentStatus is the lifecycle state of a consent record.
type ConsentStatus string

const (
	ConsentActive    ConsentStatus = "active"
	ConsentWithdrawn ConsentStatus = "withdrawn"
)

// Consent is a minted consent NFT held by an end user.
type Consent struct {
	ID                     string        `json:"id"`
	TenantID               string        `json:"tenantId"`
	AccountID              string        `json:"accountId"`
	TokenID                string        `json:"tokenId"`
	SerialNumber           int64         `json:"serialNumber"`
	CategoryID             string        `json:"categoryId"`
	Hash                   string        `json:"hash"`
	MintTransactionID      string        `json:"mintTransactionId"`
	IncentiveTransactionID string        `json:"incentiveTransactionId,omitempty"`
	Status                 ConsentStatus `json:"status"`
	WithdrawTransactionID  string        `json:"withdrawTransactionId,omitempty"`
	WithdrawnAt            *time.Time    `json:"withdrawnAt,omitempty"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}

// DataCapture is a minted data capture NFT.
type DataCapture struct {
	ID                     string    `json:"id"`
	TenantID               string    `json:"tenantId"`
	AccountID              string    `json:"accountId"`
	TokenID                string    `json:"tokenId"`
	SerialNumber           int64     `json:"serialNumber"`
	CategoryID             string    `json:"categoryId"`
	Hash                   string    `json:"hash"`
	TransactionID          string    `json:"transactionId"`
	IncentiveTransactionID string    `json:"incentiveTransactionId,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
}

// Direction says which way incentive tokens moved.
type Direction string

const (
	// DirectionSend is treasury to user, signed by the operator.
	DirectionSend Direction = "send"
	// DirectionRedeem is user to treasury, signed by the user.
	DirectionRedeem Direction = "redeem"
)

// IncentiveTransfer is a confirmed incentive token movement.
type IncentiveTransfer struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	AccountID     string    `json:"accountId"`
	TokenID       string    `json:"tokenId"`
	Amount        int64     `json:"amount"`
	Direction     Direction `json:"direction"`
	Memo          string    `json:"memo,omitempty"`
	TransactionID string    `json:"transactionId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Usage is one authenticated API call.
type Usage struct {
	ID         string
	TenantID   string
	Method     string
	Path       string
	StatusCode int
	CreatedAt  time.Time
}
