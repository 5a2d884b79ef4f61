package account

import "time"

// UserAccount is a ledger account opened by a tenant on behalf of one of its
// end users. The gateway never holds the account's private key. Associated
// is set once the user submitted the signed token association.
type UserAccount struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	AccountID       string    `json:"accountId"`
	PublicKey       string    `json:"publicKey"`
	Associated      bool      `json:"associated"`
	AssociationTxID string    `json:"associationTxId,omitempty"`
	CreationTxID    string    `json:"creationTxId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
