package postgres

import (
	"database/sql"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
)

type tenantRow struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Email             string    `db:"email"`
	PasswordHash      string    `db:"password_hash"`
	APIKeyHash        string    `db:"api_key_hash"`
	APIKeyPrefix      string    `db:"api_key_prefix"`
	Plan              string    `db:"plan"`
	TreasuryAccountID string    `db:"treasury_account_id"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type tenantTokenRow struct {
	Kind    string `db:"kind"`
	TokenID string `db:"token_id"`
}

func toTenantRow(t tenant.Tenant) tenantRow {
	return tenantRow{
		ID:                t.ID,
		Name:              t.Name,
		Email:             t.Email,
		PasswordHash:      t.PasswordHash,
		APIKeyHash:        t.APIKeyHash,
		APIKeyPrefix:      t.APIKeyPrefix,
		Plan:              t.Plan,
		TreasuryAccountID: t.TreasuryAccountID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func (r tenantRow) toDomain(tokens []tenantTokenRow) tenant.Tenant {
	t := tenant.Tenant{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		PasswordHash:      r.PasswordHash,
		APIKeyHash:        r.APIKeyHash,
		APIKeyPrefix:      r.APIKeyPrefix,
		Plan:              r.Plan,
		TreasuryAccountID: r.TreasuryAccountID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	for _, tok := range tokens {
		switch tok.Kind {
		case "consent":
			t.Tokens.ConsentTokenID = tok.TokenID
		case "data_capture":
			t.Tokens.DataCaptureTokenID = tok.TokenID
		case "incentive":
			t.Tokens.IncentiveTokenID = tok.TokenID
		}
	}
	return t
}

type userAccountRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	AccountID       string         `db:"account_id"`
	PublicKey       string         `db:"public_key"`
	Associated      bool           `db:"associated"`
	AssociationTxID sql.NullString `db:"association_tx_id"`
	CreationTxID    string         `db:"creation_tx_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func toUserAccountRow(a account.UserAccount) userAccountRow {
	return userAccountRow{
		ID:              a.ID,
		TenantID:        a.TenantID,
		AccountID:       a.AccountID,
		PublicKey:       a.PublicKey,
		Associated:      a.Associated,
		AssociationTxID: nullString(a.AssociationTxID),
		CreationTxID:    a.CreationTxID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (r userAccountRow) toDomain() account.UserAccount {
	return account.UserAccount{
		ID:              r.ID,
		TenantID:        r.TenantID,
		AccountID:       r.AccountID,
		PublicKey:       r.PublicKey,
		Associated:      r.Associated,
		AssociationTxID: r.AssociationTxID.String,
		CreationTxID:    r.CreationTxID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type consentRow struct {
	ID                     string         `db:"id"`
	TenantID               string         `db:"tenant_id"`
	AccountID              string         `db:"account_id"`
	TokenID                string         `db:"token_id"`
	SerialNumber           int64          `db:"serial_number"`
	CategoryID             string         `db:"category_id"`
	Hash                   string         `db:"hash"`
	MintTransactionID      string         `db:"mint_transaction_id"`
	IncentiveTransactionID string         `db:"incentive_transaction_id"`
	Status                 string         `db:"status"`
	WithdrawTransactionID  sql.NullString `db:"withdraw_transaction_id"`
	WithdrawnAt            sql.NullTime   `db:"withdrawn_at"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func toConsentRow(c record.Consent) consentRow {
	row := consentRow{
		ID:                     c.ID,
		TenantID:               c.TenantID,
		AccountID:              c.AccountID,
		TokenID:                c.TokenID,
		SerialNumber:           c.SerialNumber,
		CategoryID:             c.CategoryID,
		Hash:                   c.Hash,
		MintTransactionID:      c.MintTransactionID,
		IncentiveTransactionID: c.IncentiveTransactionID,
		Status:                 string(c.Status),
		WithdrawTransactionID:  nullString(c.WithdrawTransactionID),
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
	if c.WithdrawnAt != nil {
		row.WithdrawnAt = sql.NullTime{Time: *c.WithdrawnAt, Valid: true}
	}
	return row
}

func (r consentRow) toDomain() record.Consent {
	c := record.Consent{
		ID:                     r.ID,
		TenantID:               r.TenantID,
		AccountID:              r.AccountID,
		TokenID:                r.TokenID,
		SerialNumber:           r.SerialNumber,
		CategoryID:             r.CategoryID,
		Hash:                   r.Hash,
		MintTransactionID:      r.MintTransactionID,
		IncentiveTransactionID: r.IncentiveTransactionID,
		Status:                 record.ConsentStatus(r.Status),
		WithdrawTransactionID:  r.WithdrawTransactionID.String,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.WithdrawnAt.Valid {
		at := r.WithdrawnAt.Time
		c.WithdrawnAt = &at
	}
	return c
}

type dataCaptureRow struct {
	ID                     string    `db:"id"`
	TenantID               string    `db:"tenant_id"`
	AccountID              string    `db:"account_id"`
	TokenID                string    `db:"token_id"`
	SerialNumber           int64     `db:"serial_number"`
	CategoryID             string    `db:"category_id"`
	Hash                   string    `db:"hash"`
	TransactionID          string    `db:"transaction_id"`
	IncentiveTransactionID string    `db:"incentive_transaction_id"`
	CreatedAt              time.Time `db:"created_at"`
}

func toDataCaptureRow(dc record.DataCapture) dataCaptureRow {
	return dataCaptureRow(dc)
}

func (r dataCaptureRow) toDomain() record.DataCapture {
	return record.DataCapture(r)
}

type incentiveRow struct {
	ID            string    `db:"id"`
	TenantID      string    `db:"tenant_id"`
	AccountID     string    `db:"account_id"`
	TokenID       string    `db:"token_id"`
	Amount        int64     `db:"amount"`
	Direction     string    `db:"direction"`
	Memo          string    `db:"memo"`
	TransactionID string    `db:"transaction_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func toIncentiveRow(tr record.IncentiveTransfer) incentiveRow {
	return incentiveRow{
		ID:            tr.ID,
		TenantID:      tr.TenantID,
		AccountID:     tr.AccountID,
		TokenID:       tr.TokenID,
		Amount:        tr.Amount,
		Direction:     string(tr.Direction),
		Memo:          tr.Memo,
		TransactionID: tr.TransactionID,
		CreatedAt:     tr.CreatedAt,
	}
}

func (r incentiveRow) toDomain() record.IncentiveTransfer {
	return record.IncentiveTransfer{
		ID:            r.ID,
		TenantID:      r.TenantID,
		AccountID:     r.AccountID,
		TokenID:       r.TokenID,
		Amount:        r.Amount,
		Direction:     record.Direction(r.Direction),
		Memo:          r.Memo,
		TransactionID: r.TransactionID,
		CreatedAt:     r.CreatedAt,
	}
}
