package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.TenantStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.ConsentStore = (*Store)(nil)
var _ storage.DataCaptureStore = (*Store)(nil)
var _ storage.IncentiveStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// mapErr translates driver errors into storage sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s (%s)", storage.ErrDuplicate, what, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notAffected(res sql.Result, what string) error {
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	}
	return nil
}

// --- TenantStore ------------------------------------------------------------

const tenantColumns = `id, name, email, password_hash, api_key_hash, api_key_prefix, plan, treasury_account_id, created_at, updated_at`

func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO tenants (`+tenantColumns+`)
			VALUES (:id, :name, :email, :password_hash, :api_key_hash, :api_key_prefix, :plan, :treasury_account_id, :created_at, :updated_at)
		`, toTenantRow(t)); err != nil {
			return err
		}
		return saveTokens(ctx, tx, t.ID, t.Tokens)
	})
	if err != nil {
		return tenant.Tenant{}, mapErr(err, "create tenant")
	}
	return t, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	t.UpdatedAt = time.Now().UTC()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			UPDATE tenants
			SET name = :name, email = :email, password_hash = :password_hash, api_key_hash = :api_key_hash,
			    api_key_prefix = :api_key_prefix, plan = :plan, treasury_account_id = :treasury_account_id,
			    updated_at = :updated_at
			WHERE id = :id
		`, toTenantRow(t))
		if err != nil {
			return err
		}
		if err := notAffected(res, "tenant "+t.ID); err != nil {
			return err
		}
		return saveTokens(ctx, tx, t.ID, t.Tokens)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tenant.Tenant{}, err
		}
		return tenant.Tenant{}, mapErr(err, "update tenant")
	}
	return s.GetTenant(ctx, t.ID)
}

func saveTokens(ctx context.Context, tx *sqlx.Tx, tenantID string, tokens tenant.Tokens) error {
	for kind, tokenID := range map[string]string{
		"consent":      tokens.ConsentTokenID,
		"data_capture": tokens.DataCaptureTokenID,
		"incentive":    tokens.IncentiveTokenID,
	} {
		if tokenID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_tokens (tenant_id, kind, token_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, kind) DO UPDATE SET token_id = EXCLUDED.token_id
		`, tenantID, kind, tokenID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	return s.getTenant(ctx, "tenant "+id, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (s *Store) GetTenantByEmail(ctx context.Context, email string) (tenant.Tenant, error) {
	return s.getTenant(ctx, "tenant by email", `SELECT `+tenantColumns+` FROM tenants WHERE lower(email) = lower($1)`, email)
}

func (s *Store) GetTenantByAPIKeyHash(ctx context.Context, hash string) (tenant.Tenant, error) {
	return s.getTenant(ctx, "tenant by api key", `SELECT `+tenantColumns+` FROM tenants WHERE api_key_hash = $1`, hash)
}

func (s *Store) getTenant(ctx context.Context, what, query string, arg string) (tenant.Tenant, error) {
	var row tenantRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		return tenant.Tenant{}, mapErr(err, what)
	}

	var tokens []tenantTokenRow
	if err := s.db.SelectContext(ctx, &tokens, `
		SELECT kind, token_id FROM tenant_tokens WHERE tenant_id = $1
	`, row.ID); err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant tokens")
	}
	return row.toDomain(tokens), nil
}

// --- AccountStore -----------------------------------------------------------

const userAccountColumns = `id, tenant_id, account_id, public_key, associated, association_tx_id, creation_tx_id, created_at, updated_at`

func (s *Store) CreateUserAccount(ctx context.Context, acct account.UserAccount) (account.UserAccount, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_accounts (`+userAccountColumns+`)
		VALUES (:id, :tenant_id, :account_id, :public_key, :associated, :association_tx_id, :creation_tx_id, :created_at, :updated_at)
	`, toUserAccountRow(acct)); err != nil {
		return account.UserAccount{}, mapErr(err, "create user account")
	}
	return acct, nil
}

func (s *Store) UpdateUserAccount(ctx context.Context, acct account.UserAccount) (account.UserAccount, error) {
	acct.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE user_accounts
		SET public_key = :public_key, associated = :associated, association_tx_id = :association_tx_id,
		    creation_tx_id = :creation_tx_id, updated_at = :updated_at
		WHERE tenant_id = :tenant_id AND account_id = :account_id
	`, toUserAccountRow(acct))
	if err != nil {
		return account.UserAccount{}, mapErr(err, "update user account")
	}
	if err := notAffected(res, "user account "+acct.AccountID); err != nil {
		return account.UserAccount{}, err
	}
	return s.GetUserAccount(ctx, acct.TenantID, acct.AccountID)
}

func (s *Store) GetUserAccount(ctx context.Context, tenantID, accountID string) (account.UserAccount, error) {
	var row userAccountRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+userAccountColumns+` FROM user_accounts WHERE tenant_id = $1 AND account_id = $2
	`, tenantID, accountID); err != nil {
		return account.UserAccount{}, mapErr(err, "user account "+accountID)
	}
	return row.toDomain(), nil
}

func (s *Store) ListUserAccounts(ctx context.Context, tenantID string) ([]account.UserAccount, error) {
	var rows []userAccountRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+userAccountColumns+` FROM user_accounts WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID); err != nil {
		return nil, mapErr(err, "list user accounts")
	}
	out := make([]account.UserAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- ConsentStore -----------------------------------------------------------

const consentColumns = `id, tenant_id, account_id, token_id, serial_number, category_id, hash, mint_transaction_id,
	incentive_transaction_id, status, withdraw_transaction_id, withdrawn_at, created_at, updated_at`

func (s *Store) CreateConsent(ctx context.Context, c record.Consent) (record.Consent, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = record.ConsentActive
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO consents (`+consentColumns+`)
		VALUES (:id, :tenant_id, :account_id, :token_id, :serial_number, :category_id, :hash, :mint_transaction_id,
		        :incentive_transaction_id, :status, :withdraw_transaction_id, :withdrawn_at, :created_at, :updated_at)
	`, toConsentRow(c)); err != nil {
		return record.Consent{}, mapErr(err, "create consent")
	}
	return c, nil
}

// UpdateConsent overwrites the mutable columns. Concurrent updates are last-write-wins.
func (s *Store) UpdateConsent(ctx context.Context, c record.Consent) (record.Consent, error) {
	c.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE consents
		SET status = :status, withdraw_transaction_id = :withdraw_transaction_id, withdrawn_at = :withdrawn_at,
		    incentive_transaction_id = :incentive_transaction_id, updated_at = :updated_at
		WHERE id = :id
	`, toConsentRow(c))
	if err != nil {
		return record.Consent{}, mapErr(err, "update consent")
	}
	if err := notAffected(res, "consent "+c.ID); err != nil {
		return record.Consent{}, err
	}
	return c, nil
}

func (s *Store) GetConsentBySerial(ctx context.Context, tenantID, tokenID string, serial int64) (record.Consent, error) {
	var row consentRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+consentColumns+` FROM consents WHERE tenant_id = $1 AND token_id = $2 AND serial_number = $3
	`, tenantID, tokenID, serial); err != nil {
		return record.Consent{}, mapErr(err, fmt.Sprintf("consent %s/%d", tokenID, serial))
	}
	return row.toDomain(), nil
}

func (s *Store) ListConsents(ctx context.Context, tenantID string, filter storage.ConsentFilter) ([]record.Consent, error) {
	var rows []consentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+consentColumns+` FROM consents
		WHERE tenant_id = $1
		  AND ($2 = '' OR account_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY serial_number DESC
	`, tenantID, filter.AccountID, string(filter.Status)); err != nil {
		return nil, mapErr(err, "list consents")
	}
	out := make([]record.Consent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- DataCaptureStore -------------------------------------------------------

const dataCaptureColumns = `id, tenant_id, account_id, token_id, serial_number, category_id, hash, transaction_id,
	incentive_transaction_id, created_at`

func (s *Store) CreateDataCapture(ctx context.Context, dc record.DataCapture) (record.DataCapture, error) {
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	dc.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO data_captures (`+dataCaptureColumns+`)
		VALUES (:id, :tenant_id, :account_id, :token_id, :serial_number, :category_id, :hash, :transaction_id,
		        :incentive_transaction_id, :created_at)
	`, toDataCaptureRow(dc)); err != nil {
		return record.DataCapture{}, mapErr(err, "create data capture")
	}
	return dc, nil
}

func (s *Store) GetDataCaptureBySerial(ctx context.Context, tenantID, tokenID string, serial int64) (record.DataCapture, error) {
	var row dataCaptureRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+dataCaptureColumns+` FROM data_captures WHERE tenant_id = $1 AND token_id = $2 AND serial_number = $3
	`, tenantID, tokenID, serial); err != nil {
		return record.DataCapture{}, mapErr(err, fmt.Sprintf("data capture %s/%d", tokenID, serial))
	}
	return row.toDomain(), nil
}

func (s *Store) ListDataCaptures(ctx context.Context, tenantID, accountID string) ([]record.DataCapture, error) {
	var rows []dataCaptureRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+dataCaptureColumns+` FROM data_captures
		WHERE tenant_id = $1 AND ($2 = '' OR account_id = $2)
		ORDER BY serial_number DESC
	`, tenantID, accountID); err != nil {
		return nil, mapErr(err, "list data captures")
	}
	out := make([]record.DataCapture, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- IncentiveStore ---------------------------------------------------------

const incentiveColumns = `id, tenant_id, account_id, token_id, amount, direction, memo, transaction_id, created_at`

func (s *Store) CreateIncentiveTransfer(ctx context.Context, tr record.IncentiveTransfer) (record.IncentiveTransfer, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tr.CreatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO incentive_transfers (`+incentiveColumns+`)
		VALUES (:id, :tenant_id, :account_id, :token_id, :amount, :direction, :memo, :transaction_id, :created_at)
	`, toIncentiveRow(tr)); err != nil {
		return record.IncentiveTransfer{}, mapErr(err, "create incentive transfer")
	}
	return tr, nil
}

func (s *Store) GetIncentiveTransferByTxID(ctx context.Context, tenantID, txID string) (record.IncentiveTransfer, error) {
	var row incentiveRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+incentiveColumns+` FROM incentive_transfers WHERE tenant_id = $1 AND transaction_id = $2
	`, tenantID, txID); err != nil {
		return record.IncentiveTransfer{}, mapErr(err, "incentive transfer "+txID)
	}
	return row.toDomain(), nil
}

func (s *Store) ListIncentiveTransfers(ctx context.Context, tenantID, accountID string) ([]record.IncentiveTransfer, error) {
	var rows []incentiveRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+incentiveColumns+` FROM incentive_transfers
		WHERE tenant_id = $1 AND ($2 = '' OR account_id = $2)
		ORDER BY created_at DESC
	`, tenantID, accountID); err != nil {
		return nil, mapErr(err, "list incentive transfers")
	}
	out := make([]record.IncentiveTransfer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) RecordUsage(ctx context.Context, u record.Usage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_usage (id, tenant_id, method, path, status_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.TenantID, u.Method, u.Path, u.StatusCode, u.CreatedAt)
	return mapErr(err, "record usage")
}

func (s *Store) CountUsage(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM api_usage WHERE tenant_id = $1 AND created_at >= $2
	`, tenantID, since); err != nil {
		return 0, mapErr(err, "count usage")
	}
	return count, nil
}

func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_usage WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapErr(err, "prune usage")
	}
	return res.RowsAffected()
}

// --- helpers ----------------------------------------------------------------

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
