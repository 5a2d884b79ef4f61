package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	tenants      map[string]tenant.Tenant
	userAccounts map[string]account.UserAccount
	consents     map[string]record.Consent
	dataCaptures map[string]record.DataCapture
	incentives   map[string]record.IncentiveTransfer
	usage        []record.Usage
}

var _ storage.TenantStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.ConsentStore = (*Store)(nil)
var _ storage.DataCaptureStore = (*Store)(nil)
var _ storage.IncentiveStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		tenants:      make(map[string]tenant.Tenant),
		userAccounts: make(map[string]account.UserAccount),
		consents:     make(map[string]record.Consent),
		dataCaptures: make(map[string]record.DataCapture),
		incentives:   make(map[string]record.IncentiveTransfer),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func duplicate(what, key string) error {
	return fmt.Errorf("%w: %s %s", storage.ErrDuplicate, what, key)
}

func notFound(what, key string) error {
	return fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, key)
}

// TenantStore implementation --------------------------------------------------

func (s *Store) CreateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tenants[t.ID]; exists {
		return tenant.Tenant{}, duplicate("tenant", t.ID)
	}
	if err := s.checkTenantUniqueLocked(t); err != nil {
		return tenant.Tenant{}, err
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tenants[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tenants[t.ID]
	if !ok {
		return tenant.Tenant{}, notFound("tenant", t.ID)
	}
	if err := s.checkTenantUniqueLocked(t); err != nil {
		return tenant.Tenant{}, err
	}

	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.tenants[t.ID] = t
	return t, nil
}

func (s *Store) checkTenantUniqueLocked(t tenant.Tenant) error {
	for id, other := range s.tenants {
		if id == t.ID {
			continue
		}
		if t.Email != "" && strings.EqualFold(other.Email, t.Email) {
			return duplicate("tenant email", t.Email)
		}
		if t.APIKeyHash != "" && other.APIKeyHash == t.APIKeyHash {
			return duplicate("tenant api key", t.APIKeyPrefix)
		}
	}
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, notFound("tenant", id)
	}
	return t, nil
}

func (s *Store) GetTenantByEmail(_ context.Context, email string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if strings.EqualFold(t.Email, email) {
			return t, nil
		}
	}
	return tenant.Tenant{}, notFound("tenant email", email)
}

func (s *Store) GetTenantByAPIKeyHash(_ context.Context, hash string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.APIKeyHash != "" && t.APIKeyHash == hash {
			return t, nil
		}
	}
	return tenant.Tenant{}, notFound("tenant api key", "")
}

// AccountStore implementation -------------------------------------------------

func userAccountKey(tenantID, accountID string) string {
	return tenantID + "/" + accountID
}

func (s *Store) CreateUserAccount(_ context.Context, acct account.UserAccount) (account.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userAccountKey(acct.TenantID, acct.AccountID)
	if _, exists := s.userAccounts[key]; exists {
		return account.UserAccount{}, duplicate("user account", acct.AccountID)
	}
	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.userAccounts[key] = acct
	return acct, nil
}

func (s *Store) UpdateUserAccount(_ context.Context, acct account.UserAccount) (account.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userAccountKey(acct.TenantID, acct.AccountID)
	original, ok := s.userAccounts[key]
	if !ok {
		return account.UserAccount{}, notFound("user account", acct.AccountID)
	}
	if acct.AssociationTxID != "" {
		for k, other := range s.userAccounts {
			if k != key && other.AssociationTxID == acct.AssociationTxID {
				return account.UserAccount{}, duplicate("association transaction", acct.AssociationTxID)
			}
		}
	}

	acct.ID = original.ID
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	s.userAccounts[key] = acct
	return acct, nil
}

func (s *Store) GetUserAccount(_ context.Context, tenantID, accountID string) (account.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.userAccounts[userAccountKey(tenantID, accountID)]
	if !ok {
		return account.UserAccount{}, notFound("user account", accountID)
	}
	return acct, nil
}

func (s *Store) ListUserAccounts(_ context.Context, tenantID string) ([]account.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.UserAccount, 0)
	for _, acct := range s.userAccounts {
		if acct.TenantID == tenantID {
			result = append(result, acct)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// ConsentStore implementation -------------------------------------------------

func (s *Store) CreateConsent(_ context.Context, c record.Consent) (record.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.consents {
		if other.MintTransactionID == c.MintTransactionID {
			return record.Consent{}, duplicate("consent transaction", c.MintTransactionID)
		}
		if other.TenantID == c.TenantID && other.TokenID == c.TokenID && other.SerialNumber == c.SerialNumber {
			return record.Consent{}, duplicate("consent serial", fmt.Sprintf("%s/%d", c.TokenID, c.SerialNumber))
		}
	}
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	if c.Status == "" {
		c.Status = record.ConsentActive
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.consents[c.ID] = cloneConsent(c)
	return cloneConsent(c), nil
}

func (s *Store) UpdateConsent(_ context.Context, c record.Consent) (record.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.consents[c.ID]
	if !ok {
		return record.Consent{}, notFound("consent", c.ID)
	}
	if c.WithdrawTransactionID != "" {
		for id, other := range s.consents {
			if id != c.ID && other.WithdrawTransactionID == c.WithdrawTransactionID {
				return record.Consent{}, duplicate("withdraw transaction", c.WithdrawTransactionID)
			}
		}
	}

	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.consents[c.ID] = cloneConsent(c)
	return cloneConsent(c), nil
}

func (s *Store) GetConsentBySerial(_ context.Context, tenantID, tokenID string, serial int64) (record.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.consents {
		if c.TenantID == tenantID && c.TokenID == tokenID && c.SerialNumber == serial {
			return cloneConsent(c), nil
		}
	}
	return record.Consent{}, notFound("consent", fmt.Sprintf("%s/%d", tokenID, serial))
}

func (s *Store) ListConsents(_ context.Context, tenantID string, filter storage.ConsentFilter) ([]record.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]record.Consent, 0)
	for _, c := range s.consents {
		if c.TenantID != tenantID {
			continue
		}
		if filter.AccountID != "" && c.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		result = append(result, cloneConsent(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SerialNumber > result[j].SerialNumber })
	return result, nil
}

func cloneConsent(c record.Consent) record.Consent {
	if c.WithdrawnAt != nil {
		at := *c.WithdrawnAt
		c.WithdrawnAt = &at
	}
	return c
}

// DataCaptureStore implementation ---------------------------------------------

func (s *Store) CreateDataCapture(_ context.Context, dc record.DataCapture) (record.DataCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.dataCaptures {
		if other.TransactionID == dc.TransactionID {
			return record.DataCapture{}, duplicate("data capture transaction", dc.TransactionID)
		}
	}
	if dc.ID == "" {
		dc.ID = s.nextIDLocked()
	}
	dc.CreatedAt = time.Now().UTC()
	s.dataCaptures[dc.ID] = dc
	return dc, nil
}

func (s *Store) GetDataCaptureBySerial(_ context.Context, tenantID, tokenID string, serial int64) (record.DataCapture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, dc := range s.dataCaptures {
		if dc.TenantID == tenantID && dc.TokenID == tokenID && dc.SerialNumber == serial {
			return dc, nil
		}
	}
	return record.DataCapture{}, notFound("data capture", fmt.Sprintf("%s/%d", tokenID, serial))
}

func (s *Store) ListDataCaptures(_ context.Context, tenantID, accountID string) ([]record.DataCapture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]record.DataCapture, 0)
	for _, dc := range s.dataCaptures {
		if dc.TenantID == tenantID && (accountID == "" || dc.AccountID == accountID) {
			result = append(result, dc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SerialNumber > result[j].SerialNumber })
	return result, nil
}

// IncentiveStore implementation -----------------------------------------------

func (s *Store) CreateIncentiveTransfer(_ context.Context, tr record.IncentiveTransfer) (record.IncentiveTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.incentives {
		if other.TransactionID == tr.TransactionID {
			return record.IncentiveTransfer{}, duplicate("incentive transaction", tr.TransactionID)
		}
	}
	if tr.ID == "" {
		tr.ID = s.nextIDLocked()
	}
	tr.CreatedAt = time.Now().UTC()
	s.incentives[tr.ID] = tr
	return tr, nil
}

func (s *Store) GetIncentiveTransferByTxID(_ context.Context, tenantID, txID string) (record.IncentiveTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tr := range s.incentives {
		if tr.TenantID == tenantID && tr.TransactionID == txID {
			return tr, nil
		}
	}
	return record.IncentiveTransfer{}, notFound("incentive transaction", txID)
}

func (s *Store) ListIncentiveTransfers(_ context.Context, tenantID, accountID string) ([]record.IncentiveTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]record.IncentiveTransfer, 0)
	for _, tr := range s.incentives {
		if tr.TenantID == tenantID && (accountID == "" || tr.AccountID == accountID) {
			result = append(result, tr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) RecordUsage(_ context.Context, u record.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, u)
	return nil
}

func (s *Store) CountUsage(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.usage {
		if u.TenantID == tenantID && !u.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) PruneUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.usage[:0]
	var removed int64
	for _, u := range s.usage {
		if u.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	s.usage = kept
	return removed, nil
}
