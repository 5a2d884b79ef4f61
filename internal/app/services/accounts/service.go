package accounts

import (
	"context"
	"strings"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/account"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// Service opens ledger accounts for a tenant's end users and associates them
// with the tenant's tokens.
type Service struct {
	network ledger.Network
	signing *signing.Service
	store   storage.AccountStore
	log     *logging.Logger
}

// New constructs an account service.
func New(network ledger.Network, signer *signing.Service, store storage.AccountStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("accounts")
	}
	return &Service{network: network, signing: signer, store: store, log: log}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "accounts",
		Domain:       "users",
		Layer:        service.LayerLedger,
		Capabilities: []string{"create-account", "token-association"},
	}
}

// Created is a new account plus the association the user has to sign.
type Created struct {
	Account     account.UserAccount
	Association signing.Built
}

// Create opens an account controlled by publicKey and builds the unsigned
// association with the tenant's tokens.
func (s *Service) Create(ctx context.Context, tc tenant.Context, publicKey string) (Created, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return Created{}, svcerrors.Validation("publicKey is required")
	}
	if !tc.Tokens().Complete() {
		return Created{}, svcerrors.Validation("tenant tokens are not configured")
	}

	receipt, err := s.network.CreateAccount(ctx, publicKey)
	if err != nil {
		return Created{}, ledger.ToServiceError(err)
	}

	acct, err := s.store.CreateUserAccount(ctx, account.UserAccount{
		TenantID:     tc.ID(),
		AccountID:    receipt.AccountID,
		PublicKey:    publicKey,
		CreationTxID: receipt.TransactionID,
	})
	if err != nil {
		return Created{}, storage.AsServiceError(err, "user account", receipt.AccountID)
	}
	s.log.WithContext(ctx).WithField("account_id", acct.AccountID).Info("user account created")

	built, err := s.buildAssociation(ctx, tc, acct)
	if err != nil {
		if se := svcerrors.GetServiceError(err); se != nil {
			return Created{Account: acct}, se.WithDetails("accountId", acct.AccountID)
		}
		return Created{Account: acct}, err
	}
	return Created{Account: acct, Association: built}, nil
}

// BuildAssociation rebuilds the association for an existing account, for
// example after the previous one expired unsigned.
func (s *Service) BuildAssociation(ctx context.Context, tc tenant.Context, accountID string) (signing.Built, error) {
	acct, err := s.Get(ctx, tc, accountID)
	if err != nil {
		return signing.Built{}, err
	}
	if acct.Associated {
		return signing.Built{}, svcerrors.Conflict("Account is already associated").WithDetails("accountId", accountID)
	}
	return s.buildAssociation(ctx, tc, acct)
}

func (s *Service) buildAssociation(ctx context.Context, tc tenant.Context, acct account.UserAccount) (signing.Built, error) {
	return s.signing.Build(ctx, tc, ledger.BuildParams{
		Kind:      ledger.KindAssociateTokens,
		AccountID: acct.AccountID,
		TokenIDs:  tc.Tokens().IDs(),
	}, "user_account:"+acct.ID)
}

// SubmitAssociation submits the signed association and marks the account
// associated once the ledger confirms it.
func (s *Service) SubmitAssociation(ctx context.Context, tc tenant.Context, accountID, signedTx string) (ledger.Receipt, error) {
	if accountID == "" {
		return ledger.Receipt{}, svcerrors.Validation("accountId is required")
	}
	acct, err := s.Get(ctx, tc, accountID)
	if err != nil {
		return ledger.Receipt{}, err
	}

	confirmed, err := s.signing.Submit(ctx, tc, signing.Submission{
		Transaction: signedTx,
		AccountID:   accountID,
		Kind:        ledger.KindAssociateTokens,
	}, func(ctx context.Context, _ handoff.Entry, receipt ledger.Receipt) error {
		acct.Associated = true
		acct.AssociationTxID = receipt.TransactionID
		_, err := s.store.UpdateUserAccount(ctx, acct)
		return err
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	return confirmed.Receipt, nil
}

// Get returns one of the tenant's accounts.
func (s *Service) Get(ctx context.Context, tc tenant.Context, accountID string) (account.UserAccount, error) {
	if !ledger.ValidEntityID(accountID) {
		return account.UserAccount{}, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	acct, err := s.store.GetUserAccount(ctx, tc.ID(), accountID)
	if err != nil {
		return account.UserAccount{}, storage.AsServiceError(err, "user account", accountID)
	}
	return acct, nil
}

// List returns the tenant's accounts, newest first.
func (s *Service) List(ctx context.Context, tc tenant.Context) ([]account.UserAccount, error) {
	accts, err := s.store.ListUserAccounts(ctx, tc.ID())
	if err != nil {
		return nil, storage.AsServiceError(err, "user accounts", tc.ID())
	}
	return accts, nil
}
