package incentives

import (
	"context"
	"errors"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/services/signing"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/mirror"
)

// Service moves the tenant's fungible incentive token.
type Service struct {
	network  ledger.Network
	signing  *signing.Service
	mirror   mirror.Reader
	accounts storage.AccountStore
	store    storage.IncentiveStore
	log      *logging.Logger
}

// New constructs an incentive service.
func New(network ledger.Network, signer *signing.Service, reader mirror.Reader, accounts storage.AccountStore, store storage.IncentiveStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("incentives")
	}
	return &Service{network: network, signing: signer, mirror: reader, accounts: accounts, store: store, log: log}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "incentives",
		Domain:       "incentive",
		Layer:        service.LayerLedger,
		Capabilities: []string{"send", "redeem", "balance"},
	}
}

func (s *Service) tokenID(tc tenant.Context) (string, error) {
	id := tc.Tokens().IncentiveTokenID
	if id == "" {
		return "", svcerrors.Validation("tenant has no incentive token configured")
	}
	return id, nil
}

func validateTransfer(accountID string, amount int64, memo string) error {
	if !ledger.ValidEntityID(accountID) {
		return svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	if amount <= 0 {
		return svcerrors.Validation("amount must be positive")
	}
	if len(memo) > ledger.MaxMemoLength {
		return svcerrors.Validation("memo is too long")
	}
	return nil
}

// Send pays amount from the treasury to accountID. The operator signs.
func (s *Service) Send(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (record.IncentiveTransfer, error) {
	if err := validateTransfer(accountID, amount, memo); err != nil {
		return record.IncentiveTransfer{}, err
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return record.IncentiveTransfer{}, err
	}

	receipt, err := s.network.TransferFungible(ctx, ledger.FungibleTransfer{
		TokenID: tokenID,
		From:    tc.TreasuryID(),
		To:      accountID,
		Amount:  amount,
		Memo:    memo,
	})
	if err != nil {
		return record.IncentiveTransfer{}, ledger.ToServiceError(err)
	}

	transfer, err := s.store.CreateIncentiveTransfer(ctx, record.IncentiveTransfer{
		TenantID:      tc.ID(),
		AccountID:     accountID,
		TokenID:       tokenID,
		Amount:        amount,
		Direction:     record.DirectionSend,
		Memo:          memo,
		TransactionID: receipt.TransactionID,
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("transaction_id", receipt.TransactionID).
			Error("incentive sent but record write failed")
		return record.IncentiveTransfer{}, svcerrors.Internal("incentive sent but the record could not be saved", err).
			WithDetails("transactionId", receipt.TransactionID)
	}
	return transfer, nil
}

// BuildRedeem builds the unsigned transfer of amount from accountID back to
// the treasury. accountID must be one of the tenant's users.
func (s *Service) BuildRedeem(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (signing.Built, error) {
	if err := validateTransfer(accountID, amount, memo); err != nil {
		return signing.Built{}, err
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return signing.Built{}, err
	}
	if _, err := s.accounts.GetUserAccount(ctx, tc.ID(), accountID); err != nil {
		return signing.Built{}, storage.AsServiceError(err, "user account", accountID)
	}

	return s.signing.Build(ctx, tc, ledger.BuildParams{
		Kind:          ledger.KindTransferFungible,
		TokenID:       tokenID,
		FromAccountID: accountID,
		ToAccountID:   tc.TreasuryID(),
		Amount:        amount,
		Memo:          memo,
	}, "incentive:"+accountID)
}

// SubmitRedeem submits a signed redemption and records it once confirmed.
func (s *Service) SubmitRedeem(ctx context.Context, tc tenant.Context, accountID, signedTx string) (record.IncentiveTransfer, error) {
	if accountID == "" {
		return record.IncentiveTransfer{}, svcerrors.Validation("accountId is required")
	}

	var saved record.IncentiveTransfer
	_, err := s.signing.Submit(ctx, tc, signing.Submission{
		Transaction: signedTx,
		AccountID:   accountID,
		Kind:        ledger.KindTransferFungible,
	}, func(ctx context.Context, entry handoff.Entry, receipt ledger.Receipt) error {
		transfer, err := redemption(tc, entry.Operation)
		if err != nil {
			return err
		}
		transfer.TransactionID = receipt.TransactionID
		saved, err = s.store.CreateIncentiveTransfer(ctx, transfer)
		return err
	})
	if err != nil {
		return record.IncentiveTransfer{}, err
	}
	return saved, nil
}

var errNotRedemption = errors.New("operation is not a redemption to the treasury")

// redemption reads the record fields from the registered operation, never
// from request fields.
func redemption(tc tenant.Context, op ledger.Operation) (record.IncentiveTransfer, error) {
	out := record.IncentiveTransfer{
		TenantID:  tc.ID(),
		AccountID: op.AccountID,
		Direction: record.DirectionRedeem,
		Memo:      op.Memo,
	}
	for _, m := range op.Tokens {
		if m.AccountID == tc.TreasuryID() && m.Amount > 0 {
			out.TokenID = m.TokenID
			out.Amount = m.Amount
		}
	}
	if out.Amount == 0 {
		return record.IncentiveTransfer{}, errNotRedemption
	}
	return out, nil
}

// Balance returns accountID's incentive balance from the mirror node.
func (s *Service) Balance(ctx context.Context, tc tenant.Context, accountID string) (int64, error) {
	if !ledger.ValidEntityID(accountID) {
		return 0, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return 0, err
	}
	balance, err := s.mirror.TokenBalance(ctx, accountID, tokenID)
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return 0, svcerrors.NotFound("account", accountID)
		}
		return 0, svcerrors.Upstream("mirror node request failed", err)
	}
	return balance, nil
}

// List returns the tenant's incentive transfers, optionally for one account.
func (s *Service) List(ctx context.Context, tc tenant.Context, accountID string) ([]record.IncentiveTransfer, error) {
	out, err := s.store.ListIncentiveTransfers(ctx, tc.ID(), accountID)
	if err != nil {
		return nil, storage.AsServiceError(err, "incentive transfers", tc.ID())
	}
	return out, nil
}
