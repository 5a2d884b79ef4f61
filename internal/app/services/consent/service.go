package consent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

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

// Rewarder pays incentive tokens from the treasury.
type Rewarder interface {
	Send(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (record.IncentiveTransfer, error)
}

// Service issues and withdraws consent NFTs.
type Service struct {
	network ledger.Network
	signing *signing.Service
	mirror  mirror.Reader
	store   storage.ConsentStore
	rewards Rewarder
	log     *logging.Logger
	now     func() time.Time
}

// New constructs a consent service. rewards may be nil when incentives are disabled.
func New(network ledger.Network, signer *signing.Service, reader mirror.Reader, store storage.ConsentStore, rewards Rewarder, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("consent")
	}
	return &Service{
		network: network,
		signing: signer,
		mirror:  reader,
		store:   store,
		rewards: rewards,
		log:     log,
		now:     time.Now,
	}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "consent",
		Domain:       "consent",
		Layer:        service.LayerLedger,
		Capabilities: []string{"mint", "withdraw", "status", "history"},
	}
}

// MintRequest asks for a consent NFT for AccountID.
type MintRequest struct {
	AccountID       string
	CategoryID      string
	Hash            string
	IncentiveAmount int64
}

// Minted is a confirmed consent plus the optional incentive payout.
type Minted struct {
	Consent        record.Consent
	Incentive      *record.IncentiveTransfer
	IncentiveError string
}

// NFT is a consent serial as the mirror node reports it.
type NFT struct {
	TokenID      string        `json:"tokenId"`
	SerialNumber int64         `json:"serialNumber"`
	AccountID    string        `json:"accountId"`
	Status       mirror.Status `json:"status"`
	CategoryID   string        `json:"categoryId,omitempty"`
	Hash         string        `json:"hash,omitempty"`
	CreatedAt    string        `json:"createdTimestamp,omitempty"`
}

// Status is the current state of one consent serial.
type Status struct {
	NFT
	Record *record.Consent `json:"record,omitempty"`
}

func (s *Service) tokenID(tc tenant.Context) (string, error) {
	id := tc.Tokens().ConsentTokenID
	if id == "" {
		return "", svcerrors.Validation("tenant has no consent token configured")
	}
	return id, nil
}

// Mint issues a consent NFT carrying "categoryId:hash" and records it.
func (s *Service) Mint(ctx context.Context, tc tenant.Context, req MintRequest) (Minted, error) {
	if !ledger.ValidEntityID(req.AccountID) {
		return Minted{}, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	if req.IncentiveAmount < 0 {
		return Minted{}, svcerrors.Validation("incentiveAmount must not be negative")
	}
	meta := ledger.Metadata{CategoryID: strings.TrimSpace(req.CategoryID), Hash: strings.TrimSpace(req.Hash)}
	raw, err := meta.Encode()
	if err != nil {
		return Minted{}, svcerrors.Validation(err.Error())
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return Minted{}, err
	}

	minted, err := s.network.MintNFT(ctx, ledger.MintParams{
		TokenID:    tokenID,
		TreasuryID: tc.TreasuryID(),
		Receiver:   req.AccountID,
		Metadata:   raw,
	})
	if err != nil {
		return Minted{}, ledger.ToServiceError(err)
	}

	out := Minted{}
	consent := record.Consent{
		TenantID:          tc.ID(),
		AccountID:         req.AccountID,
		TokenID:           tokenID,
		SerialNumber:      minted.SerialNumber,
		CategoryID:        meta.CategoryID,
		Hash:              meta.Hash,
		MintTransactionID: minted.TransactionID,
		Status:            record.ConsentActive,
	}
	if req.IncentiveAmount > 0 && s.rewards != nil {
		transfer, err := s.rewards.Send(ctx, tc, req.AccountID, req.IncentiveAmount, "consent incentive")
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("serial_number", minted.SerialNumber).
				Warn("consent minted but incentive payout failed")
			out.IncentiveError = err.Error()
		} else {
			consent.IncentiveTransactionID = transfer.TransactionID
			out.Incentive = &transfer
		}
	}

	saved, err := s.store.CreateConsent(ctx, consent)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("transaction_id", minted.TransactionID).
			Error("consent minted but record write failed")
		return Minted{}, svcerrors.Internal("consent minted but the record could not be saved", err).
			WithDetails("transactionId", minted.TransactionID).
			WithDetails("serialNumber", minted.SerialNumber)
	}
	out.Consent = saved
	return out, nil
}

// BuildWithdraw builds the unsigned transfer of a consent serial from its
// holder back to the treasury.
func (s *Service) BuildWithdraw(ctx context.Context, tc tenant.Context, accountID string, serial int64) (signing.Built, error) {
	if !ledger.ValidEntityID(accountID) {
		return signing.Built{}, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	if serial <= 0 {
		return signing.Built{}, svcerrors.Validation("serialNumber must be positive")
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return signing.Built{}, err
	}

	consent, err := s.store.GetConsentBySerial(ctx, tc.ID(), tokenID, serial)
	if err != nil {
		return signing.Built{}, storage.AsServiceError(err, "consent", serialRef(tokenID, serial))
	}
	if consent.AccountID != accountID {
		s.log.LogSecurityEvent(ctx, "consent_withdraw_wrong_holder", map[string]interface{}{
			"tenant_id":     tc.ID(),
			"account_id":    accountID,
			"serial_number": serial,
		})
		return signing.Built{}, svcerrors.Forbidden("Consent is not held by this account")
	}
	if consent.Status == record.ConsentWithdrawn {
		return signing.Built{}, svcerrors.Conflict("Consent already withdrawn").
			WithDetails("transactionId", consent.WithdrawTransactionID)
	}

	return s.signing.Build(ctx, tc, ledger.BuildParams{
		Kind:          ledger.KindTransferNFT,
		TokenID:       tokenID,
		SerialNumber:  serial,
		FromAccountID: accountID,
		ToAccountID:   tc.TreasuryID(),
	}, "consent:"+consent.ID)
}

// SubmitWithdraw submits the signed withdrawal and marks the consent
// withdrawn once the ledger confirms it.
func (s *Service) SubmitWithdraw(ctx context.Context, tc tenant.Context, accountID, signedTx string) (record.Consent, error) {
	if accountID == "" {
		return record.Consent{}, svcerrors.Validation("accountId is required")
	}

	var saved record.Consent
	_, err := s.signing.Submit(ctx, tc, signing.Submission{
		Transaction: signedTx,
		AccountID:   accountID,
		Kind:        ledger.KindTransferNFT,
	}, func(ctx context.Context, entry handoff.Entry, receipt ledger.Receipt) error {
		if len(entry.Operation.NFTs) != 1 {
			return errors.New("withdrawal must move exactly one serial")
		}
		move := entry.Operation.NFTs[0]
		consent, err := s.store.GetConsentBySerial(ctx, tc.ID(), move.TokenID, move.SerialNumber)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		consent.Status = record.ConsentWithdrawn
		consent.WithdrawTransactionID = receipt.TransactionID
		consent.WithdrawnAt = &at
		saved, err = s.store.UpdateConsent(ctx, consent)
		return err
	})
	if err != nil {
		return record.Consent{}, err
	}
	return saved, nil
}

// Active lists consent serials held outside the treasury, optionally by one account.
func (s *Service) Active(ctx context.Context, tc tenant.Context, accountID string) ([]NFT, error) {
	return s.list(ctx, tc, mirror.StatusActive, accountID)
}

// Withdrawn lists consent serials returned to the treasury.
func (s *Service) Withdrawn(ctx context.Context, tc tenant.Context) ([]NFT, error) {
	return s.list(ctx, tc, mirror.StatusWithdrawn, "")
}

func (s *Service) list(ctx context.Context, tc tenant.Context, status mirror.Status, accountID string) ([]NFT, error) {
	if accountID != "" && !ledger.ValidEntityID(accountID) {
		return nil, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return nil, err
	}

	var nfts []mirror.NFT
	if status == mirror.StatusActive && accountID != "" {
		nfts, err = s.mirror.AccountNFTs(ctx, tokenID, accountID)
	} else {
		nfts, err = s.mirror.ListNFTs(ctx, tokenID)
	}
	if err != nil {
		return nil, mirrorError(err, "token", tokenID)
	}

	filtered := mirror.Filter(nfts, tc.TreasuryID(), status, accountID)
	out := make([]NFT, 0, len(filtered))
	for _, nft := range filtered {
		out = append(out, toNFT(nft, tc.TreasuryID()))
	}
	return out, nil
}

// Status reports whether a serial is active or withdrawn, with its decoded
// metadata and the stored record when there is one.
func (s *Service) Status(ctx context.Context, tc tenant.Context, tokenID string, serial int64) (Status, error) {
	if err := ownToken(tc, tokenID, serial); err != nil {
		return Status{}, err
	}
	nft, err := s.mirror.GetNFT(ctx, tokenID, serial)
	if err != nil {
		return Status{}, mirrorError(err, "consent", serialRef(tokenID, serial))
	}

	out := Status{NFT: toNFT(nft, tc.TreasuryID())}
	if consent, err := s.store.GetConsentBySerial(ctx, tc.ID(), tokenID, serial); err == nil {
		out.Record = &consent
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Status{}, storage.AsServiceError(err, "consent", serialRef(tokenID, serial))
	}
	return out, nil
}

// History returns the serial's transfers, newest first.
func (s *Service) History(ctx context.Context, tc tenant.Context, tokenID string, serial int64) ([]mirror.NFTTransaction, error) {
	if err := ownToken(tc, tokenID, serial); err != nil {
		return nil, err
	}
	history, err := s.mirror.NFTHistory(ctx, tokenID, serial)
	if err != nil {
		return nil, mirrorError(err, "consent", serialRef(tokenID, serial))
	}
	return history, nil
}

// Records lists stored consents for the tenant.
func (s *Service) Records(ctx context.Context, tc tenant.Context, filter storage.ConsentFilter) ([]record.Consent, error) {
	out, err := s.store.ListConsents(ctx, tc.ID(), filter)
	if err != nil {
		return nil, storage.AsServiceError(err, "consents", tc.ID())
	}
	return out, nil
}

func ownToken(tc tenant.Context, tokenID string, serial int64) error {
	if !ledger.ValidEntityID(tokenID) {
		return svcerrors.Validation("tokenId must be of the form shard.realm.num")
	}
	if serial <= 0 {
		return svcerrors.Validation("serialNumber must be positive")
	}
	if tokenID != tc.Tokens().ConsentTokenID {
		return svcerrors.NotFound("consent", serialRef(tokenID, serial))
	}
	return nil
}

func toNFT(nft mirror.NFT, treasuryID string) NFT {
	out := NFT{
		TokenID:      nft.TokenID,
		SerialNumber: nft.SerialNumber,
		AccountID:    nft.AccountID,
		Status:       mirror.Classify(nft, treasuryID),
		CreatedAt:    nft.CreatedAt,
	}
	if meta, ok := nft.DecodedMetadata(); ok {
		out.CategoryID = meta.CategoryID
		out.Hash = meta.Hash
	}
	return out
}

func mirrorError(err error, resource, id string) error {
	if errors.Is(err, mirror.ErrNotFound) {
		return svcerrors.NotFound(resource, id)
	}
	return svcerrors.Upstream("mirror node request failed", err)
}

func serialRef(tokenID string, serial int64) string {
	return tokenID + "/" + strconv.FormatInt(serial, 10)
}
