package datacapture

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
	"github.com/R3E-Network/token_engine/internal/mirror"
)

// Rewarder pays incentive tokens from the treasury.
type Rewarder interface {
	Send(ctx context.Context, tc tenant.Context, accountID string, amount int64, memo string) (record.IncentiveTransfer, error)
}

// Service mints data capture NFTs and verifies who holds them.
type Service struct {
	network ledger.Network
	mirror  mirror.Reader
	store   storage.DataCaptureStore
	rewards Rewarder
	log     *logging.Logger
}

// New constructs a data capture service. rewards may be nil.
func New(network ledger.Network, reader mirror.Reader, store storage.DataCaptureStore, rewards Rewarder, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("datacapture")
	}
	return &Service{network: network, mirror: reader, store: store, rewards: rewards, log: log}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "datacapture",
		Domain:       "data-capture",
		Layer:        service.LayerLedger,
		Capabilities: []string{"mint", "verify"},
	}
}

// MintRequest asks for a data capture NFT for AccountID.
type MintRequest struct {
	AccountID       string
	CategoryID      string
	Hash            string
	IncentiveAmount int64
}

// Minted is a confirmed data capture plus the optional incentive payout.
type Minted struct {
	DataCapture    record.DataCapture
	Incentive      *record.IncentiveTransfer
	IncentiveError string
}

// Verification reports whether accountID holds a data capture serial.
type Verification struct {
	TokenID      string              `json:"tokenId"`
	SerialNumber int64               `json:"serialNumber"`
	AccountID    string              `json:"accountId"`
	Holder       string              `json:"holder"`
	Verified     bool                `json:"verified"`
	CategoryID   string              `json:"categoryId,omitempty"`
	Hash         string              `json:"hash,omitempty"`
	Record       *record.DataCapture `json:"record,omitempty"`
}

func (s *Service) tokenID(tc tenant.Context) (string, error) {
	id := tc.Tokens().DataCaptureTokenID
	if id == "" {
		return "", svcerrors.Validation("tenant has no data capture token configured")
	}
	return id, nil
}

// Mint issues a data capture NFT carrying "categoryId:hash" and records it.
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

	var out Minted
	dc := record.DataCapture{
		TenantID:      tc.ID(),
		AccountID:     req.AccountID,
		TokenID:       tokenID,
		SerialNumber:  minted.SerialNumber,
		CategoryID:    meta.CategoryID,
		Hash:          meta.Hash,
		TransactionID: minted.TransactionID,
	}
	if req.IncentiveAmount > 0 && s.rewards != nil {
		transfer, err := s.rewards.Send(ctx, tc, req.AccountID, req.IncentiveAmount, "data capture incentive")
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("serial_number", minted.SerialNumber).
				Warn("data capture minted but incentive payout failed")
			out.IncentiveError = err.Error()
		} else {
			dc.IncentiveTransactionID = transfer.TransactionID
			out.Incentive = &transfer
		}
	}

	saved, err := s.store.CreateDataCapture(ctx, dc)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("transaction_id", minted.TransactionID).
			Error("data capture minted but record write failed")
		return Minted{}, svcerrors.Internal("data capture minted but the record could not be saved", err).
			WithDetails("transactionId", minted.TransactionID).
			WithDetails("serialNumber", minted.SerialNumber)
	}
	out.DataCapture = saved
	return out, nil
}

// Verify confirms that accountID currently holds the serial.
func (s *Service) Verify(ctx context.Context, tc tenant.Context, accountID string, serial int64) (Verification, error) {
	if !ledger.ValidEntityID(accountID) {
		return Verification{}, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	if serial <= 0 {
		return Verification{}, svcerrors.Validation("serialNumber must be positive")
	}
	tokenID, err := s.tokenID(tc)
	if err != nil {
		return Verification{}, err
	}

	ref := tokenID + "/" + strconv.FormatInt(serial, 10)
	nft, err := s.mirror.GetNFT(ctx, tokenID, serial)
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return Verification{}, svcerrors.NotFound("data capture", ref)
		}
		return Verification{}, svcerrors.Upstream("mirror node request failed", err)
	}

	out := Verification{
		TokenID:      tokenID,
		SerialNumber: serial,
		AccountID:    accountID,
		Holder:       nft.AccountID,
		Verified:     nft.AccountID == accountID,
	}
	if meta, ok := nft.DecodedMetadata(); ok {
		out.CategoryID = meta.CategoryID
		out.Hash = meta.Hash
	}
	if dc, err := s.store.GetDataCaptureBySerial(ctx, tc.ID(), tokenID, serial); err == nil {
		out.Record = &dc
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Verification{}, storage.AsServiceError(err, "data capture", ref)
	}
	return out, nil
}

// List returns the tenant's data captures, optionally for one account.
func (s *Service) List(ctx context.Context, tc tenant.Context, accountID string) ([]record.DataCapture, error) {
	if accountID != "" && !ledger.ValidEntityID(accountID) {
		return nil, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}
	out, err := s.store.ListDataCaptures(ctx, tc.ID(), accountID)
	if err != nil {
		return nil, storage.AsServiceError(err, "data captures", tc.ID())
	}
	return out, nil
}
