// Package hedera implements ledger.Network on the Hedera Go SDK.
package hedera

import (
	"context"
	"errors"
	"fmt"
	"strings"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// automaticAssociations covers the consent, data capture and incentive tokens.
const automaticAssociations = 3

// Config selects the network and the operator paying for server-side calls.
type Config struct {
	Network     string
	OperatorID  string
	OperatorKey string
}

// Network talks to a Hedera network through one shared SDK client. The client
// is only read after construction.
type Network struct {
	client     *hedera.Client
	operatorID hedera.AccountID
	log        *logging.Logger
}

var _ ledger.Network = (*Network)(nil)

// New creates a client for cfg.Network and installs the operator.
func New(cfg Config, log *logging.Logger) (*Network, error) {
	client, err := clientFor(cfg.Network)
	if err != nil {
		return nil, err
	}

	operatorID, err := hedera.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("parse operator id: %w", err)
	}
	operatorKey, err := hedera.PrivateKeyFromString(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	client.SetOperator(operatorID, operatorKey)

	return NewWithClient(client, log), nil
}

// NewWithClient wraps a configured client. The client must have an operator.
func NewWithClient(client *hedera.Client, log *logging.Logger) *Network {
	if log == nil {
		log = logging.NewDefault("ledger")
	}
	return &Network{
		client:     client,
		operatorID: client.GetOperatorAccountID(),
		log:        log,
	}
}

func clientFor(network string) (*hedera.Client, error) {
	switch strings.ToLower(network) {
	case "", "testnet":
		return hedera.ClientForTestnet(), nil
	case "mainnet":
		return hedera.ClientForMainnet(), nil
	case "previewnet":
		return hedera.ClientForPreviewnet(), nil
	case "local":
		client := hedera.ClientForNetwork(map[string]hedera.AccountID{
			"127.0.0.1:50211": {Account: 3},
		})
		client.SetMirrorNetwork([]string{"127.0.0.1:5600"})
		return client, nil
	}
	return nil, fmt.Errorf("unsupported network %q", network)
}

// OperatorID returns the account paying for server-side transactions.
func (n *Network) OperatorID() string {
	return n.operatorID.String()
}

// Close releases the client's connections.
func (n *Network) Close() error {
	return n.client.Close()
}

// =============================================================================
// Operator-signed calls
// =============================================================================

// CreateAccount opens a zero-balance account for publicKey with room for the
// tenant's tokens to be associated automatically.
func (n *Network) CreateAccount(ctx context.Context, publicKey string) (ledger.Receipt, error) {
	key, err := hedera.PublicKeyFromString(strings.TrimPrefix(publicKey, "0x"))
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: %v", ledger.ErrInvalidKey, err)
	}

	tx := hedera.NewAccountCreateTransaction().
		SetKey(key).
		SetInitialBalance(hedera.HbarFromTinybar(0)).
		SetMaxAutomaticTokenAssociations(automaticAssociations)

	resp, err := tx.Execute(n.client)
	receipt, err := n.resolve(ctx, resp, err)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if receipt.AccountID == "" {
		return ledger.Receipt{}, ledger.Rejected(receipt.Status, receipt.TransactionID, errors.New("receipt carries no account id"))
	}
	return receipt, nil
}

// MintNFT mints one serial and moves it from the treasury to the receiver.
// The returned transaction id is the mint's.
func (n *Network) MintNFT(ctx context.Context, params ledger.MintParams) (ledger.Minted, error) {
	tokenID, err := hedera.TokenIDFromString(params.TokenID)
	if err != nil {
		return ledger.Minted{}, fmt.Errorf("%w: token id: %v", ledger.ErrInvalidParams, err)
	}
	if len(params.Metadata) == 0 || len(params.Metadata) > ledger.MaxMetadataSize {
		return ledger.Minted{}, fmt.Errorf("%w: metadata must be 1..%d bytes", ledger.ErrInvalidParams, ledger.MaxMetadataSize)
	}

	mint := hedera.NewTokenMintTransaction().
		SetTokenID(tokenID).
		SetMetadata(params.Metadata)

	resp, err := mint.Execute(n.client)
	receipt, err := n.resolve(ctx, resp, err)
	if err != nil {
		return ledger.Minted{}, err
	}
	if len(receipt.SerialNumbers) == 0 {
		return ledger.Minted{}, ledger.Rejected(receipt.Status, receipt.TransactionID, errors.New("receipt carries no serial number"))
	}

	minted := ledger.Minted{TransactionID: receipt.TransactionID, SerialNumber: receipt.SerialNumbers[0]}

	if params.Receiver != "" && params.Receiver != params.TreasuryID {
		move := ledger.NFTMove{
			TokenID:      params.TokenID,
			SerialNumber: minted.SerialNumber,
			From:         params.TreasuryID,
			To:           params.Receiver,
		}
		if _, err := n.TransferNFT(ctx, move); err != nil {
			n.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"token_id": params.TokenID,
				"serial":   minted.SerialNumber,
			}).Error("minted NFT could not be delivered")
			return minted, err
		}
	}
	return minted, nil
}

// TransferNFT moves a serial out of an operator-controlled account.
func (n *Network) TransferNFT(ctx context.Context, move ledger.NFTMove) (ledger.Receipt, error) {
	nftID, from, to, err := parseNFTMove(move)
	if err != nil {
		return ledger.Receipt{}, err
	}

	resp, err := hedera.NewTransferTransaction().
		AddNftTransfer(nftID, from, to).
		Execute(n.client)
	return n.resolve(ctx, resp, err)
}

// TransferFungible moves tokens out of an operator-controlled account.
func (n *Network) TransferFungible(ctx context.Context, transfer ledger.FungibleTransfer) (ledger.Receipt, error) {
	if transfer.Amount <= 0 {
		return ledger.Receipt{}, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidParams)
	}
	tokenID, from, to, err := parseFungible(transfer.TokenID, transfer.From, transfer.To)
	if err != nil {
		return ledger.Receipt{}, err
	}

	tx := hedera.NewTransferTransaction().
		AddTokenTransfer(tokenID, from, -transfer.Amount).
		AddTokenTransfer(tokenID, to, transfer.Amount)
	if transfer.Memo != "" {
		tx.SetTransactionMemo(transfer.Memo)
	}

	resp, err := tx.Execute(n.client)
	return n.resolve(ctx, resp, err)
}

// CreateToken creates a token keyed by the operator and returns its id.
func (n *Network) CreateToken(ctx context.Context, spec ledger.TokenSpec) (string, error) {
	treasury, err := hedera.AccountIDFromString(spec.TreasuryID)
	if err != nil {
		return "", fmt.Errorf("%w: treasury id: %v", ledger.ErrInvalidParams, err)
	}
	operatorKey := n.client.GetOperatorPublicKey()

	tx := hedera.NewTokenCreateTransaction().
		SetTokenName(spec.Name).
		SetTokenSymbol(spec.Symbol).
		SetTreasuryAccountID(treasury).
		SetAdminKey(operatorKey).
		SetSupplyKey(operatorKey).
		SetSupplyType(hedera.TokenSupplyTypeInfinite)

	switch spec.Type {
	case ledger.TokenTypeNFT:
		tx.SetTokenType(hedera.TokenTypeNonFungibleUnique)
	case ledger.TokenTypeFungible:
		tx.SetTokenType(hedera.TokenTypeFungibleCommon).
			SetDecimals(spec.Decimals).
			SetInitialSupply(spec.InitialSupply)
	default:
		return "", fmt.Errorf("%w: token type %q", ledger.ErrInvalidParams, spec.Type)
	}

	resp, err := tx.Execute(n.client)
	receipt, err := n.resolve(ctx, resp, err)
	if err != nil {
		return "", err
	}
	if receipt.TokenID == "" {
		return "", ledger.Rejected(receipt.Status, receipt.TransactionID, errors.New("receipt carries no token id"))
	}
	return receipt.TokenID, nil
}

// =============================================================================
// Receipt resolution
// =============================================================================

// resolve classifies an Execute outcome and fetches the receipt. It never
// re-executes the transaction. Failures after Execute returned a response are
// an unknown outcome, never ErrNetwork.
func (n *Network) resolve(ctx context.Context, resp hedera.TransactionResponse, execErr error) (ledger.Receipt, error) {
	if execErr != nil {
		return ledger.Receipt{}, classify(execErr)
	}
	txID := resp.TransactionID.String()
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{TransactionID: txID}, ledger.Dispatched(txID, err)
	}

	receipt, err := resp.GetReceipt(n.client)
	if err != nil {
		return ledger.Receipt{TransactionID: txID}, classifyDispatched(txID, err)
	}

	out := toReceipt(receipt, txID)
	if !out.Success() {
		return out, ledger.Rejected(out.Status, out.TransactionID, nil)
	}
	return out, nil
}

// Receipt queries the receipt of a transaction sent earlier.
func (n *Network) Receipt(ctx context.Context, transactionID string) (ledger.Receipt, error) {
	txID, err := hedera.TransactionIdFromString(transactionID)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: transaction id: %v", ledger.ErrInvalidParams, err)
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{TransactionID: transactionID}, ledger.Dispatched(transactionID, err)
	}

	receipt, err := hedera.NewTransactionReceiptQuery().
		SetTransactionID(txID).
		Execute(n.client)
	if err != nil {
		return ledger.Receipt{TransactionID: transactionID}, classifyDispatched(transactionID, err)
	}
	if receipt.Status == hedera.StatusUnknown {
		return ledger.Receipt{TransactionID: transactionID}, ledger.Dispatched(transactionID, errors.New("receipt not yet final"))
	}

	out := toReceipt(receipt, transactionID)
	if !out.Success() {
		return out, ledger.Rejected(out.Status, transactionID, nil)
	}
	return out, nil
}

func toReceipt(r hedera.TransactionReceipt, txID string) ledger.Receipt {
	out := ledger.Receipt{
		Status:        r.Status.String(),
		TransactionID: txID,
		SerialNumbers: append([]int64(nil), r.SerialNumbers...),
	}
	if r.AccountID != nil {
		out.AccountID = r.AccountID.String()
	}
	if r.TokenID != nil {
		out.TokenID = r.TokenID.String()
	}
	return out
}

// classify maps SDK errors onto the ledger error classes. Status errors mean
// the network saw the transaction; anything else means it may not have.
func classify(err error) error {
	var precheck hedera.ErrHederaPreCheckStatus
	if errors.As(err, &precheck) {
		return ledger.Rejected(precheck.Status.String(), txIDString(precheck.TxID), err)
	}
	var receipt hedera.ErrHederaReceiptStatus
	if errors.As(err, &receipt) {
		return ledger.Rejected(receipt.Status.String(), txIDString(receipt.TxID), err)
	}
	return ledger.Unreachable(err)
}

// classifyDispatched maps a receipt failure for a transaction that was already
// sent. Only a final receipt status counts as a rejection.
func classifyDispatched(txID string, err error) error {
	var receipt hedera.ErrHederaReceiptStatus
	if errors.As(err, &receipt) {
		return ledger.Rejected(receipt.Status.String(), txID, err)
	}
	return ledger.Dispatched(txID, err)
}

func txIDString(id hedera.TransactionID) string {
	if id.AccountID == nil || id.ValidStart == nil {
		return ""
	}
	return id.String()
}

func parseNFTMove(move ledger.NFTMove) (hedera.NftID, hedera.AccountID, hedera.AccountID, error) {
	tokenID, from, to, err := parseFungible(move.TokenID, move.From, move.To)
	if err != nil {
		return hedera.NftID{}, hedera.AccountID{}, hedera.AccountID{}, err
	}
	if move.SerialNumber <= 0 {
		return hedera.NftID{}, hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("%w: serial number must be positive", ledger.ErrInvalidParams)
	}
	return hedera.NftID{TokenID: tokenID, SerialNumber: move.SerialNumber}, from, to, nil
}

func parseFungible(token, fromID, toID string) (hedera.TokenID, hedera.AccountID, hedera.AccountID, error) {
	tokenID, err := hedera.TokenIDFromString(token)
	if err != nil {
		return hedera.TokenID{}, hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("%w: token id: %v", ledger.ErrInvalidParams, err)
	}
	from, err := hedera.AccountIDFromString(fromID)
	if err != nil {
		return hedera.TokenID{}, hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("%w: from account: %v", ledger.ErrInvalidParams, err)
	}
	to, err := hedera.AccountIDFromString(toID)
	if err != nil {
		return hedera.TokenID{}, hedera.AccountID{}, hedera.AccountID{}, fmt.Errorf("%w: to account: %v", ledger.ErrInvalidParams, err)
	}
	return tokenID, from, to, nil
}
