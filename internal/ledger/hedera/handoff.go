package hedera

import (
	"context"
	"errors"
	"fmt"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/R3E-Network/token_engine/internal/ledger"
)

// BuildUnsigned freezes a transaction whose payer is the account that must
// sign it. The operator never signs these transactions.
func (n *Network) BuildUnsigned(ctx context.Context, params ledger.BuildParams) (ledger.Unsigned, error) {
	if err := params.Validate(); err != nil {
		return ledger.Unsigned{}, err
	}
	if err := ctx.Err(); err != nil {
		return ledger.Unsigned{}, ledger.Unavailable(err)
	}

	payer, err := hedera.AccountIDFromString(params.Payer())
	if err != nil {
		return ledger.Unsigned{}, fmt.Errorf("%w: payer: %v", ledger.ErrInvalidParams, err)
	}
	txID := hedera.TransactionIDGenerate(payer)

	var raw []byte
	switch params.Kind {
	case ledger.KindAssociateTokens:
		raw, err = n.buildAssociate(txID, payer, params)
	case ledger.KindTransferNFT:
		raw, err = n.buildNFTTransfer(txID, params)
	case ledger.KindTransferFungible:
		raw, err = n.buildFungibleTransfer(txID, params)
	}
	if err != nil {
		return ledger.Unsigned{}, err
	}

	op, err := n.Inspect(raw)
	if err != nil {
		return ledger.Unsigned{}, fmt.Errorf("inspect frozen transaction: %w", err)
	}
	if !op.Matches(params) {
		return ledger.Unsigned{}, errors.New("frozen transaction does not match requested operation")
	}
	return ledger.Unsigned{Bytes: raw, TransactionID: op.TransactionID, Operation: op}, nil
}

func (n *Network) buildAssociate(txID hedera.TransactionID, account hedera.AccountID, params ledger.BuildParams) ([]byte, error) {
	tokenIDs := make([]hedera.TokenID, 0, len(params.TokenIDs))
	for _, id := range params.TokenIDs {
		tokenID, err := hedera.TokenIDFromString(id)
		if err != nil {
			return nil, fmt.Errorf("%w: token id %s: %v", ledger.ErrInvalidParams, id, err)
		}
		tokenIDs = append(tokenIDs, tokenID)
	}

	tx := hedera.NewTokenAssociateTransaction().
		SetTransactionID(txID).
		SetAccountID(account).
		SetTokenIDs(tokenIDs...)
	if params.Memo != "" {
		tx.SetTransactionMemo(params.Memo)
	}

	frozen, err := tx.FreezeWith(n.client)
	if err != nil {
		return nil, ledger.Unavailable(err)
	}
	return toBytes(frozen.ToBytes())
}

func (n *Network) buildNFTTransfer(txID hedera.TransactionID, params ledger.BuildParams) ([]byte, error) {
	nftID, from, to, err := parseNFTMove(ledger.NFTMove{
		TokenID:      params.TokenID,
		SerialNumber: params.SerialNumber,
		From:         params.FromAccountID,
		To:           params.ToAccountID,
	})
	if err != nil {
		return nil, err
	}

	tx := hedera.NewTransferTransaction().
		SetTransactionID(txID).
		AddNftTransfer(nftID, from, to)
	if params.Memo != "" {
		tx.SetTransactionMemo(params.Memo)
	}

	frozen, err := tx.FreezeWith(n.client)
	if err != nil {
		return nil, ledger.Unavailable(err)
	}
	return toBytes(frozen.ToBytes())
}

func (n *Network) buildFungibleTransfer(txID hedera.TransactionID, params ledger.BuildParams) ([]byte, error) {
	tokenID, from, to, err := parseFungible(params.TokenID, params.FromAccountID, params.ToAccountID)
	if err != nil {
		return nil, err
	}

	tx := hedera.NewTransferTransaction().
		SetTransactionID(txID).
		AddTokenTransfer(tokenID, from, -params.Amount).
		AddTokenTransfer(tokenID, to, params.Amount)
	if params.Memo != "" {
		tx.SetTransactionMemo(params.Memo)
	}

	frozen, err := tx.FreezeWith(n.client)
	if err != nil {
		return nil, ledger.Unavailable(err)
	}
	return toBytes(frozen.ToBytes())
}

func toBytes(raw []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	if len(raw) > ledger.MaxTransactionSize {
		return nil, fmt.Errorf("%w: transaction exceeds %d bytes", ledger.ErrInvalidParams, ledger.MaxTransactionSize)
	}
	return raw, nil
}

// =============================================================================
// Decoding
// =============================================================================

// Inspect decodes raw bytes into an Operation. Only the transaction types the
// gateway builds are accepted.
func (n *Network) Inspect(raw []byte) (ledger.Operation, error) {
	decoded, err := fromBytes(raw)
	if err != nil {
		return ledger.Operation{}, err
	}

	switch tx := decoded.(type) {
	case hedera.TokenAssociateTransaction:
		return associateOperation(&tx), nil
	case *hedera.TokenAssociateTransaction:
		return associateOperation(tx), nil
	case hedera.TransferTransaction:
		return transferOperation(&tx)
	case *hedera.TransferTransaction:
		return transferOperation(tx)
	}
	return ledger.Operation{}, fmt.Errorf("%w: unsupported transaction type %T", ledger.ErrDecode, decoded)
}

// SubmitSigned executes the signed bytes once. The payload is executed as
// decoded; nothing is rebuilt from request fields.
func (n *Network) SubmitSigned(ctx context.Context, raw []byte) (ledger.Receipt, error) {
	decoded, err := fromBytes(raw)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, ledger.Unreachable(err)
	}

	var resp hedera.TransactionResponse
	switch tx := decoded.(type) {
	case hedera.TokenAssociateTransaction:
		resp, err = tx.Execute(n.client)
	case *hedera.TokenAssociateTransaction:
		resp, err = tx.Execute(n.client)
	case hedera.TransferTransaction:
		resp, err = tx.Execute(n.client)
	case *hedera.TransferTransaction:
		resp, err = tx.Execute(n.client)
	default:
		return ledger.Receipt{}, fmt.Errorf("%w: unsupported transaction type %T", ledger.ErrDecode, decoded)
	}
	return n.resolve(ctx, resp, err)
}

func fromBytes(raw []byte) (decoded interface{}, err error) {
	if len(raw) == 0 || len(raw) > ledger.MaxTransactionSize {
		return nil, fmt.Errorf("%w: payload size %d", ledger.ErrDecode, len(raw))
	}

	// The SDK can panic on truncated protobuf bodies.
	defer func() {
		if r := recover(); r != nil {
			decoded, err = nil, fmt.Errorf("%w: %v", ledger.ErrDecode, r)
		}
	}()

	tx, err := hedera.TransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrDecode, err)
	}
	return tx, nil
}

func associateOperation(tx *hedera.TokenAssociateTransaction) ledger.Operation {
	txID := tx.GetTransactionID()
	tokenIDs := tx.GetTokenIDs()

	op := ledger.Operation{
		Kind:          ledger.KindAssociateTokens,
		TransactionID: txID.String(),
		AccountID:     tx.GetAccountID().String(),
		TokenIDs:      make([]string, 0, len(tokenIDs)),
		Memo:          tx.GetTransactionMemo(),
	}
	for _, id := range tokenIDs {
		op.TokenIDs = append(op.TokenIDs, id.String())
	}
	return op.Normalize()
}

func transferOperation(tx *hedera.TransferTransaction) (ledger.Operation, error) {
	if len(tx.GetHbarTransfers()) > 0 {
		return ledger.Operation{}, fmt.Errorf("%w: hbar transfers are not accepted", ledger.ErrDecode)
	}

	txID := tx.GetTransactionID()
	op := ledger.Operation{
		TransactionID: txID.String(),
		Memo:          tx.GetTransactionMemo(),
	}

	for tokenID, transfers := range tx.GetNftTransfers() {
		for _, t := range transfers {
			op.NFTs = append(op.NFTs, ledger.NFTMove{
				TokenID:      tokenID.String(),
				SerialNumber: t.SerialNumber,
				From:         t.SenderAccountID.String(),
				To:           t.ReceiverAccountID.String(),
			})
		}
	}
	for tokenID, transfers := range tx.GetTokenTransfers() {
		for _, t := range transfers {
			op.Tokens = append(op.Tokens, ledger.TokenMove{
				TokenID:   tokenID.String(),
				AccountID: t.AccountID.String(),
				Amount:    t.Amount,
			})
		}
	}

	switch {
	case len(op.NFTs) > 0 && len(op.Tokens) == 0:
		op.Kind = ledger.KindTransferNFT
		op.AccountID = op.NFTs[0].From
	case len(op.Tokens) > 0 && len(op.NFTs) == 0:
		op.Kind = ledger.KindTransferFungible
		for _, m := range op.Tokens {
			if m.Amount < 0 {
				op.AccountID = m.AccountID
			}
		}
	default:
		return ledger.Operation{}, fmt.Errorf("%w: transfer mixes or lacks token movements", ledger.ErrDecode)
	}
	return op.Normalize(), nil
}
