// Package ledgertest provides an in-memory ledger and mirror node for tests.
// Transactions are JSON envelopes, so tests can sign, tamper with and replay
// them without a network.
package ledgertest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/mirror"
)

const envelopePrefix = "ledgertest:"

// Operator is the account that pays for operator-signed calls.
const Operator = "0.0.2"

type envelope struct {
	Operation ledger.Operation `json:"operation"`
	Signed    bool             `json:"signed"`
}

type nftState struct {
	holder   string
	metadata []byte
	created  time.Time
}

// Network is a ledger.Network and mirror.Reader backed by maps.
type Network struct {
	mu sync.Mutex

	seq          int64
	nextAccount  int64
	nextToken    int64
	accounts     map[string]string
	associations map[string]map[string]bool
	nfts         map[string]*nftState
	serials      map[string]int64
	balances     map[string]map[string]int64
	history      map[string][]mirror.NFTTransaction
	executed     map[string]bool

	// BuildErr, when set, fails every BuildUnsigned call.
	BuildErr error
	// SubmitErr, when set, fails every SubmitSigned call before execution.
	SubmitErr error
	// LostReceipts makes the next N submissions execute and then report an
	// unknown outcome, as if the receipt read timed out.
	LostReceipts int
	// ReceiptErr, when set, fails every Receipt lookup.
	ReceiptErr error
	// Submissions counts SubmitSigned calls that reached the ledger.
	Submissions int
}

var _ ledger.Network = (*Network)(nil)
var _ mirror.Reader = (*Network)(nil)

// New returns an empty ledger.
func New() *Network {
	return &Network{
		nextAccount:  1000,
		nextToken:    500,
		accounts:     make(map[string]string),
		associations: make(map[string]map[string]bool),
		nfts:         make(map[string]*nftState),
		serials:      make(map[string]int64),
		balances:     make(map[string]map[string]int64),
		history:      make(map[string][]mirror.NFTTransaction),
		executed:     make(map[string]bool),
	}
}

// Sign marks raw as signed without touching its operation. Non-envelope
// input is returned unchanged.
func Sign(raw []byte) []byte {
	env, err := open(raw)
	if err != nil {
		return raw
	}
	env.Signed = true
	return seal(env)
}

// Tamper rewrites the operation inside raw, keeping it signed.
func Tamper(raw []byte, mutate func(*ledger.Operation)) []byte {
	env, err := open(raw)
	if err != nil {
		return raw
	}
	mutate(&env.Operation)
	return seal(env)
}

// SignedBase64 decodes a built transaction, signs it and re-encodes it.
func SignedBase64(encoded string) string {
	raw, err := ledger.Decode(encoded)
	if err != nil {
		return encoded
	}
	return ledger.Encode(Sign(raw))
}

func seal(env envelope) []byte {
	body, _ := json.Marshal(env)
	return append([]byte(envelopePrefix), body...)
}

func open(raw []byte) (envelope, error) {
	if !bytes.HasPrefix(raw, []byte(envelopePrefix)) {
		return envelope{}, fmt.Errorf("%w: not a transaction envelope", ledger.ErrDecode)
	}
	var env envelope
	if err := json.Unmarshal(raw[len(envelopePrefix):], &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ledger.ErrDecode, err)
	}
	return env, nil
}

func nftKey(tokenID string, serial int64) string {
	return fmt.Sprintf("%s/%d", tokenID, serial)
}

func (n *Network) nextTxID(payer string) string {
	n.seq++
	return fmt.Sprintf("%s@1700000000.%09d", payer, n.seq)
}

// CreateAccount opens an account for publicKey with automatic association slots.
func (n *Network) CreateAccount(ctx context.Context, publicKey string) (ledger.Receipt, error) {
	if strings.TrimSpace(publicKey) == "" || strings.Contains(publicKey, "invalid") {
		return ledger.Receipt{}, fmt.Errorf("%w: %q", ledger.ErrInvalidKey, publicKey)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextAccount++
	id := fmt.Sprintf("0.0.%d", n.nextAccount)
	n.accounts[id] = publicKey
	return ledger.Receipt{Status: ledger.StatusSuccess, TransactionID: n.nextTxID(Operator), AccountID: id}, nil
}

// BuildUnsigned produces an unsigned envelope for params.
func (n *Network) BuildUnsigned(ctx context.Context, params ledger.BuildParams) (ledger.Unsigned, error) {
	if err := params.Validate(); err != nil {
		return ledger.Unsigned{}, err
	}
	if n.BuildErr != nil {
		return ledger.Unsigned{}, n.BuildErr
	}

	n.mu.Lock()
	txID := n.nextTxID(params.Payer())
	n.mu.Unlock()

	op := ledger.Operation{Kind: params.Kind, TransactionID: txID, Memo: params.Memo}
	switch params.Kind {
	case ledger.KindAssociateTokens:
		op.AccountID = params.AccountID
		op.TokenIDs = append([]string(nil), params.TokenIDs...)
	case ledger.KindTransferNFT:
		op.AccountID = params.FromAccountID
		op.NFTs = []ledger.NFTMove{{
			TokenID: params.TokenID, SerialNumber: params.SerialNumber,
			From: params.FromAccountID, To: params.ToAccountID,
		}}
	case ledger.KindTransferFungible:
		op.AccountID = params.FromAccountID
		op.Tokens = []ledger.TokenMove{
			{TokenID: params.TokenID, AccountID: params.FromAccountID, Amount: -params.Amount},
			{TokenID: params.TokenID, AccountID: params.ToAccountID, Amount: params.Amount},
		}
	}
	op = op.Normalize()
	return ledger.Unsigned{Bytes: seal(envelope{Operation: op}), TransactionID: txID, Operation: op}, nil
}

// Inspect decodes an envelope.
func (n *Network) Inspect(raw []byte) (ledger.Operation, error) {
	env, err := open(raw)
	if err != nil {
		return ledger.Operation{}, err
	}
	return env.Operation, nil
}

// SubmitSigned executes a signed envelope once. Replays are rejected with
// DUPLICATE_TRANSACTION the way the network does.
func (n *Network) SubmitSigned(ctx context.Context, raw []byte) (ledger.Receipt, error) {
	env, err := open(raw)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if n.SubmitErr != nil {
		return ledger.Receipt{}, n.SubmitErr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.Submissions++

	op := env.Operation
	switch {
	case !env.Signed:
		return ledger.Receipt{}, ledger.Rejected("INVALID_SIGNATURE", op.TransactionID, nil)
	case n.executed[op.TransactionID]:
		return ledger.Receipt{}, ledger.Rejected("DUPLICATE_TRANSACTION", op.TransactionID, nil)
	}

	switch op.Kind {
	case ledger.KindAssociateTokens:
		for _, tokenID := range op.TokenIDs {
			n.associateLocked(op.AccountID, tokenID)
		}
	case ledger.KindTransferNFT:
		for _, move := range op.NFTs {
			if err := n.moveNFTLocked(move, op.TransactionID); err != nil {
				return ledger.Receipt{}, err
			}
		}
	case ledger.KindTransferFungible:
		if err := n.moveTokensLocked(op.Tokens, op.TransactionID); err != nil {
			return ledger.Receipt{}, err
		}
	}
	n.executed[op.TransactionID] = true
	if n.LostReceipts > 0 {
		n.LostReceipts--
		return ledger.Receipt{TransactionID: op.TransactionID}, ledger.Dispatched(op.TransactionID, context.DeadlineExceeded)
	}
	return ledger.Receipt{Status: ledger.StatusSuccess, TransactionID: op.TransactionID}, nil
}

// Receipt reports SUCCESS for executed transactions and an unknown outcome
// for anything else.
func (n *Network) Receipt(ctx context.Context, transactionID string) (ledger.Receipt, error) {
	if n.ReceiptErr != nil {
		return ledger.Receipt{}, n.ReceiptErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.executed[transactionID] {
		return ledger.Receipt{TransactionID: transactionID}, ledger.Dispatched(transactionID, fmt.Errorf("no receipt for %s", transactionID))
	}
	return ledger.Receipt{Status: ledger.StatusSuccess, TransactionID: transactionID}, nil
}

// MintNFT mints a serial into the treasury and moves it to the receiver.
func (n *Network) MintNFT(ctx context.Context, params ledger.MintParams) (ledger.Minted, error) {
	if len(params.Metadata) > ledger.MaxMetadataSize {
		return ledger.Minted{}, fmt.Errorf("%w: metadata too long", ledger.ErrInvalidParams)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.serials[params.TokenID]++
	serial := n.serials[params.TokenID]
	txID := n.nextTxID(Operator)
	n.nfts[nftKey(params.TokenID, serial)] = &nftState{
		holder:   params.TreasuryID,
		metadata: append([]byte(nil), params.Metadata...),
		created:  time.Now(),
	}
	n.appendHistoryLocked(params.TokenID, serial, mirror.NFTTransaction{
		TransactionID: txID, Type: "TOKENMINT", ReceiverAccountID: params.TreasuryID,
	})

	if params.Receiver != "" && params.Receiver != params.TreasuryID {
		move := ledger.NFTMove{TokenID: params.TokenID, SerialNumber: serial, From: params.TreasuryID, To: params.Receiver}
		if err := n.moveNFTLocked(move, n.nextTxID(Operator)); err != nil {
			return ledger.Minted{}, err
		}
	}
	return ledger.Minted{TransactionID: txID, SerialNumber: serial}, nil
}

// TransferNFT moves a serial on the operator's authority.
func (n *Network) TransferNFT(ctx context.Context, move ledger.NFTMove) (ledger.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	txID := n.nextTxID(Operator)
	if err := n.moveNFTLocked(move, txID); err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{Status: ledger.StatusSuccess, TransactionID: txID, TokenID: move.TokenID}, nil
}

// TransferFungible moves a balance on the operator's authority.
func (n *Network) TransferFungible(ctx context.Context, t ledger.FungibleTransfer) (ledger.Receipt, error) {
	if t.Amount <= 0 {
		return ledger.Receipt{}, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidParams)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	txID := n.nextTxID(Operator)
	moves := []ledger.TokenMove{
		{TokenID: t.TokenID, AccountID: t.From, Amount: -t.Amount},
		{TokenID: t.TokenID, AccountID: t.To, Amount: t.Amount},
	}
	if err := n.moveTokensLocked(moves, txID); err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{Status: ledger.StatusSuccess, TransactionID: txID, TokenID: t.TokenID}, nil
}

// CreateToken issues a token held by spec.TreasuryID.
func (n *Network) CreateToken(ctx context.Context, spec ledger.TokenSpec) (string, error) {
	if spec.Name == "" || spec.Symbol == "" {
		return "", fmt.Errorf("%w: name and symbol are required", ledger.ErrInvalidParams)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextToken++
	id := fmt.Sprintf("0.0.%d", n.nextToken)
	n.associateLocked(spec.TreasuryID, id)
	if spec.Type == ledger.TokenTypeFungible && spec.InitialSupply > 0 {
		n.balances[id][spec.TreasuryID] = int64(spec.InitialSupply)
	}
	return id, nil
}

// Associated reports whether accountID is associated with tokenID.
func (n *Network) Associated(accountID, tokenID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.associations[accountID][tokenID]
}

// SetBalance seeds a fungible balance.
func (n *Network) SetBalance(tokenID, accountID string, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.associateLocked(accountID, tokenID)
	n.balances[tokenID][accountID] = amount
}

func (n *Network) associateLocked(accountID, tokenID string) {
	if n.associations[accountID] == nil {
		n.associations[accountID] = make(map[string]bool)
	}
	n.associations[accountID][tokenID] = true
	if n.balances[tokenID] == nil {
		n.balances[tokenID] = make(map[string]int64)
	}
	if _, ok := n.balances[tokenID][accountID]; !ok {
		n.balances[tokenID][accountID] = 0
	}
}

func (n *Network) moveNFTLocked(move ledger.NFTMove, txID string) error {
	state, ok := n.nfts[nftKey(move.TokenID, move.SerialNumber)]
	if !ok {
		return ledger.Rejected("INVALID_NFT_ID", txID, nil)
	}
	if state.holder != move.From {
		return ledger.Rejected("SENDER_DOES_NOT_OWN_NFT_SERIAL_NO", txID, nil)
	}
	state.holder = move.To
	n.appendHistoryLocked(move.TokenID, move.SerialNumber, mirror.NFTTransaction{
		TransactionID: txID, Type: "CRYPTOTRANSFER", SenderAccountID: move.From, ReceiverAccountID: move.To,
	})
	return nil
}

func (n *Network) moveTokensLocked(moves []ledger.TokenMove, txID string) error {
	for _, m := range moves {
		bal, ok := n.balances[m.TokenID][m.AccountID]
		if !ok {
			return ledger.Rejected("TOKEN_NOT_ASSOCIATED_TO_ACCOUNT", txID, nil)
		}
		if bal+m.Amount < 0 {
			return ledger.Rejected("INSUFFICIENT_TOKEN_BALANCE", txID, nil)
		}
	}
	for _, m := range moves {
		n.balances[m.TokenID][m.AccountID] += m.Amount
	}
	return nil
}

func (n *Network) appendHistoryLocked(tokenID string, serial int64, tx mirror.NFTTransaction) {
	key := nftKey(tokenID, serial)
	tx.ConsensusTimestamp = fmt.Sprintf("1700000000.%09d", n.seq)
	n.history[key] = append([]mirror.NFTTransaction{tx}, n.history[key]...)
}

// Mirror view ----------------------------------------------------------------

// ListNFTs returns every serial of tokenID, newest first.
func (n *Network) ListNFTs(ctx context.Context, tokenID string) ([]mirror.NFT, error) {
	return n.listNFTs(tokenID, ""), nil
}

// AccountNFTs returns the serials of tokenID held by accountID.
func (n *Network) AccountNFTs(ctx context.Context, tokenID, accountID string) ([]mirror.NFT, error) {
	return n.listNFTs(tokenID, accountID), nil
}

// GetNFT returns one serial.
func (n *Network) GetNFT(ctx context.Context, tokenID string, serial int64) (mirror.NFT, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, ok := n.nfts[nftKey(tokenID, serial)]
	if !ok {
		return mirror.NFT{}, mirror.ErrNotFound
	}
	return toMirror(tokenID, serial, state), nil
}

// NFTHistory returns the serial's transfers, newest first.
func (n *Network) NFTHistory(ctx context.Context, tokenID string, serial int64) ([]mirror.NFTTransaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := nftKey(tokenID, serial)
	if _, ok := n.nfts[key]; !ok {
		return nil, mirror.ErrNotFound
	}
	return append([]mirror.NFTTransaction(nil), n.history[key]...), nil
}

// TokenBalance returns the balance, zero when not associated.
func (n *Network) TokenBalance(ctx context.Context, accountID, tokenID string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balances[tokenID][accountID], nil
}

func (n *Network) listNFTs(tokenID, accountID string) []mirror.NFT {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []mirror.NFT
	for serial := n.serials[tokenID]; serial > 0; serial-- {
		state, ok := n.nfts[nftKey(tokenID, serial)]
		if !ok || (accountID != "" && state.holder != accountID) {
			continue
		}
		out = append(out, toMirror(tokenID, serial, state))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SerialNumber > out[j].SerialNumber })
	return out
}

func toMirror(tokenID string, serial int64, state *nftState) mirror.NFT {
	return mirror.NFT{
		TokenID:      tokenID,
		SerialNumber: serial,
		AccountID:    state.holder,
		Metadata:     append([]byte(nil), state.metadata...),
		CreatedAt:    fmt.Sprintf("%d.000000000", state.created.Unix()),
	}
}
