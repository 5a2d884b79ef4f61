// Package ledger defines the operations the gateway performs against the
// distributed ledger and the payload codec used for the signing handoff.
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// OperationKind identifies an operation that can be handed to a client for signing.
type OperationKind string

const (
	KindAssociateTokens  OperationKind = "associate-tokens"
	KindTransferNFT      OperationKind = "transfer-nft"
	KindTransferFungible OperationKind = "transfer-fungible"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case KindAssociateTokens, KindTransferNFT, KindTransferFungible:
		return true
	}
	return false
}

var entityIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidEntityID reports whether id has the shard.realm.num form.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// MaxMemoLength is the ledger's memo limit in bytes.
const MaxMemoLength = 100

// BuildParams carries everything needed to build one unsigned transaction.
// Fields irrelevant to Kind must be zero.
type BuildParams struct {
	Kind          OperationKind
	AccountID     string
	TokenIDs      []string
	TokenID       string
	SerialNumber  int64
	FromAccountID string
	ToAccountID   string
	Amount        int64
	Memo          string
}

// Validate checks that the params carry the fields Kind requires.
func (p BuildParams) Validate() error {
	if !p.Kind.Valid() {
		return invalid("operation kind %q is not supported", p.Kind)
	}
	if len(p.Memo) > MaxMemoLength {
		return invalid("memo exceeds %d bytes", MaxMemoLength)
	}

	switch p.Kind {
	case KindAssociateTokens:
		if err := requireEntity("accountId", p.AccountID); err != nil {
			return err
		}
		if len(p.TokenIDs) == 0 {
			return invalid("tokenIds must not be empty")
		}
		seen := make(map[string]struct{}, len(p.TokenIDs))
		for _, id := range p.TokenIDs {
			if err := requireEntity("tokenId", id); err != nil {
				return err
			}
			if _, dup := seen[id]; dup {
				return invalid("tokenId %s listed twice", id)
			}
			seen[id] = struct{}{}
		}
	case KindTransferNFT:
		if err := requireTransfer(p); err != nil {
			return err
		}
		if p.SerialNumber <= 0 {
			return invalid("serialNumber must be positive")
		}
	case KindTransferFungible:
		if err := requireTransfer(p); err != nil {
			return err
		}
		if p.Amount <= 0 {
			return invalid("amount must be positive")
		}
	}
	return nil
}

func requireTransfer(p BuildParams) error {
	if err := requireEntity("tokenId", p.TokenID); err != nil {
		return err
	}
	if err := requireEntity("fromAccountId", p.FromAccountID); err != nil {
		return err
	}
	if err := requireEntity("toAccountId", p.ToAccountID); err != nil {
		return err
	}
	if p.FromAccountID == p.ToAccountID {
		return invalid("fromAccountId and toAccountId must differ")
	}
	return nil
}

func requireEntity(field, value string) error {
	if value == "" {
		return invalid("%s is required", field)
	}
	if !ValidEntityID(value) {
		return invalid("%s %q is not a valid entity id", field, value)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Payer returns the account expected to sign the transaction.
func (p BuildParams) Payer() string {
	if p.Kind == KindAssociateTokens {
		return p.AccountID
	}
	return p.FromAccountID
}

// NFTMove is one serial moving between accounts.
type NFTMove struct {
	TokenID      string
	SerialNumber int64
	From         string
	To           string
}

// TokenMove is a fungible balance change for one account.
type TokenMove struct {
	TokenID   string
	AccountID string
	Amount    int64
}

// Operation is the decoded content of a handoff transaction. Two operations
// are Equal when they would have the same effect on the ledger.
type Operation struct {
	Kind          OperationKind
	TransactionID string
	AccountID     string
	TokenIDs      []string
	NFTs          []NFTMove
	Tokens        []TokenMove
	Memo          string
}

// Normalize sorts the slices so that decoded and built operations compare stably.
func (o Operation) Normalize() Operation {
	out := o
	out.TokenIDs = append([]string(nil), o.TokenIDs...)
	sort.Strings(out.TokenIDs)
	out.NFTs = append([]NFTMove(nil), o.NFTs...)
	sort.Slice(out.NFTs, func(i, j int) bool {
		a, b := out.NFTs[i], out.NFTs[j]
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		return a.SerialNumber < b.SerialNumber
	})
	out.Tokens = append([]TokenMove(nil), o.Tokens...)
	sort.Slice(out.Tokens, func(i, j int) bool {
		a, b := out.Tokens[i], out.Tokens[j]
		if a.TokenID != b.TokenID {
			return a.TokenID < b.TokenID
		}
		return a.AccountID < b.AccountID
	})
	return out
}

// Equal compares two operations including the transaction id.
func (o Operation) Equal(other Operation) bool {
	a, b := o.Normalize(), other.Normalize()
	if a.Kind != b.Kind || a.TransactionID != b.TransactionID || a.AccountID != b.AccountID || a.Memo != b.Memo {
		return false
	}
	if strings.Join(a.TokenIDs, ",") != strings.Join(b.TokenIDs, ",") {
		return false
	}
	if len(a.NFTs) != len(b.NFTs) || len(a.Tokens) != len(b.Tokens) {
		return false
	}
	for i := range a.NFTs {
		if a.NFTs[i] != b.NFTs[i] {
			return false
		}
	}
	for i := range a.Tokens {
		if a.Tokens[i] != b.Tokens[i] {
			return false
		}
	}
	return true
}

// Matches reports whether the operation carries out params.
func (o Operation) Matches(p BuildParams) bool {
	if o.Kind != p.Kind || o.Memo != p.Memo {
		return false
	}
	switch p.Kind {
	case KindAssociateTokens:
		want := append([]string(nil), p.TokenIDs...)
		sort.Strings(want)
		got := o.Normalize().TokenIDs
		return o.AccountID == p.AccountID && strings.Join(got, ",") == strings.Join(want, ",")
	case KindTransferNFT:
		return len(o.NFTs) == 1 && len(o.Tokens) == 0 &&
			o.NFTs[0] == NFTMove{TokenID: p.TokenID, SerialNumber: p.SerialNumber, From: p.FromAccountID, To: p.ToAccountID}
	case KindTransferFungible:
		if len(o.Tokens) != 2 || len(o.NFTs) != 0 {
			return false
		}
		var debit, credit bool
		for _, m := range o.Tokens {
			if m.TokenID != p.TokenID {
				return false
			}
			switch {
			case m.AccountID == p.FromAccountID && m.Amount == -p.Amount:
				debit = true
			case m.AccountID == p.ToAccountID && m.Amount == p.Amount:
				credit = true
			}
		}
		return debit && credit
	}
	return false
}

// Receipt is the ledger's verdict on a submitted transaction.
type Receipt struct {
	Status        string
	TransactionID string
	AccountID     string
	TokenID       string
	SerialNumbers []int64
}

// StatusSuccess is the receipt status of a confirmed transaction.
const StatusSuccess = "SUCCESS"

// Success reports whether the transaction was confirmed.
func (r Receipt) Success() bool {
	return r.Status == StatusSuccess
}

// Unsigned is a frozen transaction awaiting a client signature.
type Unsigned struct {
	Bytes         []byte
	TransactionID string
	Operation     Operation
}

// MintParams mints one NFT to Receiver, moving it out of Treasury when they differ.
type MintParams struct {
	TokenID    string
	TreasuryID string
	Receiver   string
	Metadata   []byte
}

// Minted describes a confirmed mint.
type Minted struct {
	TransactionID string
	SerialNumber  int64
}

// FungibleTransfer moves Amount of TokenID between two operator-controlled accounts.
type FungibleTransfer struct {
	TokenID string
	From    string
	To      string
	Amount  int64
	Memo    string
}

// TokenType selects NFT or fungible supply.
type TokenType string

const (
	TokenTypeNFT      TokenType = "NON_FUNGIBLE_UNIQUE"
	TokenTypeFungible TokenType = "FUNGIBLE_COMMON"
)

// TokenSpec describes a token created for a tenant.
type TokenSpec struct {
	Name          string
	Symbol        string
	Type          TokenType
	Decimals      uint
	InitialSupply uint64
	TreasuryID    string
}

// Network is the ledger surface used by the gateway. Every call receives its
// full configuration; implementations keep no per-request state.
type Network interface {
	// CreateAccount opens an account controlled by publicKey.
	CreateAccount(ctx context.Context, publicKey string) (Receipt, error)
	// BuildUnsigned freezes a transaction for params without signing it.
	BuildUnsigned(ctx context.Context, params BuildParams) (Unsigned, error)
	// Inspect decodes raw transaction bytes.
	Inspect(raw []byte) (Operation, error)
	// SubmitSigned executes raw exactly once and resolves its receipt.
	SubmitSigned(ctx context.Context, raw []byte) (Receipt, error)
	// Receipt looks up the receipt of a transaction that was already sent.
	// It never sends anything.
	Receipt(ctx context.Context, transactionID string) (Receipt, error)
	MintNFT(ctx context.Context, params MintParams) (Minted, error)
	TransferNFT(ctx context.Context, move NFTMove) (Receipt, error)
	TransferFungible(ctx context.Context, transfer FungibleTransfer) (Receipt, error)
	CreateToken(ctx context.Context, spec TokenSpec) (string, error)
}
