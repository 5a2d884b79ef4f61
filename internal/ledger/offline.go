package ledger

import "context"

// Offline is the Network used when no operator is configured. Every call
// fails with ErrUnavailable.
type Offline struct{}

var _ Network = Offline{}

var errOffline = Unavailable(nil)

func (Offline) CreateAccount(context.Context, string) (Receipt, error) {
	return Receipt{}, errOffline
}

func (Offline) BuildUnsigned(context.Context, BuildParams) (Unsigned, error) {
	return Unsigned{}, errOffline
}

func (Offline) Inspect([]byte) (Operation, error) {
	return Operation{}, errOffline
}

func (Offline) SubmitSigned(context.Context, []byte) (Receipt, error) {
	return Receipt{}, errOffline
}

func (Offline) Receipt(context.Context, string) (Receipt, error) {
	return Receipt{}, errOffline
}

func (Offline) MintNFT(context.Context, MintParams) (Minted, error) {
	return Minted{}, errOffline
}

func (Offline) TransferNFT(context.Context, NFTMove) (Receipt, error) {
	return Receipt{}, errOffline
}

func (Offline) TransferFungible(context.Context, FungibleTransfer) (Receipt, error) {
	return Receipt{}, errOffline
}

func (Offline) CreateToken(context.Context, TokenSpec) (string, error) {
	return "", errOffline
}
