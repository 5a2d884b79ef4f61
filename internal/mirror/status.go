package mirror

import "github.com/R3E-Network/token_engine/internal/ledger"

// Status classifies an NFT by its current holder.
type Status string

const (
	StatusActive    Status = "active"
	StatusWithdrawn Status = "withdrawn"
)

// Classify reports withdrawn when the NFT is back in the tenant treasury.
func Classify(nft NFT, treasuryID string) Status {
	if nft.AccountID == treasuryID {
		return StatusWithdrawn
	}
	return StatusActive
}

// Filter returns the NFTs with the given status, optionally held by accountID.
// Withdrawn NFTs all sit in the treasury, so accountID only narrows active ones.
func Filter(nfts []NFT, treasuryID string, status Status, accountID string) []NFT {
	out := make([]NFT, 0, len(nfts))
	for _, nft := range nfts {
		if Classify(nft, treasuryID) != status {
			continue
		}
		if status == StatusActive && accountID != "" && nft.AccountID != accountID {
			continue
		}
		out = append(out, nft)
	}
	return out
}

// DecodedMetadata parses the NFT's metadata, returning ok=false when it is not canonical.
func (n NFT) DecodedMetadata() (ledger.Metadata, bool) {
	m, err := ledger.DecodeMetadata(n.Metadata)
	return m, err == nil
}
