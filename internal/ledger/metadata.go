package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMetadataSize is the ledger's per-NFT metadata limit in bytes.
const MaxMetadataSize = 100

// ErrMetadata reports metadata that does not follow the "categoryId:hash" form.
var ErrMetadata = errors.New("invalid NFT metadata")

// Metadata is the content stamped into consent and data capture NFTs.
// It is stored on the ledger as UTF-8 "<categoryId>:<hash>".
type Metadata struct {
	CategoryID string `json:"categoryId"`
	Hash       string `json:"hash"`
}

// Encode renders the canonical metadata bytes.
func (m Metadata) Encode() ([]byte, error) {
	if m.CategoryID == "" || m.Hash == "" {
		return nil, fmt.Errorf("%w: categoryId and hash are required", ErrMetadata)
	}
	if strings.Contains(m.CategoryID, ":") {
		return nil, fmt.Errorf("%w: categoryId must not contain ':'", ErrMetadata)
	}
	raw := []byte(m.CategoryID + ":" + m.Hash)
	if len(raw) > MaxMetadataSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrMetadata, MaxMetadataSize)
	}
	return raw, nil
}

// DecodeMetadata parses canonical metadata bytes.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || len(raw) > MaxMetadataSize || !utf8.Valid(raw) {
		return Metadata{}, fmt.Errorf("%w: not UTF-8 within %d bytes", ErrMetadata, MaxMetadataSize)
	}
	category, hash, ok := strings.Cut(string(raw), ":")
	if !ok || category == "" || hash == "" {
		return Metadata{}, fmt.Errorf("%w: expected categoryId:hash", ErrMetadata)
	}
	return Metadata{CategoryID: category, Hash: hash}, nil
}
