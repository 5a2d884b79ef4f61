package ledger

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxTransactionSize is the largest transaction the ledger accepts.
const MaxTransactionSize = 6144

// Encode renders transaction bytes for the wire.
func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a wire payload. It accepts padded standard base64 only.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxTransactionSize+3 {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrDecode, MaxTransactionSize)
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(raw) > MaxTransactionSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrDecode, MaxTransactionSize)
	}
	return raw, nil
}
