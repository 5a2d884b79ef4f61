package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_EncodeDecode(t *testing.T) {
	m := Metadata{CategoryID: "7", Hash: "9f86d081884c7d659a2feaa0c55ad015"}

	raw, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, "7:9f86d081884c7d659a2feaa0c55ad015", string(raw))

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestMetadata_HashMayContainColon(t *testing.T) {
	decoded, err := DecodeMetadata([]byte("marketing:sha256:abc"))
	require.NoError(t, err)
	assert.Equal(t, "marketing", decoded.CategoryID)
	assert.Equal(t, "sha256:abc", decoded.Hash)
}

func TestMetadata_Rejects(t *testing.T) {
	_, err := Metadata{CategoryID: "1"}.Encode()
	assert.ErrorIs(t, err, ErrMetadata)

	_, err = Metadata{CategoryID: "a:b", Hash: "h"}.Encode()
	assert.ErrorIs(t, err, ErrMetadata)

	_, err = Metadata{CategoryID: "1", Hash: strings.Repeat("f", MaxMetadataSize)}.Encode()
	assert.ErrorIs(t, err, ErrMetadata)

	for _, raw := range [][]byte{nil, []byte("nohash"), []byte(":h"), []byte("c:"), {0xff, ':', 'a'}} {
		_, err := DecodeMetadata(raw)
		assert.ErrorIs(t, err, ErrMetadata, "%q", raw)
	}
}
