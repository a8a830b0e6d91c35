package infohash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	hex40 := strings.Repeat("ab", 20)
	h, err := Parse(hex40)
	require.NoError(t, err)
	assert.Equal(t, hex40, h.String())
}

func TestParseRawBytes(t *testing.T) {
	raw := strings.Repeat("x", 20)
	h, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), h.Bytes())
}

func TestParseBadLength(t *testing.T) {
	_, err := Parse("tooshort")
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestPeerIDPadding(t *testing.T) {
	id, err := ParsePeerID("-GT0001-")
	require.NoError(t, err)
	assert.Equal(t, byte(0), id[Size-1])
	assert.Equal(t, []byte("-GT0001-")[0], id[0])
}

func TestPeerIDTruncation(t *testing.T) {
	id, err := ParsePeerID(strings.Repeat("x", 25))
	require.NoError(t, err)
	assert.Equal(t, []byte(strings.Repeat("x", Size)), id.Bytes())
}

func TestHashTextRoundTrip(t *testing.T) {
	hex40 := strings.Repeat("11", 20)
	h, err := Parse(hex40)
	require.NoError(t, err)

	text, err := h.MarshalText()
	require.NoError(t, err)

	var h2 Hash
	require.NoError(t, h2.UnmarshalText(text))
	assert.Equal(t, h, h2)
}
