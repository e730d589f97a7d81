package peerid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("phone-kitchen-7")
	require.NoError(t, err)
	assert.Equal(t, "phone-kitchen-7", id.String())

	id, err = Parse("café ☕")
	require.NoError(t, err)
	assert.Equal(t, ID("café ☕"), id)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrorEmptyID)
}

func TestParseRejectsTooLong(t *testing.T) {
	_, err := Parse(strings.Repeat("a", MaxLen+1))
	require.ErrorIs(t, err, ErrorIDTooLong)

	_, err = Parse(strings.Repeat("a", MaxLen))
	require.NoError(t, err)
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	_, err := Parse(string([]byte{0xff, 0xfe, 0xfd}))
	require.ErrorIs(t, err, ErrorInvalidUTF8)
}

func TestParseRejectsControlCharacters(t *testing.T) {
	_, err := Parse("line\nbreak")
	require.ErrorIs(t, err, ErrorControlCharacter)

	_, err = Parse("nul\x00byte")
	require.ErrorIs(t, err, ErrorControlCharacter)
}

func TestFromBytes(t *testing.T) {
	id, err := FromBytes([]byte("tablet-2"))
	require.NoError(t, err)
	assert.Equal(t, ID("tablet-2"), id)

	_, err = FromBytes([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestRandom(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 16)
	assert.True(t, a.Fits(20))

	_, err = Parse(a.String())
	require.NoError(t, err)
}

func TestFits(t *testing.T) {
	assert.True(t, ID("short").Fits(20))
	assert.False(t, ID(strings.Repeat("x", 21)).Fits(20))
}
