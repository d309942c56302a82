package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": []any{true, nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":[true,null]}`, string(got))
}

func TestMarshalCanonical_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	type ba struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	x, err := MarshalCanonical(ab{A: "1", B: 2})
	require.NoError(t, err)
	y, err := MarshalCanonical(ba{B: 2, A: "1"})
	require.NoError(t, err)
	assert.Equal(t, string(x), string(y))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"
	x, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	y, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(y), string(x))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	literal, err := MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(literal))
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"i": 10, "f": 1.5, "big": int64(1) << 53})
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740992,"f":1.5,"i":10}`, string(got))
}

func TestLessUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) so it sorts before
	// U+FF61 in UTF-16, though after it in UTF-8 byte order.
	assert.True(t, lessUTF16("\U0001F600", "\uff61"))
	assert.True(t, lessUTF16("a", "ab"))
	assert.False(t, lessUTF16("b", "a"))
}

func TestFingerprint_Stable(t *testing.T) {
	a := MustFingerprint(DomainEntity, map[string]any{"id": "1", "title": "x"})
	b := MustFingerprint(DomainEntity, map[string]any{"title": "x", "id": "1"})
	c := MustFingerprint(DomainSnapshot, map[string]any{"id": "1", "title": "x"})

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "domains separate otherwise equal payloads")
}
