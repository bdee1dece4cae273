package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInt(t *testing.T) {
	v, n, err := Decode([]byte("i52e"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, KindInt, v.Kind)
	assert.EqualValues(t, 52, v.Int)
}

func TestDecodeNegativeInt(t *testing.T) {
	v, _, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	assert.EqualValues(t, -42, v.Int)
}

func TestDecodeBytes(t *testing.T) {
	v, n, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "hello", string(v.Bytes))
}

func TestDecodeListAndJSON(t *testing.T) {
	v, _, err := Decode([]byte("l5:helloi52ee"))
	require.NoError(t, err)
	assert.Equal(t, []any{"hello", int64(52)}, ToJSON(v))
}

func TestDecodeDictAndJSON(t *testing.T) {
	v, _, err := Decode([]byte("d3:foo3:bar5:helloi52ee"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "bar", "hello": int64(52)}, ToJSON(v))
}

func TestDecodeTruncatedInput(t *testing.T) {
	_, _, err := Decode([]byte("5:hel"))
	require.Error(t, err)
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestDecodeMissingTerminator(t *testing.T) {
	_, _, err := Decode([]byte("i52"))
	require.Error(t, err)
}

func TestDecodeDuplicateKeyLastWriterWins(t *testing.T) {
	v, _, err := Decode([]byte("d1:ai1e1:ai2ee"))
	require.NoError(t, err)
	require.Len(t, v.Dict, 1)
	assert.EqualValues(t, 2, v.Dict[0].Value.Int)
}

func TestEncodeSortsDictKeys(t *testing.T) {
	v := Value{Kind: KindDict, Dict: []KV{
		{Key: []byte("zebra"), Value: Value{Kind: KindInt, Int: 1}},
		{Key: []byte("apple"), Value: Value{Kind: KindInt, Int: 2}},
	}}
	assert.Equal(t, "d5:applei2e5:zebrai1ee", string(Encode(v)))
}

func TestEncodeNoLeadingZeros(t *testing.T) {
	v := Value{Kind: KindInt, Int: 0}
	assert.Equal(t, "i0e", string(Encode(v)))
}

func TestRoundTripCanonical(t *testing.T) {
	original := []byte("d6:lengthi92063e4:name10:sample.txt12:piece lengthi32768e6:pieces20:00000000000000000000e")
	v, n, err := Decode(original)
	require.NoError(t, err)
	require.Equal(t, len(original), n)
	assert.Equal(t, original, Encode(v))
}
