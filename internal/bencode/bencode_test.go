package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeString(t *testing.T) {
	assert.Equal(t, []byte("4:spam"), Encode(NewString([]byte("spam"))))
}

func TestEncodeInt(t *testing.T) {
	assert.Equal(t, []byte("i42e"), Encode(NewInt(42)))
}

func TestEncodeIntZero(t *testing.T) {
	assert.Equal(t, []byte("i0e"), Encode(NewInt(0)))
}

func TestEncodeIntNegative(t *testing.T) {
	assert.Equal(t, []byte("i-42e"), Encode(NewInt(-42)))
}

func TestEncodeList(t *testing.T) {
	got := Encode(NewList(NewString([]byte("spam")), NewString([]byte("eggs"))))
	assert.Equal(t, []byte("l4:spam4:eggse"), got)
}

func TestEncodeDictSorted(t *testing.T) {
	got := Encode(NewDict(map[string]*Value{
		"z": NewString([]byte("last")),
		"a": NewString([]byte("first")),
		"m": NewString([]byte("middle")),
	}))
	assert.Equal(t, []byte("d1:a5:first1:m6:middle1:z4:laste"), got)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// 1. Bencode round trip scenario from spec.md §8.
	input := []byte("d3:cow3:moo4:spaml1:a1:bee")
	v, rest, err := Decode(input)
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Equal(t, KindDict, v.Kind)
	assert.Equal(t, "moo", v.GetDict("cow").String())
	require.Len(t, v.GetDict("spam").List, 2)
	assert.Equal(t, "a", v.GetDict("spam").List[0].String())
	assert.Equal(t, "b", v.GetDict("spam").List[1].String())
	assert.Equal(t, input, Encode(v))
}

func TestDecodeIntegerEdgeCases(t *testing.T) {
	// 2. Integer edge cases from spec.md §8.
	v, _, err := Decode([]byte("i0e"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.Int)

	v, _, err = Decode([]byte("i-42e"))
	require.NoError(t, err)
	assert.EqualValues(t, -42, v.Int)

	_, _, err = Decode([]byte("i-0e"))
	assert.Error(t, err)

	_, _, err = Decode([]byte("i03e"))
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, _, err := Decode([]byte("5:ab"))
	assert.Error(t, err)

	_, _, err = Decode([]byte("d3:cow3:moo"))
	assert.Error(t, err)
}

func TestDecodeRejectsNonStringDictKey(t *testing.T) {
	_, _, err := Decode([]byte("di1e3:fooe"))
	assert.Error(t, err)
}

func TestDecodeLeavesRest(t *testing.T) {
	v, rest, err := Decode([]byte("i1eTRAILING"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Int)
	assert.Equal(t, []byte("TRAILING"), rest)
}

func TestDecodeInfoSliceReturnsOriginalBytes(t *testing.T) {
	// The info dictionary's bytes must be returned exactly as they appeared
	// in the source, not as Encode would re-serialize them - in particular,
	// key order here is deliberately non-canonical ("pieces" before
	// "length") to prove we are not re-encoding.
	metainfo := []byte("d8:announce3:url4:infod6:pieces1:x6:lengthi5eee")
	_, start, end, err := DecodeInfoSlice(metainfo)
	require.NoError(t, err)
	infoBytes := metainfo[start:end]
	assert.Equal(t, []byte("d6:pieces1:x6:lengthi5ee"), infoBytes)

	// Decoding the captured slice on its own must still succeed and agree
	// with the value found by decoding the full document.
	root, _, _, err := DecodeInfoSlice(metainfo)
	require.NoError(t, err)
	v, rest, err := Decode(infoBytes)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, root.GetDict("info").Dict["pieces"].String(), v.Dict["pieces"].String())
}

func TestDecodeInfoSliceErrorsWithoutInfoKey(t *testing.T) {
	_, _, _, err := DecodeInfoSlice([]byte("d8:announce3:urle"))
	assert.Error(t, err)
}
