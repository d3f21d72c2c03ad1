package peerwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], []byte("aaaaaaaaaaaaaaaaaaaa"))
	copy(peerID[:], []byte("bbbbbbbbbbbbbbbbbbbb"))

	wire := BuildHandshake(infoHash, peerID)
	require.Len(t, wire, HandshakeSize)

	hs, err := ParseHandshake(wire, infoHash)
	require.NoError(t, err)
	assert.Equal(t, peerID, hs.PeerID)
	assert.True(t, hs.SupportsExtensions)
}

func TestParseHandshakeRejectsMismatchedInfoHash(t *testing.T) {
	var infoHash, other, peerID [20]byte
	copy(infoHash[:], []byte("aaaaaaaaaaaaaaaaaaaa"))
	copy(other[:], []byte("zzzzzzzzzzzzzzzzzzzz"))

	wire := BuildHandshake(infoHash, peerID)
	_, err := ParseHandshake(wire, other)
	assert.Error(t, err)
}

func TestParseHandshakeRejectsShortInput(t *testing.T) {
	_, err := ParseHandshake([]byte{1, 2, 3}, [20]byte{})
	assert.Error(t, err)
}

func TestReadMessageKeepAlive(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 0})
	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestReadMessageUnchoke(t *testing.T) {
	r := bytes.NewReader(Unchoke())
	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, MsgUnchoke, msg.ID)
	assert.Empty(t, msg.Payload)
}

func TestReadNonKeepAliveSkipsKeepAlives(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // keep-alive
	buf.Write([]byte{0, 0, 0, 0}) // keep-alive
	buf.Write(Interested())

	msg, err := ReadNonKeepAlive(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgInterested, msg.ID)
}

func TestRequestEncoding(t *testing.T) {
	wire := Request(1, 16384, 16384)
	r := bytes.NewReader(wire)
	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, MsgRequest, msg.ID)
	require.Len(t, msg.Payload, 12)
}

func TestParsePieceRoundTrip(t *testing.T) {
	block := []byte("block-data")
	payload := make([]byte, 8+len(block))
	payload[3] = 5
	payload[7] = 0
	copy(payload[8:], block)

	index, begin, got, err := ParsePiece(payload)
	require.NoError(t, err)
	assert.EqualValues(t, 5, index)
	assert.EqualValues(t, 0, begin)
	assert.Equal(t, block, got)
}

func TestParsePieceRejectsShortPayload(t *testing.T) {
	_, _, _, err := ParsePiece([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestExtendedMessageCarriesSubtype(t *testing.T) {
	wire := Extended(0, []byte("d1:ai1ee"))
	msg, err := ReadMessage(bytes.NewReader(wire))
	require.NoError(t, err)
	assert.Equal(t, MsgExtended, msg.ID)
	assert.Equal(t, byte(0), msg.Payload[0])
	assert.Equal(t, []byte("d1:ai1ee"), msg.Payload[1:])
}
