package peerconn

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/peerwire"
)

func fakePeer(t *testing.T, infoHash, peerID [20]byte, serve func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, peerwire.HandshakeSize)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write(peerwire.BuildHandshake(infoHash, peerID))
		serve(conn)
	}()
	return ln.Addr().String()
}

func TestDialPerformsHandshakeAndReadsBitfield(t *testing.T) {
	var infoHash, ourID, peerID [20]byte
	copy(peerID[:], []byte("peer-id-0000000000"))

	addr := fakePeer(t, infoHash, peerID, func(conn net.Conn) {
		conn.Write(peerwire.Encode(peerwire.MsgBitfield, []byte{0b10000000}))
	})

	sess, err := Dial(addr, infoHash, ourID, 4)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, peerID, sess.PeerID)
	assert.True(t, sess.Choked)
	assert.True(t, sess.Bitfield.Has(0))
	assert.False(t, sess.Bitfield.Has(1))
}

func TestDialRejectsInfoHashMismatch(t *testing.T) {
	var infoHash, wrongHash, ourID, peerID [20]byte
	copy(wrongHash[:], []byte("wrong-hash-00000000"))

	addr := fakePeer(t, wrongHash, peerID, func(conn net.Conn) {
		conn.Write(peerwire.Encode(peerwire.MsgBitfield, []byte{0}))
	})

	_, err := Dial(addr, infoHash, ourID, 4)
	assert.Error(t, err)
}

func TestExtensionHandshakeRecordsUtMetadataID(t *testing.T) {
	var infoHash, ourID, peerID [20]byte

	addr := fakePeer(t, infoHash, peerID, func(conn net.Conn) {
		conn.Write(peerwire.Encode(peerwire.MsgBitfield, []byte{0}))
		msg, err := peerwire.ReadNonKeepAlive(conn)
		if err != nil || msg.ID != peerwire.MsgExtended {
			return
		}
		reply := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
			"m":             bencode.NewDict(map[string]*bencode.Value{"ut_metadata": bencode.NewInt(3)}),
			"metadata_size": bencode.NewInt(1024),
		}))
		conn.Write(peerwire.Extended(0, reply))
	})

	sess, err := Dial(addr, infoHash, ourID, 4)
	require.NoError(t, err)
	defer sess.Close()

	require.True(t, sess.Extended)
	err = sess.ExtensionHandshake(1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sess.UtMetadataID)
	assert.EqualValues(t, 1024, sess.MetadataSize)
	assert.True(t, sess.HasUtMetadata())
}

func TestExtensionHandshakeFailsWhenPeerDidNotAdvertiseExtensions(t *testing.T) {
	var infoHash, ourID, peerID [20]byte
	addr := fakePeer(t, infoHash, peerID, func(conn net.Conn) {
		conn.Write(peerwire.Encode(peerwire.MsgBitfield, []byte{0}))
	})

	sess, err := Dial(addr, infoHash, ourID, 4)
	require.NoError(t, err)
	defer sess.Close()

	// BuildHandshake always sets the extension bit, so force the no-support
	// path directly rather than constructing a non-extended fake handshake.
	sess.Extended = false
	err = sess.ExtensionHandshake(1)
	assert.Error(t, err)
}
