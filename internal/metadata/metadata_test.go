package metadata

import (
	"crypto/sha1"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/peerconn"
	"github.com/andre-silva/leech/internal/peerwire"
)

func dialWithExtensionHandshake(t *testing.T, metadataSize int, serveBody func(conn net.Conn)) *peerconn.Session {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var infoHash, ourID, peerID [20]byte
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, peerwire.HandshakeSize)
		io.ReadFull(conn, buf)
		conn.Write(peerwire.BuildHandshake(infoHash, peerID))
		conn.Write(peerwire.Encode(peerwire.MsgBitfield, []byte{0}))

		msg, err := peerwire.ReadNonKeepAlive(conn)
		if err != nil || msg.ID != peerwire.MsgExtended {
			return
		}
		reply := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
			"m":             bencode.NewDict(map[string]*bencode.Value{"ut_metadata": bencode.NewInt(1)}),
			"metadata_size": bencode.NewInt(int64(metadataSize)),
		}))
		conn.Write(peerwire.Extended(0, reply))
		connCh <- conn
	}()

	sess, err := peerconn.Dial(ln.Addr().String(), infoHash, ourID, 4)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	require.NoError(t, sess.ExtensionHandshake(1))

	go serveBody(<-connCh)
	return sess
}

func TestFetchReassemblesMultiPieceMetadata(t *testing.T) {
	// A 20000-byte name pushes the info dictionary past one 16384-byte
	// metadata piece, so it arrives in two chunks.
	info := []byte("d6:lengthi20000e4:name20000:" + strings.Repeat("a", 20000) + "12:piece lengthi16384e6:pieces20:" + string(make([]byte, 20)) + "e")
	infoHash := sha1.Sum(info)

	sess := dialWithExtensionHandshake(t, len(info), func(conn net.Conn) {
		for {
			msg, err := peerwire.ReadNonKeepAlive(conn)
			if err != nil {
				return
			}
			v, _, err := bencode.Decode(msg.Payload[1:])
			require.NoError(t, err)
			piece := int(v.GetDict("piece").Int)

			start := piece * blockSize
			end := start + blockSize
			if end > len(info) {
				end = len(info)
			}

			header := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
				"msg_type": bencode.NewInt(1),
				"piece":    bencode.NewInt(int64(piece)),
			}))
			payload := append(header, info[start:end]...)
			conn.Write(peerwire.Extended(0, payload))
		}
	})

	got, err := Fetch(sess, infoHash)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestFetchFailsOnReject(t *testing.T) {
	info := []byte("d4:name1:ae")
	infoHash := sha1.Sum(info)

	sess := dialWithExtensionHandshake(t, len(info), func(conn net.Conn) {
		msg, err := peerwire.ReadNonKeepAlive(conn)
		require.NoError(t, err)
		_ = msg
		header := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
			"msg_type": bencode.NewInt(2),
			"piece":    bencode.NewInt(0),
		}))
		conn.Write(peerwire.Extended(0, header))
	})

	_, err := Fetch(sess, infoHash)
	assert.Error(t, err)
}

func TestFetchFailsWithoutMetadataSize(t *testing.T) {
	sess := dialWithExtensionHandshake(t, 10, func(conn net.Conn) {})
	sess.MetadataSize = 0
	_, err := Fetch(sess, [20]byte{})
	assert.Error(t, err)
}
