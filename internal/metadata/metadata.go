// Package metadata reconstructs a torrent's info dictionary over the BEP 10
// ut_metadata extension, for the magnet-link case where no .torrent file is
// available.
//
// Grounded in torrent/extensions.go's ParseExtensionsMetadata (bencoded
// dict header followed immediately by raw trailing bytes, no separator) and
// torrent/client.go's magnet download orchestration, rebuilt on
// internal/peerconn.Session instead of inline net.Conn handling.
package metadata

import (
	"bytes"
	"crypto/sha1"
	"io"
	"time"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/peerconn"
	"github.com/andre-silva/leech/internal/peerwire"
	"github.com/andre-silva/leech/internal/xerrors"
)

const (
	msgTypeRequest uint8 = 0
	msgTypeData    uint8 = 1
	msgTypeReject  uint8 = 2

	blockSize = 16384
)

// FetchTimeout bounds the whole metadata transfer, not just one round trip.
const FetchTimeout = 30 * time.Second

// Fetch requests every 16384-byte metadata piece from sess in turn and
// reassembles the info dictionary bytes, verifying the result against
// infoHash. sess must already have completed ExtensionHandshake.
func Fetch(sess *peerconn.Session, infoHash [20]byte) ([]byte, error) {
	if !sess.HasUtMetadata() {
		return nil, xerrors.Wrap(xerrors.ErrUnsupported, "peer has no ut_metadata extension")
	}
	if sess.MetadataSize <= 0 {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "peer did not advertise a metadata size")
	}

	conn := sess.Conn()
	if err := conn.SetDeadline(time.Now().Add(FetchTimeout)); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "setting metadata fetch deadline")
	}
	defer conn.SetDeadline(time.Time{})

	total := sess.MetadataSize
	numPieces := int((total + blockSize - 1) / blockSize)
	chunks := make([][]byte, numPieces)

	for i := 0; i < numPieces; i++ {
		req := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
			"msg_type": bencode.NewInt(int64(msgTypeRequest)),
			"piece":    bencode.NewInt(int64(i)),
		}))
		wire := peerwire.Extended(sess.UtMetadataID, req)
		if _, err := conn.Write(wire); err != nil {
			return nil, xerrors.Wrap(xerrors.ErrIOFailure, "sending ut_metadata request")
		}

		chunk, err := readChunk(conn, i)
		if err != nil {
			return nil, err
		}
		chunks[i] = chunk
	}

	data := bytes.Join(chunks, nil)
	if int64(len(data)) != total {
		return nil, xerrors.Wrapf(xerrors.ErrProtocolViolation, "assembled metadata length %d does not match advertised size %d", len(data), total)
	}

	sum := sha1.Sum(data)
	if sum != infoHash {
		return nil, xerrors.Wrap(xerrors.ErrHashMismatch, "reconstructed metadata does not match info hash")
	}
	return data, nil
}

// readChunk waits for the extended message answering the piece i request,
// parsing the bencoded msg_type/piece header and returning the raw trailing
// bytes as the chunk (spec.md §4.6 step 3: no separator between the two).
func readChunk(r io.Reader, wantPiece int) ([]byte, error) {
	msg, err := peerwire.ReadNonKeepAlive(r)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "reading ut_metadata response")
	}
	if msg.ID != peerwire.MsgExtended || len(msg.Payload) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "expected an extended message")
	}

	body := msg.Payload[1:]
	header, rest, err := bencode.Decode(body)
	if err != nil {
		return nil, xerrors.Wrap(err, "decoding ut_metadata header")
	}

	msgType := header.GetDict("msg_type")
	if msgType == nil {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "ut_metadata message missing msg_type")
	}
	if uint8(msgType.Int) == msgTypeReject {
		return nil, xerrors.Wrapf(xerrors.ErrProtocolViolation, "peer rejected ut_metadata piece %d", wantPiece)
	}

	piece := header.GetDict("piece")
	if piece == nil || int(piece.Int) != wantPiece {
		return nil, xerrors.Wrapf(xerrors.ErrProtocolViolation, "expected ut_metadata piece %d, got response for a different piece", wantPiece)
	}

	return rest, nil
}
