// Package peerconn manages a single TCP connection to a peer: the
// handshake, optional BEP 10 extension handshake, and the choke/bitfield
// state a session needs before pieces can be requested.
//
// Grounded in peer/peer.go's new()/startConn()/read() (choke/unchoke/have
// tracking) and torrent/extensions.go's ParseExtensionsHandshake, layered
// on internal/peerwire instead of the teacher's messaging package.
package peerconn

import (
	"io"
	"net"
	"time"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/bitfield"
	"github.com/andre-silva/leech/internal/peerwire"
	"github.com/andre-silva/leech/internal/xerrors"
)

// ReadTimeout bounds the connect, handshake and extension-handshake reads
// done in this package, per spec.md §5. Piece downloads and unchoke waits
// use config.Config.ReadTimeout instead.
const ReadTimeout = 30 * time.Second

// Session is an established connection to one peer.
type Session struct {
	conn           net.Conn
	PeerID         [20]byte
	Bitfield       bitfield.Bitfield
	Choked         bool
	Extended       bool
	UtMetadataID   uint8
	MetadataSize   int64
	hasExtensionID bool
}

// Dial connects to address, performs the BitTorrent handshake, and reads
// the peer's initial bitfield. The session starts choked, with Extended set
// from the peer's handshake but no ut_metadata id recorded; callers that
// need ut_metadata should follow up with ExtensionHandshake.
func Dial(address string, infoHash, ourPeerID [20]byte, numPieces int) (*Session, error) {
	conn, err := net.DialTimeout("tcp", address, ReadTimeout)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrIOFailure, "dialing peer %s: %v", address, err)
	}

	if err := conn.SetDeadline(time.Now().Add(ReadTimeout)); err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "setting handshake deadline")
	}

	wire := peerwire.BuildHandshake(infoHash, ourPeerID)
	if _, err := conn.Write(wire); err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "sending handshake")
	}

	reply := make([]byte, peerwire.HandshakeSize)
	if _, err := io.ReadFull(conn, reply); err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "reading handshake reply")
	}

	hs, err := peerwire.ParseHandshake(reply, infoHash)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sess := &Session{
		conn:     conn,
		PeerID:   hs.PeerID,
		Bitfield: bitfield.New(numPieces),
		Choked:   true,
		Extended: hs.SupportsExtensions,
	}

	// A bitfield message is conventional but not mandatory (a peer with no
	// pieces may send none); read one opportunistic non-keepalive message
	// and apply it if it is a bitfield, otherwise push state through
	// handle so the caller doesn't lose it. Dial still waits for that one
	// message: a peer that sends nothing within ReadTimeout fails the dial.
	msg, err := peerwire.ReadNonKeepAlive(conn)
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "reading initial message")
	}
	if msg.ID == peerwire.MsgBitfield {
		copy(sess.Bitfield, msg.Payload)
	} else if err := sess.handle(msg); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})
	return sess, nil
}

// StartInterested sends unchoke then interested, per spec.md §4.4's "to
// begin downloading, send interested and await unchoke" — the teacher also
// sends an (unnecessary but harmless) unchoke first, a quirk kept here for
// wire compatibility with peers that key off it.
func (s *Session) StartInterested() error {
	if _, err := s.conn.Write(peerwire.Unchoke()); err != nil {
		return xerrors.Wrap(xerrors.ErrIOFailure, "sending unchoke")
	}
	if _, err := s.conn.Write(peerwire.Interested()); err != nil {
		return xerrors.Wrap(xerrors.ErrIOFailure, "sending interested")
	}
	return nil
}

// ExtensionHandshake performs the BEP 10 extended handshake (spec.md §4.4),
// recording the peer's ut_metadata extension id and advertised metadata
// size. Returns ErrUnsupported if the peer did not advertise extensions at
// the BitTorrent handshake.
func (s *Session) ExtensionHandshake(ourExtensionID uint8) error {
	if !s.Extended {
		return xerrors.Wrap(xerrors.ErrUnsupported, "peer does not support BEP 10 extensions")
	}

	payload := bencode.Encode(bencode.NewDict(map[string]*bencode.Value{
		"m": bencode.NewDict(map[string]*bencode.Value{
			"ut_metadata": bencode.NewInt(int64(ourExtensionID)),
		}),
	}))
	if _, err := s.conn.Write(peerwire.Extended(0, payload)); err != nil {
		return xerrors.Wrap(xerrors.ErrIOFailure, "sending extension handshake")
	}

	s.conn.SetDeadline(time.Now().Add(ReadTimeout))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := peerwire.ReadNonKeepAlive(s.conn)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrIOFailure, "reading extension handshake reply")
	}
	if msg.ID != peerwire.MsgExtended || len(msg.Payload) == 0 || msg.Payload[0] != 0 {
		return xerrors.Wrap(xerrors.ErrProtocolViolation, "expected extension handshake reply")
	}

	v, _, err := bencode.Decode(msg.Payload[1:])
	if err != nil {
		return xerrors.Wrap(err, "decoding extension handshake payload")
	}
	m := v.GetDict("m")
	if m == nil {
		return xerrors.Wrap(xerrors.ErrProtocolViolation, "extension handshake missing \"m\" dictionary")
	}
	utID := m.GetDict("ut_metadata")
	if utID == nil {
		return xerrors.Wrap(xerrors.ErrUnsupported, "peer does not advertise ut_metadata")
	}
	s.UtMetadataID = uint8(utID.Int)
	s.hasExtensionID = true

	if size := v.GetDict("metadata_size"); size != nil {
		s.MetadataSize = size.Int
	}
	return nil
}

// HasUtMetadata reports whether ExtensionHandshake recorded a usable
// ut_metadata extension id.
func (s *Session) HasUtMetadata() bool {
	return s.hasExtensionID
}

// Conn exposes the underlying connection for the piece downloader, which
// needs direct read/write/deadline access during a download.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// ApplyMessage applies choke/unchoke/have state updates from a message read
// by a caller outside this package (e.g. a wait-for-unchoke loop that isn't
// itself downloading a piece yet). Message types it doesn't recognize are
// left to the caller.
func (s *Session) ApplyMessage(msg *peerwire.Message) error {
	return s.handle(msg)
}

// handle applies choke/unchoke/have state updates from a just-read message.
// Unknown extension subtypes and other message types are ignored, per
// spec.md §4.4's failure conditions.
func (s *Session) handle(msg *peerwire.Message) error {
	switch msg.ID {
	case peerwire.MsgChoke:
		s.Choked = true
	case peerwire.MsgUnchoke:
		s.Choked = false
	case peerwire.MsgHave:
		index, err := peerwire.ParseHave(msg.Payload)
		if err != nil {
			return err
		}
		s.Bitfield.Set(int(index))
	}
	return nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
