// Package peerwire implements the BitTorrent peer wire protocol: the
// 68-byte handshake and the length-prefixed message framing layered on top
// of it.
//
// Grounded in torrent/handshake.go's Handshake/ParseHandshakeExtensions
// (DHT support, BEP 5, is dropped as a Non-goal; only the BEP 10 extension
// bit is kept) and messaging/handshake.go's GenerateHandshake.
package peerwire

import "github.com/andre-silva/leech/internal/xerrors"

// Protocol is the BitTorrent v1 protocol string sent in the handshake.
const Protocol = "BitTorrent protocol"

// HandshakeSize is the wire size of a handshake message.
const HandshakeSize = 1 + len(Protocol) + 8 + 20 + 20

// extendedBit is reserved byte 5 (0-indexed), bit 0x10: BEP 10 extended
// messaging support.
const extendedBit = 0x10

// Handshake is a decoded 68-byte handshake.
type Handshake struct {
	InfoHash           [20]byte
	PeerID             [20]byte
	SupportsExtensions bool
}

// BuildHandshake serializes our own handshake, advertising BEP 10 extended
// messaging support but not DHT (BEP 5 is out of scope).
func BuildHandshake(infoHash, peerID [20]byte) []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(len(Protocol))
	copy(buf[1:], Protocol)
	buf[1+len(Protocol)+5] = extendedBit
	copy(buf[1+len(Protocol)+8:], infoHash[:])
	copy(buf[1+len(Protocol)+8+20:], peerID[:])
	return buf
}

// ParseHandshake decodes a peer's handshake response, validating the
// protocol string length and the caller-supplied expected info hash.
func ParseHandshake(buf []byte, expectedInfoHash [20]byte) (*Handshake, error) {
	if len(buf) < HandshakeSize {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "handshake shorter than 68 bytes")
	}
	protocolLen := int(buf[0])
	if 1+protocolLen+8+20+20 != HandshakeSize || string(buf[1:1+protocolLen]) != Protocol {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "unexpected handshake protocol string")
	}

	reserved := buf[1+protocolLen : 1+protocolLen+8]

	var infoHash, peerID [20]byte
	copy(infoHash[:], buf[1+protocolLen+8:1+protocolLen+8+20])
	copy(peerID[:], buf[1+protocolLen+8+20:HandshakeSize])

	if infoHash != expectedInfoHash {
		return nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "handshake info hash does not match")
	}

	return &Handshake{
		InfoHash:           infoHash,
		PeerID:             peerID,
		SupportsExtensions: reserved[5]&extendedBit != 0,
	}, nil
}
