// Grounded in messaging/messages.go and messaging/messagetypes.go's
// readMessage/Read/serialise, extended with the request/piece/extended
// message types the teacher's trimmed-down messaging package never needed
// (its client reused torrent/client.go's own inline framing for those).
package peerwire

import (
	"encoding/binary"
	"io"

	"github.com/andre-silva/leech/internal/xerrors"
)

// MessageID identifies the nine message types spec.md §4.4 names.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgExtended      MessageID = 20
)

const maxMessageLen = 1 << 20 // generous upper bound; pieces are read in 16KiB blocks

// Message is a single framed peer message. Payload is nil for a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// IsKeepAlive reports whether m represents the zero-length keep-alive
// message (no ID, no payload).
func (m *Message) IsKeepAlive() bool {
	return m == nil
}

// ReadMessage reads one frame from r: a keep-alive returns (nil, nil).
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "reading message length prefix")
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLen {
		return nil, xerrors.Wrapf(xerrors.ErrProtocolViolation, "message length %d exceeds limit", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrIOFailure, "reading message body")
	}
	return &Message{ID: MessageID(buf[0]), Payload: buf[1:]}, nil
}

// ReadNonKeepAlive loops ReadMessage until a non-keep-alive frame arrives.
func ReadNonKeepAlive(r io.Reader) (*Message, error) {
	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// Encode serializes msg into its wire frame.
func Encode(id MessageID, payload []byte) []byte {
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// Interested returns a serialized interested message.
func Interested() []byte { return Encode(MsgInterested, nil) }

// Unchoke returns a serialized unchoke message.
func Unchoke() []byte { return Encode(MsgUnchoke, nil) }

// Request returns a serialized block request message.
func Request(index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:], index)
	binary.BigEndian.PutUint32(payload[4:], begin)
	binary.BigEndian.PutUint32(payload[8:], length)
	return Encode(MsgRequest, payload)
}

// Extended returns a serialized BEP 10 extended message: id 20, then the
// one-byte extension subtype, then the bencoded/raw payload.
func Extended(subtype byte, payload []byte) []byte {
	body := make([]byte, 1+len(payload))
	body[0] = subtype
	copy(body[1:], payload)
	return Encode(MsgExtended, body)
}

// ParsePiece extracts (index, begin, block) from a piece message's payload.
func ParsePiece(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, xerrors.Wrap(xerrors.ErrProtocolViolation, "piece message too short")
	}
	index = binary.BigEndian.Uint32(payload[0:])
	begin = binary.BigEndian.Uint32(payload[4:])
	return index, begin, payload[8:], nil
}

// ParseHave extracts the piece index from a have message's payload.
func ParseHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, xerrors.Wrap(xerrors.ErrProtocolViolation, "have message must carry exactly 4 bytes")
	}
	return binary.BigEndian.Uint32(payload), nil
}
