// Package bencode implements the bencoding grammar used for metainfo files,
// tracker responses, and BEP 10 extension payloads: signed integers,
// byte strings, lists, and dictionaries with sorted keys on encode.
//
// Grounded in torrent/bencode.go's recursive-descent decoder, generalized
// into a public tagged Value and a single-pass decode that can also track
// byte offsets, so that a caller can ask for the exact byte range a sub-value occupied in the
// source — the trick the teacher used inline (accumulating "info" bytes
// into a side buffer while decoding) to compute the info-hash over the
// original bytes rather than a re-encoded form.
package bencode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/andre-silva/leech/internal/xerrors"
)

// Kind tags the four bencode grammar forms.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

// Value is the tagged variant described by the data model: exactly one of
// Int, Str, List, or Dict is meaningful, selected by Kind. DictOrder
// preserves the key order seen on decode, for round-tripping a
// non-canonical source faithfully if ever needed; Encode always ignores it
// and sorts keys, since encode must be canonical.
type Value struct {
	Kind      Kind
	Int       int64
	Str       []byte
	List      []*Value
	Dict      map[string]*Value
	DictOrder []string
}

// String returns v.Str as a Go string, for the common case of bencoded text
// fields (names, URLs, pieces digests).
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	return string(v.Str)
}

// GetDict looks up a key in a dictionary Value, returning nil if v is not a
// dictionary or the key is absent.
func (v *Value) GetDict(key string) *Value {
	if v == nil || v.Kind != KindDict {
		return nil
	}
	return v.Dict[key]
}

// NewInt, NewString, NewList, and NewDict build Values for Encode, used by
// callers that construct bencode (e.g. extension message payloads) rather
// than decoding it.
func NewInt(n int64) *Value { return &Value{Kind: KindInt, Int: n} }

func NewString(s []byte) *Value { return &Value{Kind: KindString, Str: s} }

func NewList(items ...*Value) *Value { return &Value{Kind: KindList, List: items} }

func NewDict(m map[string]*Value) *Value { return &Value{Kind: KindDict, Dict: m} }

// Decode parses a single bencoded value from the front of data and returns
// it along with the unconsumed remainder, per spec.md's
// decode(bytes) -> (BencodeValue, rest).
func Decode(data []byte) (*Value, []byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	v, err := decode(r, nil)
	if err != nil {
		return nil, nil, err
	}
	rest, _ := io.ReadAll(r)
	return v, rest, nil
}

// DecodeInfoSlice decodes a metainfo dictionary and additionally returns the
// exact byte range [start, end) of the "info" sub-dictionary as it appeared
// in data, so the info-hash can be computed over the original bytes rather
// than a re-encoded form (spec.md §4.1, §9).
func DecodeInfoSlice(data []byte) (root *Value, infoStart, infoEnd int, err error) {
	tr := &trackingReader{r: bufio.NewReader(bytes.NewReader(data)), infoStart: -1, infoEnd: -1}
	root, err = decode(tr.r, tr)
	if err != nil {
		return nil, 0, 0, err
	}
	if tr.infoStart < 0 || tr.infoEnd < 0 {
		return nil, 0, 0, xerrors.Wrap(xerrors.ErrMalformedInput, "metainfo has no info dictionary")
	}
	return root, tr.infoStart, tr.infoEnd, nil
}

// trackingReader records how many bytes have been consumed from the
// original buffer so decode can report the absolute offsets of the "info"
// value once it is found, mirroring the teacher's side-buffer approach but
// recording offsets instead of copying bytes.
type trackingReader struct {
	r         *bufio.Reader
	consumed  int
	depth     int
	infoStart int
	infoEnd   int
}

// decode is the recursive-descent parser. tracker, if non-nil, is used only
// by the top-level dictionary decode to record the "info" value's byte
// range; nested calls propagate it unchanged so a nested "info" key (there
// is none in valid metainfo, but grammar doesn't forbid it) does not
// confuse the outer tracker — only a dictionary's direct "info" key is
// tracked, matching the teacher's behavior of entering info-capture mode
// exactly when the key string is "info".
func decode(r *bufio.Reader, tracker *trackingReader) (*Value, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "unexpected EOF")
	}
	if tracker != nil {
		tracker.consumed++
	}
	switch {
	case b == 'i':
		return decodeInt(r, tracker)
	case b == 'l':
		return decodeList(r, tracker)
	case b == 'd':
		return decodeDict(r, tracker)
	case b >= '0' && b <= '9':
		r.UnreadByte()
		if tracker != nil {
			tracker.consumed--
		}
		return decodeString(r, tracker)
	default:
		return nil, xerrors.Wrapf(xerrors.ErrMalformedInput, "unexpected byte %q", b)
	}
}

func decodeInt(r *bufio.Reader, tracker *trackingReader) (*Value, error) {
	s, err := r.ReadString('e')
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "unterminated integer")
	}
	if tracker != nil {
		tracker.consumed += len(s)
	}
	s = s[:len(s)-1]
	if s == "" {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "empty integer")
	}
	if s == "-0" {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "negative zero")
	}
	if (s[0] == '0' && len(s) > 1) || (len(s) > 2 && s[0] == '-' && s[1] == '0') {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "leading zero in integer")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrMalformedInput, "invalid integer %q", s)
	}
	return &Value{Kind: KindInt, Int: n}, nil
}

func decodeString(r *bufio.Reader, tracker *trackingReader) (*Value, error) {
	lenStr, err := r.ReadString(':')
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "unterminated string length")
	}
	if tracker != nil {
		tracker.consumed += len(lenStr)
	}
	lenStr = lenStr[:len(lenStr)-1]
	n, err := strconv.ParseUint(lenStr, 10, 63)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrMalformedInput, "invalid string length %q", lenStr)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "truncated string")
	}
	if tracker != nil {
		tracker.consumed += len(buf)
	}
	return &Value{Kind: KindString, Str: buf}, nil
}

func decodeList(r *bufio.Reader, tracker *trackingReader) (*Value, error) {
	var items []*Value
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "unterminated list")
		}
		if tracker != nil {
			tracker.consumed++
		}
		if b == 'e' {
			return &Value{Kind: KindList, List: items}, nil
		}
		r.UnreadByte()
		if tracker != nil {
			tracker.consumed--
		}
		v, err := decode(r, tracker)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}

func decodeDict(r *bufio.Reader, tracker *trackingReader) (*Value, error) {
	if tracker != nil {
		tracker.depth++
		defer func() { tracker.depth-- }()
	}
	dict := make(map[string]*Value)
	var order []string
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "unterminated dictionary")
		}
		if tracker != nil {
			tracker.consumed++
		}
		if b == 'e' {
			return &Value{Kind: KindDict, Dict: dict, DictOrder: order}, nil
		}
		r.UnreadByte()
		if tracker != nil {
			tracker.consumed--
		}

		keyVal, err := decode(r, tracker)
		if err != nil {
			return nil, err
		}
		if keyVal.Kind != KindString {
			return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "dictionary key is not a string")
		}
		key := string(keyVal.Str)

		var valStartOffset int
		if tracker != nil {
			valStartOffset = tracker.consumed
		}
		val, err := decode(r, tracker)
		if err != nil {
			return nil, err
		}
		if tracker != nil && tracker.depth == 1 && key == "info" {
			tracker.infoStart = valStartOffset
			tracker.infoEnd = tracker.consumed
		}

		dict[key] = val
		order = append(order, key)
	}
}

// Encode serializes v canonically: integers as ASCII decimal, strings
// length-prefixed, lists in order, and dictionary keys sorted bytewise
// ascending, per spec.md §4.1.
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

func encodeTo(buf *bytes.Buffer, v *Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.Write(v.Str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeTo(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeTo(buf, v.Dict[k])
		}
		buf.WriteByte('e')
	default:
		panic(fmt.Sprintf("bencode: invalid Kind %d", v.Kind))
	}
}
