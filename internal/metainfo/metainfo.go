// Package metainfo parses a .torrent file into the typed Metainfo/Info
// structures, computing the info-hash over the exact bytes of the info
// dictionary as it appeared in the file.
//
// Grounded in info.go's prettyBencodeInfo/splitPieces (trimmed to
// single-file, multi-file "files" support being a Non-goal) and
// torrentfile.go's top-level "announce" projection, rebuilt on top of
// internal/bencode's DecodeInfoSlice instead of inline byte accumulation.
package metainfo

import (
	"crypto/sha1"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/xerrors"
)

const hashLen = 20

// Info is the single-file info dictionary: name, piece length, the piece
// SHA-1 digests (split from the concatenated "pieces" string, one per
// piece), and total length.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      [][hashLen]byte
	Length      int64
}

// Metainfo is a fully parsed .torrent file.
type Metainfo struct {
	Announce string
	Info     Info
	InfoHash [hashLen]byte
	// CreatedBy and Comment are optional passthrough fields, filled when the
	// file carries them; no CLI command prints them. spec.md's Metainfo type
	// does not require them.
	CreatedBy string
	Comment   string
}

// NumPieces returns the piece count implied by the pieces digest table.
func (i Info) NumPieces() int {
	return len(i.Pieces)
}

// PieceLen returns the length of the piece at index, accounting for a shorter
// final piece (spec.md §4.5 edge case).
func (i Info) PieceLen(index int) int64 {
	if index == len(i.Pieces)-1 {
		if rem := i.Length % i.PieceLength; rem != 0 {
			return rem
		}
	}
	return i.PieceLength
}

// Parse decodes raw .torrent bytes into a Metainfo, validating the
// invariants named in spec.md §3: non-empty name, piece_length >= 16384,
// pieces length divisible by 20, and
// ceil(length/piece_length) == pieces.len()/20.
func Parse(data []byte) (*Metainfo, error) {
	root, infoStart, infoEnd, err := bencode.DecodeInfoSlice(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "parsing metainfo")
	}
	if root.Kind != bencode.KindDict {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "metainfo is not a dictionary")
	}

	announce := root.GetDict("announce")
	if announce == nil || len(announce.Str) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "metainfo missing announce")
	}

	infoHash := sha1.Sum(data[infoStart:infoEnd])

	info, err := parseInfo(root.GetDict("info"))
	if err != nil {
		return nil, err
	}

	m := &Metainfo{
		Announce: announce.String(),
		Info:     *info,
		InfoHash: infoHash,
	}
	if cb := root.GetDict("created by"); cb != nil {
		m.CreatedBy = cb.String()
	}
	if c := root.GetDict("comment"); c != nil {
		m.Comment = c.String()
	}
	return m, nil
}

// ParseInfo decodes just a bencoded info dictionary (not wrapped in the
// outer metainfo document) into an Info, computing infoHash as the SHA-1 of
// the exact infoBytes given. Used by the magnet/ut_metadata flow, where the
// info dictionary is reconstructed from peers rather than read from a file.
func ParseInfo(infoBytes []byte) (*Info, [hashLen]byte, error) {
	v, rest, err := bencode.Decode(infoBytes)
	if err != nil {
		return nil, [hashLen]byte{}, xerrors.Wrap(err, "parsing info dictionary")
	}
	if len(rest) != 0 {
		return nil, [hashLen]byte{}, xerrors.Wrap(xerrors.ErrMalformedInput, "trailing bytes after info dictionary")
	}
	info, err := parseInfo(v)
	if err != nil {
		return nil, [hashLen]byte{}, err
	}
	return info, sha1.Sum(infoBytes), nil
}

func parseInfo(v *bencode.Value) (*Info, error) {
	if v == nil || v.Kind != bencode.KindDict {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "metainfo missing info dictionary")
	}

	name := v.GetDict("name")
	if name == nil || len(name.Str) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "info dictionary missing non-empty name")
	}

	pieceLength := v.GetDict("piece length")
	if pieceLength == nil || pieceLength.Int < 16384 {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "info dictionary has invalid piece length")
	}

	length := v.GetDict("length")
	if length == nil || length.Int <= 0 {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "info dictionary missing positive length (multi-file torrents are unsupported)")
	}

	piecesVal := v.GetDict("pieces")
	if piecesVal == nil || len(piecesVal.Str)%hashLen != 0 {
		return nil, xerrors.Wrap(xerrors.ErrMalformedInput, "info dictionary pieces length not a multiple of 20")
	}
	pieces := splitPieces(piecesVal.Str)

	expected := (length.Int + pieceLength.Int - 1) / pieceLength.Int
	if int64(len(pieces)) != expected {
		return nil, xerrors.Wrapf(xerrors.ErrMalformedInput,
			"piece count %d does not match ceil(length/piece_length) = %d", len(pieces), expected)
	}

	return &Info{
		Name:        name.String(),
		PieceLength: pieceLength.Int,
		Pieces:      pieces,
		Length:      length.Int,
	}, nil
}

func splitPieces(data []byte) [][hashLen]byte {
	n := len(data) / hashLen
	out := make([][hashLen]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], data[i*hashLen:(i+1)*hashLen])
	}
	return out
}
