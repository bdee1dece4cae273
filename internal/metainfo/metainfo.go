// Package metainfo parses .torrent files into a typed Torrent and
// computes the infohash that identifies it to trackers and peers.
package metainfo

import (
	"bytes"
	"fmt"
	"io"

	bencode "github.com/jackpal/bencode-go"

	rawbencode "github.com/ash-leech/mybittorrent/internal/bencode"
	"github.com/ash-leech/mybittorrent/internal/hashutil"
)

// Error reports a missing or mistyped required metainfo field.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("metainfo: field %q: %s", e.Field, e.Msg)
}

// FileEntry is one entry of a multi-file torrent's "files" list.
// Metainfo parsing supports it; the download path (§4.5) does not.
type FileEntry struct {
	Length int64
	Path   []string
}

type bencodeFileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// bencodeInfo mirrors the wire layout of the "info" sub-dictionary for
// decoding only. jackpal/bencode-go's struct encoder writes a tag
// string verbatim as the dict key and has no concept of "omitempty",
// so this struct is never marshaled back to bytes: computeInfoHash
// re-decodes the raw file with internal/bencode instead, which does
// sort keys and omit nothing, to get the canonical bytes the infohash
// is defined over.
type bencodeInfo struct {
	Name        string              `bencode:"name"`
	PieceLength int64               `bencode:"piece length"`
	Pieces      string              `bencode:"pieces"`
	Length      int64               `bencode:"length,omitempty"`
	Files       []bencodeFileEntry  `bencode:"files,omitempty"`
}

type bencodeTorrent struct {
	Announce string      `bencode:"announce"`
	Info     bencodeInfo `bencode:"info"`
}

// TorrentInfo is the parsed "info" sub-dictionary.
type TorrentInfo struct {
	Name        string
	PieceLength int64
	Pieces      []byte // raw concatenated 20-byte SHA-1 digests
	Length      int64  // single-file mode; 0 if Files is set
	Files       []FileEntry
}

// Torrent is a fully parsed .torrent file.
type Torrent struct {
	Announce string
	Info     TorrentInfo
	InfoHash [20]byte
}

// Piece describes one piece's index and byte length within the
// concatenated payload.
type Piece struct {
	Index  int
	Length int64
}

// Parse reads a bencoded .torrent file and returns its typed form,
// including the computed infohash.
func Parse(r io.Reader) (*Torrent, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading torrent file: %w", err)
	}

	var bto bencodeTorrent
	if err := bencode.Unmarshal(bytes.NewReader(raw), &bto); err != nil {
		return nil, fmt.Errorf("metainfo: malformed torrent file: %w", err)
	}

	if bto.Announce == "" {
		return nil, &Error{Field: "announce", Msg: "missing or empty"}
	}
	if bto.Info.Name == "" {
		return nil, &Error{Field: "info.name", Msg: "missing or empty"}
	}
	if bto.Info.PieceLength <= 0 {
		return nil, &Error{Field: "info.piece length", Msg: "must be positive"}
	}
	if len(bto.Info.Pieces)%hashutil.Size != 0 {
		return nil, &Error{Field: "info.pieces", Msg: fmt.Sprintf("length %d is not a multiple of %d", len(bto.Info.Pieces), hashutil.Size)}
	}
	hasLength := bto.Info.Length > 0
	hasFiles := len(bto.Info.Files) > 0
	if hasLength == hasFiles {
		return nil, &Error{Field: "info", Msg: "exactly one of length or files must be present"}
	}

	infoHash, err := computeInfoHash(raw)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, len(bto.Info.Files))
	for i, f := range bto.Info.Files {
		files[i] = FileEntry{Length: f.Length, Path: f.Path}
	}

	return &Torrent{
		Announce: bto.Announce,
		InfoHash: infoHash,
		Info: TorrentInfo{
			Name:        bto.Info.Name,
			PieceLength: bto.Info.PieceLength,
			Pieces:      []byte(bto.Info.Pieces),
			Length:      bto.Info.Length,
			Files:       files,
		},
	}, nil
}

// computeInfoHash re-decodes raw with the from-scratch bencode codec
// and re-encodes just the "info" sub-dictionary to get its canonical,
// sorted-key bytes, then hashes those. Going through internal/bencode
// rather than jackpal/bencode-go's Marshal is required here: Marshal
// has no "omitempty" support and would emit literal tag strings
// (including ",omitempty") as dict keys, corrupting the hash.
func computeInfoHash(raw []byte) ([20]byte, error) {
	root, _, err := rawbencode.Decode(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("metainfo: re-decoding torrent file: %w", err)
	}
	info, ok := root.DictGet("info")
	if !ok {
		return [20]byte{}, &Error{Field: "info", Msg: "missing"}
	}
	return hashutil.SHA1(rawbencode.Encode(info)), nil
}

// TotalLength returns the single-file payload length. It is only
// meaningful when Files is empty; the core download path requires
// single-file torrents per spec §3.
func (t *TorrentInfo) TotalLength() int64 {
	return t.Length
}

// PieceCount returns the number of 20-byte digests in Pieces, which
// for a well-formed torrent equals ceil(TotalLength / PieceLength).
func (t *TorrentInfo) PieceCount() int {
	return len(t.Pieces) / hashutil.Size
}

// PieceHash returns the expected 20-byte SHA-1 digest for piece index.
func (t *TorrentInfo) PieceHash(index int) [20]byte {
	var h [20]byte
	copy(h[:], t.Pieces[index*hashutil.Size:(index+1)*hashutil.Size])
	return h
}

// AllPieces enumerates Piece{index, length} for every piece, applying
// the last-piece length rule from spec §3.
func (t *TorrentInfo) AllPieces() []Piece {
	count := t.PieceCount()
	pieces := make([]Piece, count)
	for i := 0; i < count; i++ {
		length := t.PieceLength
		if i == count-1 {
			length = t.Length - t.PieceLength*int64(count-1)
		}
		pieces[i] = Piece{Index: i, Length: length}
	}
	return pieces
}
