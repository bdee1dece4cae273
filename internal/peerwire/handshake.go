package peerwire

import (
	"fmt"
	"io"
)

// Pstr is the fixed protocol identifier string sent in every
// handshake.
const Pstr = "BitTorrent protocol"

// HandshakeLen is the wire length of a handshake with the standard
// Pstr: 1 + 19 + 8 + 20 + 20.
const HandshakeLen = 1 + len(Pstr) + 8 + 20 + 20

// Handshake is the fixed 68-byte prologue exchanged before any
// messages flow on a peer connection.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake with the standard BitTorrent
// protocol string.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{Pstr: Pstr, InfoHash: infoHash, PeerID: peerID}
}

// Serialize renders the handshake to its wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	cursor := 1
	buf[0] = byte(len(h.Pstr))
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], make([]byte, 8)) // reserved
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads a handshake frame fully before returning,
// retrying partial reads as needed.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, &ProtocolError{Msg: "reading handshake pstrlen", Err: err}
	}
	pstrlen := int(lenBuf[0])
	if pstrlen == 0 {
		return nil, &ProtocolError{Msg: "handshake pstrlen is zero"}
	}

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, &ProtocolError{Msg: "reading handshake body", Err: err}
	}

	h := &Handshake{Pstr: string(rest[:pstrlen])}
	cursor := pstrlen + 8 // skip reserved bytes
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

// ProtocolError reports a malformed handshake or message frame.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peerwire: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("peerwire: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
