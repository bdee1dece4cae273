package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies a peer-wire message per BEP-3.
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
	MsgCancel        MessageID = 8
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "Choke"
	case MsgUnchoke:
		return "Unchoke"
	case MsgInterested:
		return "Interested"
	case MsgNotInterested:
		return "NotInterested"
	case MsgHave:
		return "Have"
	case MsgBitfield:
		return "Bitfield"
	case MsgRequest:
		return "Request"
	case MsgPiece:
		return "Piece"
	case MsgCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(id))
	}
}

// Message is a length-prefix-framed peer message. A nil *Message
// represents a zero-length keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize renders m to its wire form: a big-endian u32 length
// prefix counting ID + Payload, followed by the ID byte and payload.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one framed message, blocking until the full frame
// (length prefix, then exactly length-1 payload bytes after the id
// byte) has arrived. It returns (nil, nil) for a keep-alive.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil // keep-alive
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ProtocolError{Msg: "reading message body", Err: err}
	}

	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// FormatHave builds a Have message.
func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// FormatRequest builds a Request message for the given piece index,
// block offset and length.
func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// ParsePiece extracts the piece index, begin offset, and block data
// from a Piece message, splicing the block into buf at begin.
func ParsePiece(expectedIndex int, buf []byte, msg *Message) (n int, err error) {
	if msg.ID != MsgPiece {
		return 0, &ProtocolError{Msg: fmt.Sprintf("expected Piece message, got %s", msg.ID)}
	}
	if len(msg.Payload) < 8 {
		return 0, &ProtocolError{Msg: fmt.Sprintf("piece payload too short: %d bytes", len(msg.Payload))}
	}
	index := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if index != expectedIndex {
		return 0, &ProtocolError{Msg: fmt.Sprintf("piece index mismatch: expected %d, got %d", expectedIndex, index)}
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin < 0 || begin >= len(buf) {
		return 0, &ProtocolError{Msg: fmt.Sprintf("piece begin %d out of range", begin)}
	}
	data := msg.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, &ProtocolError{Msg: fmt.Sprintf("piece data of length %d at begin %d overruns buffer of length %d", len(data), begin, len(buf))}
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// ParseHave extracts the piece index from a Have message.
func ParseHave(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, &ProtocolError{Msg: fmt.Sprintf("expected Have message, got %s", msg.ID)}
	}
	if len(msg.Payload) != 4 {
		return 0, &ProtocolError{Msg: fmt.Sprintf("have payload wrong length: %d bytes", len(msg.Payload))}
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
