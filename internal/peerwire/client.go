package peerwire

import (
	"bytes"
	"fmt"
	"net"
	"time"
)

// MaxInFlight caps outstanding pipelined Requests per peer.
const MaxInFlight = 5

// ConnectionState tracks the local side's choke/interest state for one
// outbound peer session. The initial state is {Choked, NotInterested}.
type ConnectionState struct {
	Choked     bool
	Interested bool
}

// Client is one outbound peer session: a live TCP connection plus the
// local view of the remote's choke state and bitfield. A Client is
// owned by a single worker goroutine; nothing about it is safe to
// share across goroutines.
type Client struct {
	Conn     net.Conn
	State    ConnectionState
	Bitfield Bitfield
	PeerID   [20]byte
	infoHash [20]byte
	addr     PeerAddress
}

// Dial completes the TCP connect, handshake, and initial bitfield
// exchange with peer, per spec §4.4's Start -> Handshaken transition.
func Dial(addr PeerAddress, localPeerID, infoHash [20]byte) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), 3*time.Second)
	if err != nil {
		return nil, err
	}

	remote, err := handshake(conn, localPeerID, infoHash)
	if err != nil {
		conn.Close()
		return nil, err
	}

	bf, err := receiveBitfield(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{
		Conn:     conn,
		State:    ConnectionState{Choked: true, Interested: false},
		Bitfield: bf,
		PeerID:   remote.PeerID,
		infoHash: infoHash,
		addr:     addr,
	}, nil
}

func handshake(conn net.Conn, localPeerID, infoHash [20]byte) (*Handshake, error) {
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetDeadline(time.Time{})

	req := NewHandshake(infoHash, localPeerID)
	if _, err := conn.Write(req.Serialize()); err != nil {
		return nil, err
	}

	resp, err := ReadHandshake(conn)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(resp.InfoHash[:], infoHash[:]) {
		return nil, &ProtocolError{Msg: fmt.Sprintf("infohash mismatch: expected %x, got %x", infoHash, resp.InfoHash)}
	}
	return resp, nil
}

// receiveBitfield reads the first message after a handshake. Per
// spec §4.4 this is conventionally a Bitfield. If the first message is
// a keep-alive or any other message, that message is discarded and an
// empty bitfield is returned rather than failing the whole session. If
// nothing arrives within the 5-second deadline, the read error is
// returned.
func receiveBitfield(conn net.Conn) (Bitfield, error) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	msg, err := ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return Bitfield{}, nil
	}
	if msg.ID != MsgBitfield {
		return Bitfield{}, nil
	}
	return Bitfield(msg.Payload), nil
}

// Read reads the next framed message on this connection.
func (c *Client) Read() (*Message, error) {
	return ReadMessage(c.Conn)
}

func (c *Client) send(msg *Message) error {
	_, err := c.Conn.Write(msg.Serialize())
	return err
}

// SendRequest sends a Request for the given block.
func (c *Client) SendRequest(index, begin, length int) error {
	return c.send(FormatRequest(index, begin, length))
}

// SendInterested sends Interested and updates local state.
func (c *Client) SendInterested() error {
	if err := c.send(&Message{ID: MsgInterested}); err != nil {
		return err
	}
	c.State.Interested = true
	return nil
}

// SendNotInterested sends NotInterested and updates local state.
func (c *Client) SendNotInterested() error {
	if err := c.send(&Message{ID: MsgNotInterested}); err != nil {
		return err
	}
	c.State.Interested = false
	return nil
}

// SendUnchoke sends Unchoke (this client does not upload, but some
// trackers' seed peers expect an unchoke handshake courtesy).
func (c *Client) SendUnchoke() error {
	return c.send(&Message{ID: MsgUnchoke})
}

// SendHave announces that index has been fully downloaded and
// verified.
func (c *Client) SendHave(index int) error {
	return c.send(FormatHave(index))
}

// MarkHave records that the remote peer now has index, growing the
// local copy of its bitfield if needed. Whether a Have message should
// refresh the bitfield is spec-undetermined; this client chooses to
// act on it so a peer that starts out empty still becomes usable mid-session.
func (c *Client) MarkHave(index int) {
	needed := index/8 + 1
	if len(c.Bitfield) < needed {
		grown := make(Bitfield, needed)
		copy(grown, c.Bitfield)
		c.Bitfield = grown
	}
	c.Bitfield.Set(index)
}
