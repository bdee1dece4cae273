package peerwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRequestSerialize(t *testing.T) {
	msg := FormatRequest(11, 163840, 16384)
	got := msg.Serialize()
	want := []byte{
		0x00, 0x00, 0x00, 0x0D, 0x06,
		0x00, 0x00, 0x00, 0x0B,
		0x00, 0x02, 0x80, 0x00,
		0x00, 0x00, 0x40, 0x00,
	}
	assert.Equal(t, want, got)
}

func TestHandshakeSerialize(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], []byte{1, 2, 3, 4})
	copy(peerID[:], []byte{5, 6, 7, 8})

	h := NewHandshake(infoHash, peerID)
	got := h.Serialize()

	assert.Equal(t, byte(19), got[0])
	assert.Equal(t, Pstr, string(got[1:20]))
	assert.Equal(t, make([]byte, 8), got[20:28])
	assert.Equal(t, infoHash[:], got[28:48])
	assert.Equal(t, peerID[:], got[48:68])
	assert.Len(t, got, HandshakeLen)
}

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], bytes.Repeat([]byte{0xAB}, 20))
	copy(peerID[:], bytes.Repeat([]byte{0xCD}, 20))

	h := NewHandshake(infoHash, peerID)
	buf := bytes.NewReader(h.Serialize())

	got, err := ReadHandshake(buf)
	require.NoError(t, err)
	assert.Equal(t, Pstr, got.Pstr)
	assert.Equal(t, infoHash, got.InfoHash)
	assert.Equal(t, peerID, got.PeerID)
}

func TestReadMessagePiece(t *testing.T) {
	frame := []byte{
		0x00, 0x00, 0x00, 0x15, 0x07,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x02, 0x80, 0x00,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C,
	}
	msg, err := ReadMessage(bytes.NewReader(frame))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MsgPiece, msg.ID)

	buf := make([]byte, 163840+12)
	n, err := ParsePiece(1, buf, msg)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, buf[163840:163840+12])
}

func TestReadMessageBitfield(t *testing.T) {
	frame := []byte{0x00, 0x00, 0x00, 0x04, 0x05, 0xFF, 0xF8, 0x80}
	msg, err := ReadMessage(bytes.NewReader(frame))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MsgBitfield, msg.ID)
	assert.Equal(t, []byte{0xFF, 0xF8, 0x80}, msg.Payload)

	bf := Bitfield(msg.Payload)
	for i := 0; i < 13; i++ {
		assert.Truef(t, bf.Has(i), "expected piece %d available", i)
	}
	for i := 13; i < 16; i++ {
		assert.Falsef(t, bf.Has(i), "expected piece %d unavailable", i)
	}
	// 0x80 in the third byte is the MSB, which marks piece 16.
	assert.True(t, bf.Has(16), "expected piece 16 available")
	for i := 17; i < 24; i++ {
		assert.Falsef(t, bf.Has(i), "expected piece %d unavailable", i)
	}
}

func TestReadMessageKeepAlive(t *testing.T) {
	msg, err := ReadMessage(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestBitfieldSet(t *testing.T) {
	bf := make(Bitfield, 2)
	bf.Set(0)
	bf.Set(15)
	assert.True(t, bf.Has(0))
	assert.True(t, bf.Has(15))
	assert.False(t, bf.Has(1))
}

func TestUnmarshalCompactPeers(t *testing.T) {
	data := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 1, 0x1A, 0xE2}
	peers, err := UnmarshalCompactPeers(data)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1", peers[0].IP.String())
	assert.EqualValues(t, 0x1AE1, peers[0].Port)
	assert.Equal(t, "10.0.0.1", peers[1].IP.String())
}

func TestUnmarshalCompactPeersBadLength(t *testing.T) {
	_, err := UnmarshalCompactPeers([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestBlocksForPieceLength(t *testing.T) {
	blocks := BlocksForPieceLength(32768)
	require.Len(t, blocks, 2)
	assert.Equal(t, Block{Begin: 0, Length: 16384}, blocks[0])
	assert.Equal(t, Block{Begin: 16384, Length: 16384}, blocks[1])

	last := BlocksForPieceLength(26527)
	var sum int
	for _, b := range last {
		assert.LessOrEqual(t, b.Length, BlockSize)
		sum += b.Length
	}
	assert.Equal(t, 26527, sum)
}
