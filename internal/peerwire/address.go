// Package peerwire implements the BitTorrent peer-wire protocol:
// handshake framing, length-prefixed message framing, bitfields, and
// per-peer connection state.
package peerwire

import (
	"fmt"
	"net"
	"strconv"
)

// PeerAddress is an IPv4 address and port decoded from a tracker's
// compact peer list.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// ParsePeerAddress parses a "host:port" string as used on the
// handshake subcommand's command line.
func ParsePeerAddress(s string) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("peerwire: invalid address %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return PeerAddress{}, fmt.Errorf("peerwire: invalid IP %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("peerwire: invalid port %q: %w", portStr, err)
	}
	return PeerAddress{IP: ip, Port: uint16(port)}, nil
}

// UnmarshalCompactPeers decodes BEP-23 compact peers: 6 bytes each,
// 4-byte IPv4 followed by a big-endian port.
func UnmarshalCompactPeers(peersBin []byte) ([]PeerAddress, error) {
	const peerSize = 6
	if len(peersBin)%peerSize != 0 {
		return nil, fmt.Errorf("peerwire: compact peer list length %d is not a multiple of %d", len(peersBin), peerSize)
	}
	count := len(peersBin) / peerSize
	peers := make([]PeerAddress, count)
	for i := 0; i < count; i++ {
		offset := i * peerSize
		ip := make(net.IP, 4)
		copy(ip, peersBin[offset:offset+4])
		peers[i] = PeerAddress{
			IP:   ip,
			Port: uint16(peersBin[offset+4])<<8 | uint16(peersBin[offset+5]),
		}
	}
	return peers, nil
}
