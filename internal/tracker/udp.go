package tracker

import (
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"net"
	"net/url"
	"time"

	"github.com/ash-leech/mybittorrent/internal/metainfo"
	"github.com/ash-leech/mybittorrent/internal/peerwire"
)

const (
	udpProtocolID      = 0x41727101980
	udpActionConnect   = 0
	udpActionAnnounce  = 1
	udpConnectAttempts = 3
)

// announceUDP performs the best-effort BEP-15 Connect/Announce
// exchange. It is conformant to return an error for trackers that
// cannot be reached or whose responses don't parse; it does not need
// to support every UDP tracker extension.
func announceUDP(t *metainfo.Torrent, u *url.URL, peerID [20]byte, port uint16) (*Response, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "resolving UDP tracker address", Err: err}
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "dialing UDP tracker", Err: err}
	}
	defer conn.Close()

	connectionID, err := udpConnect(conn)
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "UDP connect failed", Err: err}
	}

	return udpAnnounceOnce(conn, connectionID, t, peerID, port)
}

func udpConnect(conn *net.UDPConn) (uint64, error) {
	transactionID := mrand.Uint32()

	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(req[12:16], transactionID)

	var lastErr error
	for attempt := 0; attempt < udpConnectAttempts; attempt++ {
		conn.SetDeadline(time.Now().Add(time.Duration(5+attempt*2) * time.Second))

		if _, err := conn.Write(req); err != nil {
			lastErr = err
			continue
		}

		resp := make([]byte, 16)
		n, err := conn.Read(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if n < 16 {
			lastErr = fmt.Errorf("short connect response: %d bytes", n)
			continue
		}
		if action := binary.BigEndian.Uint32(resp[0:4]); action != udpActionConnect {
			return 0, fmt.Errorf("unexpected connect action %d", action)
		}
		if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
			return 0, fmt.Errorf("transaction id mismatch")
		}
		return binary.BigEndian.Uint64(resp[8:16]), nil
	}
	return 0, lastErr
}

func udpAnnounceOnce(conn *net.UDPConn, connectionID uint64, t *metainfo.Torrent, peerID [20]byte, port uint16) (*Response, error) {
	transactionID := mrand.Uint32()

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connectionID)
	binary.BigEndian.PutUint32(req[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], transactionID)
	copy(req[16:36], t.InfoHash[:])
	copy(req[36:56], peerID[:])
	binary.BigEndian.PutUint64(req[56:64], 0)                               // downloaded
	binary.BigEndian.PutUint64(req[64:72], uint64(t.Info.TotalLength()))    // left
	binary.BigEndian.PutUint64(req[72:80], 0)                               // uploaded
	binary.BigEndian.PutUint32(req[80:84], 2)                               // event: started
	binary.BigEndian.PutUint32(req[84:88], 0)                               // ip: default
	binary.BigEndian.PutUint32(req[88:92], mrand.Uint32())                  // key
	binary.BigEndian.PutUint32(req[92:96], 0xFFFFFFFF)                      // num_want: default
	binary.BigEndian.PutUint16(req[96:98], port)

	conn.SetDeadline(time.Now().Add(15 * time.Second))
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("sending announce: %w", err)
	}

	resp := make([]byte, 20+6*128)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("reading announce response: %w", err)
	}
	if n < 20 {
		return nil, fmt.Errorf("short announce response: %d bytes", n)
	}
	if action := binary.BigEndian.Uint32(resp[0:4]); action != udpActionAnnounce {
		return nil, fmt.Errorf("unexpected announce action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return nil, fmt.Errorf("transaction id mismatch")
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	peers, err := peerwire.UnmarshalCompactPeers(resp[20:n])
	if err != nil {
		return nil, fmt.Errorf("parsing compact peer list: %w", err)
	}
	return &Response{Interval: interval, Peers: peers}, nil
}
