// Package tracker implements BEP-3 HTTP announce and a best-effort
// BEP-15 UDP announce against a torrent's tracker.
package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"
	"github.com/sirupsen/logrus"

	"github.com/ash-leech/mybittorrent/internal/metainfo"
	"github.com/ash-leech/mybittorrent/internal/peerwire"
)

// Error wraps a tracker transport or protocol failure.
type Error struct {
	URL string
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tracker: %s (%s): %v", e.Msg, e.URL, e.Err)
	}
	return fmt.Sprintf("tracker: %s (%s)", e.Msg, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a decoded tracker announce response.
type Response struct {
	Interval int
	Peers    []peerwire.PeerAddress
}

type httpResponse struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

var log = logrus.WithField("component", "tracker")

// Announce contacts t.Announce and returns the decoded interval and
// peer list. HTTP and HTTPS trackers use BEP-3; udp:// trackers
// attempt the best-effort BEP-15 path in udp.go. Any other scheme is
// unsupported.
func Announce(t *metainfo.Torrent, peerID [20]byte, port uint16) (*Response, error) {
	u, err := url.Parse(t.Announce)
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "malformed tracker URL", Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		return announceHTTP(t, u, peerID, port)
	case "udp":
		return announceUDP(t, u, peerID, port)
	default:
		return nil, &Error{URL: t.Announce, Msg: fmt.Sprintf("unsupported tracker scheme %q", u.Scheme)}
	}
}

func buildTrackerURL(t *metainfo.Torrent, base *url.URL, peerID [20]byte, port uint16) string {
	params := url.Values{
		"port":       []string{strconv.Itoa(int(port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"compact":    []string{"1"},
		"left":       []string{strconv.FormatInt(t.Info.TotalLength(), 10)},
	}
	u := *base
	u.RawQuery = params.Encode()
	u.RawQuery += "&info_hash=" + percentEncode(t.InfoHash[:])
	u.RawQuery += "&peer_id=" + percentEncode(peerID[:])
	return u.String()
}

// percentEncode emits every raw byte as %XX uppercase hex. A generic
// url.Values encoder would treat an already-escaped info_hash/peer_id
// literally and double-encode it, so these two parameters are appended
// to the query string by hand instead of going through url.Values.
func percentEncode(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, '%', hexDigits[c>>4], hexDigits[c&0xF])
	}
	return string(out)
}

func announceHTTP(t *metainfo.Torrent, u *url.URL, peerID [20]byte, port uint16) (*Response, error) {
	announceURL := buildTrackerURL(t, u, peerID, port)
	log.WithField("url", announceURL).Debug("sending HTTP announce")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(announceURL)
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{URL: t.Announce, Msg: fmt.Sprintf("tracker returned HTTP %d", resp.StatusCode)}
	}

	var hr httpResponse
	if err := bencode.Unmarshal(resp.Body, &hr); err != nil {
		return nil, &Error{URL: t.Announce, Msg: "malformed tracker response", Err: err}
	}

	peers, err := peerwire.UnmarshalCompactPeers([]byte(hr.Peers))
	if err != nil {
		return nil, &Error{URL: t.Announce, Msg: "malformed compact peer list", Err: err}
	}

	return &Response{Interval: hr.Interval, Peers: peers}, nil
}
