package tracker

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ash-leech/mybittorrent/internal/metainfo"
)

func testTorrent(announce string) *metainfo.Torrent {
	return &metainfo.Torrent{
		Announce: announce,
		InfoHash: [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		Info: metainfo.TorrentInfo{
			Name:        "test",
			PieceLength: 32768,
			Length:      100000,
		},
	}
}

func TestAnnounceHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "info_hash=%01%02%03")
		assert.Contains(t, r.URL.RawQuery, "compact=1")
		w.Write([]byte("d8:intervali1800e5:peers12:" + string([]byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 2, 0x1A, 0xE2}) + "e"))
	}))
	defer srv.Close()

	tor := testTorrent(srv.URL)
	var peerID [20]byte
	resp, err := Announce(tor, peerID, 6881)
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 2)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
}

func TestAnnounceHTTPNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tor := testTorrent(srv.URL)
	var peerID [20]byte
	_, err := Announce(tor, peerID, 6881)
	require.Error(t, err)
}

func TestAnnounceUnsupportedScheme(t *testing.T) {
	tor := testTorrent("ftp://example.invalid/announce")
	var peerID [20]byte
	_, err := Announce(tor, peerID, 6881)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestPercentEncodeUppercaseHex(t *testing.T) {
	got := percentEncode([]byte{0x01, 0xAB, 0xFF})
	assert.Equal(t, "%01%AB%FF", got)
}

func TestBuildTrackerURLAppendsInfoHashAndPeerIDManually(t *testing.T) {
	tor := testTorrent("http://tracker.example/announce")
	var peerID [20]byte
	for i := range peerID {
		peerID[i] = byte(i)
	}
	u, err := url.Parse(tor.Announce)
	require.NoError(t, err)
	built := buildTrackerURL(tor, u, peerID, 6881)
	assert.True(t, strings.Contains(built, "info_hash=%01%02%03%04%05%06%07%08%09%0A%0B%0C%0D%0E%0F%10%11%12%13%14"))
	assert.True(t, strings.Contains(built, "peer_id=%00%01%02"))
}
