// Command mybittorrent is a minimal BitTorrent leech client: it can
// decode bencoded values, inspect a .torrent file, announce to its
// tracker, shake hands with a single peer, and download one piece or
// the whole payload.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/ash-leech/mybittorrent/internal/bencode"
	"github.com/ash-leech/mybittorrent/internal/download"
	"github.com/ash-leech/mybittorrent/internal/hashutil"
	"github.com/ash-leech/mybittorrent/internal/metainfo"
	"github.com/ash-leech/mybittorrent/internal/peerwire"
	"github.com/ash-leech/mybittorrent/internal/tracker"
)

const defaultListenPort = 6881

// argError reports a CLI usage mistake: wrong argument count, a flag
// that couldn't parse, or similar. It is kept distinct from the
// package-level errors returned by internal packages, which already
// carry their own offending input.
type argError struct {
	usage string
}

func (e *argError) Error() string { return "usage: " + e.usage }

func main() {
	logrus.SetLevel(logrus.WarnLevel)
	if os.Getenv("MYBITTORRENT_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mybittorrent: "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return &argError{usage: "mybittorrent <command> [arguments]"}
	}

	switch args[0] {
	case "decode":
		return runDecode(args[1:])
	case "info":
		return runInfo(args[1:])
	case "peers":
		return runPeers(args[1:])
	case "handshake":
		return runHandshake(args[1:])
	case "download_piece":
		return runDownloadPiece(args[1:])
	case "download":
		return runDownload(args[1:])
	default:
		return &argError{usage: fmt.Sprintf("unknown command %q", args[0])}
	}
}

func runDecode(args []string) error {
	if len(args) != 1 {
		return &argError{usage: "mybittorrent decode <bencoded-string>"}
	}
	val, _, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := json.Marshal(bencode.ToJSON(val))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return &argError{usage: "mybittorrent info <file.torrent>"}
	}
	t, err := openTorrent(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Length: %d\n", t.Info.TotalLength())
	fmt.Printf("Info Hash: %s\n", hashutil.Hex(t.InfoHash))
	fmt.Printf("Piece Length: %d\n", t.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, p := range t.Info.AllPieces() {
		fmt.Println(hashutil.Hex(t.Info.PieceHash(p.Index)))
	}
	return nil
}

func runPeers(args []string) error {
	if len(args) != 1 {
		return &argError{usage: "mybittorrent peers <file.torrent>"}
	}
	t, err := openTorrent(args[0])
	if err != nil {
		return err
	}

	resp, err := tracker.Announce(t, newPeerID(), defaultListenPort)
	if err != nil {
		return err
	}
	for _, p := range resp.Peers {
		fmt.Println(p.String())
	}
	return nil
}

func runHandshake(args []string) error {
	if len(args) != 2 {
		return &argError{usage: "mybittorrent handshake <file.torrent> <ip:port>"}
	}
	t, err := openTorrent(args[0])
	if err != nil {
		return err
	}
	addr, err := peerwire.ParsePeerAddress(args[1])
	if err != nil {
		return err
	}

	client, err := peerwire.Dial(addr, newPeerID(), t.InfoHash)
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	fmt.Printf("Peer ID: %s\n", hashutil.Hex(client.PeerID))
	return nil
}

func runDownloadPiece(args []string) error {
	fs := newFlagSet("download_piece")
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return &argError{usage: "mybittorrent download_piece -o <out> <file.torrent> <index>"}
	}
	rest := fs.Args()
	if *out == "" || len(rest) != 2 {
		return &argError{usage: "mybittorrent download_piece -o <out> <file.torrent> <index>"}
	}

	t, err := openTorrent(rest[0])
	if err != nil {
		return err
	}
	index, err := parseIndex(rest[1])
	if err != nil {
		return err
	}

	job, err := download.SinglePieceJob(t, index, *out)
	if err != nil {
		return err
	}

	peers, err := discoverPeers(t)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := download.Run(ctx, job, peers, newPeerID()); err != nil {
		return err
	}

	fmt.Printf("Piece %d downloaded to %s.\n", index, *out)
	return nil
}

func runDownload(args []string) error {
	fs := newFlagSet("download")
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return &argError{usage: "mybittorrent download -o <out> <file.torrent>"}
	}
	rest := fs.Args()
	if *out == "" || len(rest) != 1 {
		return &argError{usage: "mybittorrent download -o <out> <file.torrent>"}
	}

	t, err := openTorrent(rest[0])
	if err != nil {
		return err
	}

	peers, err := discoverPeers(t)
	if err != nil {
		return err
	}

	total := len(t.Info.AllPieces())
	bar := progressbar.Default(int64(total), "downloading")
	job, err := download.FullJob(t, *out, func(int) {
		bar.Add(1)
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := download.Run(ctx, job, peers, newPeerID()); err != nil {
		return err
	}
	bar.Finish()

	fmt.Printf("Downloaded %s to %s.\n", rest[0], *out)
	return nil
}

func openTorrent(path string) (*metainfo.Torrent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return metainfo.Parse(f)
}

func discoverPeers(t *metainfo.Torrent) ([]peerwire.PeerAddress, error) {
	resp, err := tracker.Announce(t, newPeerID(), defaultListenPort)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

func parseIndex(s string) (int, error) {
	var index int
	if _, err := fmt.Sscanf(s, "%d", &index); err != nil {
		return 0, &argError{usage: fmt.Sprintf("piece index %q is not an integer", s)}
	}
	return index, nil
}

// newPeerID generates a fresh local peer id of 20 random ASCII digits.
// Each call returns a new id.
func newPeerID() [20]byte {
	var raw [20]byte
	if _, err := readRandom(raw[:]); err != nil {
		// crypto/rand failures are effectively unrecoverable on any
		// supported platform; fall back to a fixed digit string rather
		// than propagate an error signature through every caller.
		for i := range raw {
			raw[i] = byte(i)
		}
	}

	var id [20]byte
	for i, b := range raw {
		id[i] = '0' + b%10
	}
	return id
}
