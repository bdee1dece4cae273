// Package download implements the piece-download engine: a shared
// work queue of pieces drained by one worker goroutine per peer, each
// pipelining block requests, reassembling and verifying pieces, and
// committing verified pieces to the output file at the right offset.
package download

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ash-leech/mybittorrent/internal/fileio"
	"github.com/ash-leech/mybittorrent/internal/hashutil"
	"github.com/ash-leech/mybittorrent/internal/metainfo"
	"github.com/ash-leech/mybittorrent/internal/peerwire"
)

// maxPieceRetriesPerPeer bounds how many attempts a worker makes at
// the same piece against the same peer (the first try included) before
// rotating it back onto the shared queue for another peer to try.
const maxPieceRetriesPerPeer = 3

// missingPieceBackoff bounds how often a worker re-checks a peer whose
// bitfield lacked the piece it just drew, so a peer holding none of
// the remaining work doesn't spin the queue hot.
const missingPieceBackoff = 250 * time.Millisecond

var log = logrus.WithField("component", "download")

// ErrHashMismatch reports that a downloaded piece's SHA-1 digest did
// not match the digest declared in the torrent's info dictionary.
type ErrHashMismatch struct {
	Index int
}

func (e *ErrHashMismatch) Error() string {
	return fmt.Sprintf("download: piece %d failed hash verification", e.Index)
}

// Job describes a set of pieces to fetch and where each lands in the
// output file. The single-piece CLI subcommand and the full-download
// subcommand both build a Job and hand it to Run; they differ only in
// how many pieces are queued and how Offset is computed.
type Job struct {
	Torrent *metainfo.Torrent
	Pieces  []metainfo.Piece

	OutPath string
	// Offset returns the byte offset in OutPath at which a piece's data
	// belongs. Full downloads use index*PieceLength; the single-piece
	// subcommand always returns 0, since its output file holds nothing
	// but that one piece.
	Offset func(index int) int64
	// OutputLength is the size Ensure pre-allocates OutPath to.
	OutputLength int64

	// OnProgress, if set, is called once per piece as it is committed.
	OnProgress func(index int)
}

type pieceWork struct {
	index  int
	length int
	hash   [20]byte
}

type pieceResult struct {
	index int
}

// Run fetches every piece in job.Pieces from peers, verifying each
// against its declared SHA-1 digest before committing it to disk. No
// byte is written to the output file before its piece has matched
// its expected hash. One dead or misbehaving peer does not fail the
// download as long as at least one live peer holds every piece.
func Run(ctx context.Context, job Job, peers []peerwire.PeerAddress, localPeerID [20]byte) error {
	if len(job.Pieces) == 0 {
		return nil
	}
	if len(peers) == 0 {
		return fmt.Errorf("download: no peers available")
	}
	if err := fileio.Ensure(job.OutPath, job.OutputLength); err != nil {
		return err
	}

	queue := make(chan pieceWork, len(job.Pieces))
	for _, p := range job.Pieces {
		queue <- pieceWork{
			index:  p.Index,
			length: int(p.Length),
			hash:   job.Torrent.Info.PieceHash(p.Index),
		}
	}

	results := make(chan pieceResult)
	for _, addr := range peers {
		go runWorker(ctx, addr, localPeerID, job, queue, results)
	}

	remaining := len(job.Pieces)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			remaining--
			if job.OnProgress != nil {
				job.OnProgress(res.index)
			}
		}
	}
	close(queue)
	return nil
}

func runWorker(ctx context.Context, addr peerwire.PeerAddress, localPeerID [20]byte, job Job, queue chan pieceWork, results chan pieceResult) {
	wlog := log.WithField("peer", addr.String())

	client, err := peerwire.Dial(addr, localPeerID, job.Torrent.InfoHash)
	if err != nil {
		wlog.WithError(err).Debug("handshake failed, retiring worker")
		return
	}
	defer client.Conn.Close()
	wlog.Debug("handshake complete")

	if err := client.SendUnchoke(); err != nil {
		return
	}
	if err := client.SendInterested(); err != nil {
		return
	}

	for {
		var work pieceWork
		var ok bool
		select {
		case <-ctx.Done():
			return
		case work, ok = <-queue:
			if !ok {
				return
			}
		}

		if !client.Bitfield.Has(work.index) {
			queue <- work
			select {
			case <-ctx.Done():
				return
			case <-time.After(missingPieceBackoff):
			}
			continue
		}

		committed, peerDead := attemptPiece(ctx, client, job, work, wlog)
		if peerDead {
			queue <- work
			return
		}
		if !committed {
			queue <- work
			continue
		}

		select {
		case results <- pieceResult{index: work.index}:
		case <-ctx.Done():
			return
		}
	}
}

// attemptPiece downloads and verifies work up to maxPieceRetriesPerPeer
// times against client, writing the piece to disk on the first match.
// It reports peerDead when a socket/protocol error means this peer's
// connection can no longer be used at all.
func attemptPiece(ctx context.Context, client *peerwire.Client, job Job, work pieceWork, wlog *logrus.Entry) (committed bool, peerDead bool) {
	for attempt := 0; attempt < maxPieceRetriesPerPeer; attempt++ {
		buf, err := downloadPieceBody(ctx, client, work)
		if err != nil {
			wlog.WithError(err).WithField("piece", work.index).Debug("piece transfer failed")
			return false, true
		}

		if hashutil.SHA1(buf) != work.hash {
			wlog.WithField("attempt", attempt+1).Warn(&ErrHashMismatch{Index: work.index})
			continue
		}

		if err := fileio.WriteAt(job.OutPath, job.Offset(work.index), buf); err != nil {
			wlog.WithError(err).Error("failed writing verified piece to disk")
			return false, true
		}

		client.SendHave(work.index)
		return true, false
	}
	return false, false
}

// downloadPieceBody pipelines up to peerwire.MaxInFlight Requests for
// work's blocks and splices Piece responses into the reassembly
// buffer as they arrive, in whatever order the peer sends them.
func downloadPieceBody(ctx context.Context, client *peerwire.Client, work pieceWork) ([]byte, error) {
	buf := make([]byte, work.length)
	var downloaded, requested, backlog int

	client.Conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer client.Conn.SetDeadline(time.Time{})

	for downloaded < work.length {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !client.State.Choked {
			for backlog < peerwire.MaxInFlight && requested < work.length {
				blockSize := peerwire.BlockSize
				if work.length-requested < blockSize {
					blockSize = work.length - requested
				}
				if err := client.SendRequest(work.index, requested, blockSize); err != nil {
					return nil, err
				}
				backlog++
				requested += blockSize
			}
		}

		msg, err := client.Read()
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue // keep-alive
		}

		switch msg.ID {
		case peerwire.MsgUnchoke:
			client.State.Choked = false
		case peerwire.MsgChoke:
			client.State.Choked = true
		case peerwire.MsgHave:
			index, err := peerwire.ParseHave(msg)
			if err != nil {
				return nil, err
			}
			client.MarkHave(index)
		case peerwire.MsgPiece:
			n, err := peerwire.ParsePiece(work.index, buf, msg)
			if err != nil {
				return nil, err
			}
			downloaded += n
			backlog--
		}
	}

	return buf, nil
}

// SinglePieceJob builds a Job that fetches exactly one piece and
// writes it, alone, to outPath — the shape download_piece needs.
func SinglePieceJob(t *metainfo.Torrent, pieceIndex int, outPath string) (Job, error) {
	if len(t.Info.Files) > 0 {
		return Job{}, fmt.Errorf("download: multi-file torrents are not supported on the download path")
	}
	pieces := t.Info.AllPieces()
	if pieceIndex < 0 || pieceIndex >= len(pieces) {
		return Job{}, fmt.Errorf("download: piece index %d out of range [0, %d)", pieceIndex, len(pieces))
	}
	piece := pieces[pieceIndex]
	return Job{
		Torrent:      t,
		Pieces:       []metainfo.Piece{piece},
		OutPath:      outPath,
		Offset:       func(int) int64 { return 0 },
		OutputLength: piece.Length,
	}, nil
}

// FullJob builds a Job that fetches every piece of the torrent and
// reassembles it into a single flat file at outPath, byte-identical to
// the concatenation of verified pieces in index order. Multi-file
// torrents are rejected outright: the download path only knows how to
// lay out a single flat file.
func FullJob(t *metainfo.Torrent, outPath string, onProgress func(index int)) (Job, error) {
	if len(t.Info.Files) > 0 {
		return Job{}, fmt.Errorf("download: multi-file torrents are not supported on the download path")
	}
	return Job{
		Torrent:      t,
		Pieces:       t.Info.AllPieces(),
		OutPath:      outPath,
		Offset:       func(index int) int64 { return int64(index) * t.Info.PieceLength },
		OutputLength: t.Info.TotalLength(),
		OnProgress:   onProgress,
	}, nil
}
