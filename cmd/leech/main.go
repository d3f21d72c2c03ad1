// Command leech is a single-file, leech-only BitTorrent v1 client: it joins
// a swarm via a .torrent file or a magnet link, downloads pieces from
// peers, and writes the assembled output to disk. It never seeds.
//
// Grounded in main.go's trivial flag-based entry point and
// cmd/go-torrent/main.go's subcommand dispatch, rebuilt on
// alecthomas/kong (used across the retrieved pack's CLI tools) instead of
// the standard flag package.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/config"
	"github.com/andre-silva/leech/internal/logging"
	"github.com/andre-silva/leech/internal/magnet"
	"github.com/andre-silva/leech/internal/metadata"
	"github.com/andre-silva/leech/internal/metainfo"
	"github.com/andre-silva/leech/internal/metrics"
	"github.com/andre-silva/leech/internal/peerconn"
	"github.com/andre-silva/leech/internal/peerwire"
	"github.com/andre-silva/leech/internal/piecedownload"
	"github.com/andre-silva/leech/internal/swarm"
	"github.com/andre-silva/leech/internal/tracker"
)

var log = logging.For("cli")

type cli struct {
	LogLevel    string `help:"Log level (debug, info, warn, error)." default:"info"`
	MetricsAddr string `help:"If set, serve Prometheus metrics on this address (e.g. :9090)."`
	Config      string `help:"Path to a YAML config file overriding the defaults."`

	Decode              decodeCmd              `cmd:"" help:"Decode a bencoded value and print it as JSON."`
	Info                infoCmd                `cmd:"" help:"Print metainfo fields for a .torrent file."`
	Peers               peersCmd               `cmd:"" help:"Print peers returned by the tracker."`
	Handshake           handshakeCmd           `cmd:"" help:"Handshake with a single peer."`
	DownloadPiece       downloadPieceCmd       `cmd:"download_piece" help:"Download a single piece to a file."`
	Download            downloadCmd            `cmd:"" help:"Download the full file."`
	MagnetParse         magnetParseCmd         `cmd:"magnet_parse" help:"Parse a magnet link."`
	MagnetHandshake     magnetHandshakeCmd     `cmd:"magnet_handshake" help:"Handshake and extension-handshake via a magnet link."`
	MagnetInfo          magnetInfoCmd          `cmd:"magnet_info" help:"Fetch and print metainfo via a magnet link."`
	MagnetDownloadPiece magnetDownloadPieceCmd `cmd:"magnet_download_piece" help:"Download a single piece via a magnet link."`
	MagnetDownload      magnetDownloadCmd      `cmd:"magnet_download" help:"Download the full file via a magnet link."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c, kong.Name("leech"), kong.Description("A single-file, leech-only BitTorrent v1 client."))

	logging.SetLevel(c.LogLevel)
	cfg, err := config.Load(c.Config)
	if err != nil {
		fatal(err)
	}

	rc := &runContext{cfg: cfg}
	if c.MetricsAddr != "" {
		collectors, reg := metrics.New()
		rc.metrics = collectors
		go func() {
			if err := metrics.Serve(c.MetricsAddr, reg); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	if err := ctx.Run(rc); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// runContext is threaded through kong's Run as the command context, giving
// every subcommand's Run method access to the loaded config and the
// optional metrics collectors.
type runContext struct {
	cfg     config.Config
	metrics *metrics.Collectors
}

func newPeerID() [20]byte {
	var id [20]byte
	copy(id[:], "-LE0001-")
	rand.Read(id[8:])
	return id
}

// --- decode ---

type decodeCmd struct {
	Value string `arg:"" help:"A bencoded value."`
}

func (c *decodeCmd) Run(_ *runContext) error {
	v, _, err := bencode.Decode([]byte(c.Value))
	if err != nil {
		return err
	}
	out, err := json.Marshal(toJSON(v))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func toJSON(v *bencode.Value) interface{} {
	switch v.Kind {
	case bencode.KindInt:
		return v.Int
	case bencode.KindString:
		return string(v.Str)
	case bencode.KindList:
		items := make([]interface{}, len(v.List))
		for i, item := range v.List {
			items[i] = toJSON(item)
		}
		return items
	case bencode.KindDict:
		m := make(map[string]interface{}, len(v.Dict))
		for k, val := range v.Dict {
			m[k] = toJSON(val)
		}
		return m
	default:
		return nil
	}
}

// --- info ---

type infoCmd struct {
	Torrent string `arg:"" type:"existingfile" help:"Path to a .torrent file."`
}

func (c *infoCmd) Run(_ *runContext) error {
	m, err := loadMetainfo(c.Torrent)
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d\n", m.Info.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(m.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", m.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range m.Info.Pieces {
		fmt.Println(hex.EncodeToString(h[:]))
	}
	return nil
}

func loadMetainfo(path string) (*metainfo.Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return metainfo.Parse(data)
}

// --- peers ---

type peersCmd struct {
	Torrent string `arg:"" type:"existingfile"`
}

func (c *peersCmd) Run(rc *runContext) error {
	m, err := loadMetainfo(c.Torrent)
	if err != nil {
		return err
	}
	resp, err := announce(rc, m.Announce, m.InfoHash, m.Info.Length)
	if err != nil {
		return err
	}
	for _, p := range resp.Peers {
		fmt.Println(p)
	}
	return nil
}

func announce(rc *runContext, announceURL string, infoHash [20]byte, left int64) (*tracker.Response, error) {
	client := tracker.New(rc.cfg.ConnectTimeout)
	return client.Announce(announceURL, infoHash, newPeerID(), int(rc.cfg.ListenPort), left)
}

// --- handshake ---

type handshakeCmd struct {
	Torrent string `arg:"" type:"existingfile"`
	Address string `arg:"" help:"Peer address as ip:port."`
}

func (c *handshakeCmd) Run(_ *runContext) error {
	m, err := loadMetainfo(c.Torrent)
	if err != nil {
		return err
	}
	sess, err := peerconn.Dial(c.Address, m.InfoHash, newPeerID(), m.Info.NumPieces())
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	return nil
}

// --- download_piece ---

type downloadPieceCmd struct {
	Output  string `short:"o" required:"" help:"Output file path."`
	Torrent string `arg:"" type:"existingfile"`
	Index   int    `arg:""`
}

func (c *downloadPieceCmd) Run(rc *runContext) error {
	m, err := loadMetainfo(c.Torrent)
	if err != nil {
		return err
	}
	resp, err := announce(rc, m.Announce, m.InfoHash, m.Info.Length)
	if err != nil {
		return err
	}

	data, err := downloadPieceFromAnyPeer(resp.Peers, m.InfoHash, m.Info, c.Index, rc.cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Output, data, 0o644)
}

// downloadPieceFromAnyPeer tries each peer in turn (spec.md §9's "any ready
// peer whose bitfield has the piece") until one successfully serves index.
func downloadPieceFromAnyPeer(peers []string, infoHash [20]byte, info metainfo.Info, index int, cfg config.Config) ([]byte, error) {
	ourID := newPeerID()
	var lastErr error
	for _, addr := range peers {
		sess, err := peerconn.Dial(addr, infoHash, ourID, info.NumPieces())
		if err != nil {
			lastErr = err
			continue
		}
		if !sess.Bitfield.Has(index) {
			sess.Close()
			continue
		}
		if err := sess.StartInterested(); err != nil {
			sess.Close()
			lastErr = err
			continue
		}
		if err := waitUnchoked(sess, cfg); err != nil {
			sess.Close()
			lastErr = err
			continue
		}

		job := piecedownload.Job{Index: uint32(index), Length: info.PieceLen(index), Hash: info.Pieces[index]}
		data, err := piecedownload.Download(sess, job, cfg)
		sess.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no peers had piece %d", index)
	}
	return nil, lastErr
}

// waitUnchoked blocks reading messages until sess.Choked is false.
func waitUnchoked(sess *peerconn.Session, cfg config.Config) error {
	conn := sess.Conn()
	if err := conn.SetDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})
	for sess.Choked {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		if err := sess.ApplyMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// --- download ---

type downloadCmd struct {
	Output  string `short:"o" required:""`
	Torrent string `arg:"" type:"existingfile"`
}

func (c *downloadCmd) Run(rc *runContext) error {
	m, err := loadMetainfo(c.Torrent)
	if err != nil {
		return err
	}
	resp, err := announce(rc, m.Announce, m.InfoHash, m.Info.Length)
	if err != nil {
		return err
	}

	data, err := downloadAll(resp.Peers, m.InfoHash, m.Info, rc)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Output, data, 0o644)
}

func downloadAll(peers []string, infoHash [20]byte, info metainfo.Info, rc *runContext) ([]byte, error) {
	cfg := rc.cfg
	ourID := newPeerID()
	var sessions []*peerconn.Session
	for _, addr := range peers {
		sess, err := peerconn.Dial(addr, infoHash, ourID, info.NumPieces())
		if err != nil {
			log.WithError(err).Debugf("skipping unreachable peer %s", addr)
			continue
		}
		if err := sess.StartInterested(); err != nil {
			sess.Close()
			continue
		}
		sessions = append(sessions, sess)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no usable peers")
	}
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()
	if rc.metrics != nil {
		rc.metrics.ActivePeers.Set(float64(len(sessions)))
	}

	for _, sess := range sessions {
		if err := waitUnchoked(sess, cfg); err != nil {
			log.WithError(err).Debug("peer never unchoked")
		}
	}

	queue := swarm.NewQueue(info.NumPieces())
	results := swarm.Run(sessions, info, queue, cfg)

	collected := make([]swarm.Result, 0, info.NumPieces())
	for r := range results {
		collected = append(collected, r)
		if rc.metrics != nil {
			rc.metrics.PiecesDownloaded.Inc()
			rc.metrics.BytesDownloaded.Add(float64(len(r.Data)))
		}
	}
	if len(collected) != info.NumPieces() {
		return nil, fmt.Errorf("download incomplete: got %d/%d pieces", len(collected), info.NumPieces())
	}
	return swarm.Assemble(collected, info.Length), nil
}

// --- magnet_parse ---

type magnetParseCmd struct {
	URI string `arg:""`
}

func (c *magnetParseCmd) Run(_ *runContext) error {
	link, err := magnet.Parse(c.URI)
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", link.TrackerURL)
	fmt.Printf("Info Hash: %s\n", link.InfoHashHex())
	return nil
}

// --- magnet_handshake ---

type magnetHandshakeCmd struct {
	URI string `arg:""`
}

func (c *magnetHandshakeCmd) Run(rc *runContext) error {
	link, err := magnet.Parse(c.URI)
	if err != nil {
		return err
	}
	sess, err := handshakeViaMagnet(rc, link)
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	fmt.Printf("Peer Metadata Extension ID: %d\n", sess.UtMetadataID)
	return nil
}

func handshakeViaMagnet(rc *runContext, link *magnet.Link) (*peerconn.Session, error) {
	resp, err := announce(rc, link.TrackerURL, link.InfoHash, 999)
	if err != nil {
		return nil, err
	}
	if len(resp.Peers) == 0 {
		return nil, fmt.Errorf("tracker returned no peers")
	}

	ourID := newPeerID()
	var lastErr error
	for _, addr := range resp.Peers {
		sess, err := peerconn.Dial(addr, link.InfoHash, ourID, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if err := sess.ExtensionHandshake(1); err != nil {
			sess.Close()
			lastErr = err
			continue
		}
		return sess, nil
	}
	return nil, lastErr
}

// --- magnet_info ---

type magnetInfoCmd struct {
	URI string `arg:""`
}

func (c *magnetInfoCmd) Run(rc *runContext) error {
	link, err := magnet.Parse(c.URI)
	if err != nil {
		return err
	}
	sess, err := handshakeViaMagnet(rc, link)
	if err != nil {
		return err
	}
	defer sess.Close()

	infoBytes, err := metadata.Fetch(sess, link.InfoHash)
	if err != nil {
		return err
	}
	info, _, err := metainfo.ParseInfo(infoBytes)
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", link.TrackerURL)
	fmt.Printf("Length: %d\n", info.Length)
	fmt.Printf("Info Hash: %s\n", link.InfoHashHex())
	fmt.Printf("Piece Length: %d\n", info.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range info.Pieces {
		fmt.Println(hex.EncodeToString(h[:]))
	}
	return nil
}

// --- magnet_download_piece ---

type magnetDownloadPieceCmd struct {
	Output string `short:"o" required:""`
	URI    string `arg:""`
	Index  int    `arg:""`
}

func (c *magnetDownloadPieceCmd) Run(rc *runContext) error {
	link, err := magnet.Parse(c.URI)
	if err != nil {
		return err
	}
	info, resp, err := fetchInfoAndPeers(rc, link)
	if err != nil {
		return err
	}
	data, err := downloadPieceFromAnyPeer(resp.Peers, link.InfoHash, *info, c.Index, rc.cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Output, data, 0o644)
}

func fetchInfoAndPeers(rc *runContext, link *magnet.Link) (*metainfo.Info, *tracker.Response, error) {
	sess, err := handshakeViaMagnet(rc, link)
	if err != nil {
		return nil, nil, err
	}
	infoBytes, err := metadata.Fetch(sess, link.InfoHash)
	sess.Close()
	if err != nil {
		return nil, nil, err
	}
	info, hash, err := metainfo.ParseInfo(infoBytes)
	if err != nil {
		return nil, nil, err
	}
	if hash != link.InfoHash {
		return nil, nil, fmt.Errorf("reconstructed metadata does not match info hash")
	}

	resp, err := announce(rc, link.TrackerURL, link.InfoHash, info.Length)
	if err != nil {
		return nil, nil, err
	}
	return info, resp, nil
}

// --- magnet_download ---

type magnetDownloadCmd struct {
	Output string `short:"o" required:""`
	URI    string `arg:""`
}

func (c *magnetDownloadCmd) Run(rc *runContext) error {
	link, err := magnet.Parse(c.URI)
	if err != nil {
		return err
	}
	info, resp, err := fetchInfoAndPeers(rc, link)
	if err != nil {
		return err
	}
	data, err := downloadAll(resp.Peers, link.InfoHash, *info, rc)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Output, data, 0o644)
}
