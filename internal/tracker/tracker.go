// Package tracker implements the HTTP tracker announce: build the GET
// query, fetch the bencoded response, and unpack the compact peer list.
// UDP tracker support (BEP 15) is dropped as a Non-goal.
//
// Grounded in tracker.go's QueryHTTPTracker/buildAnnounceURL/
// parseTrackerResponse/parseCompactPeers, rebuilt on top of go-resty/resty
// for the HTTP call (the ambient HTTP client used across the example pack's
// CLI tools) and cenkalti/backoff for retrying transient failures, in place
// of the teacher's bare net/http client and port-sweeping retry loop.
package tracker

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/andre-silva/leech/internal/bencode"
	"github.com/andre-silva/leech/internal/logging"
	"github.com/andre-silva/leech/internal/xerrors"
)

const peerGroupSize = 6 // 4 bytes IPv4 + 2 bytes port

var log = logging.For("tracker")

// Response is the decoded tracker announce reply.
type Response struct {
	Interval int64
	Peers    []string // "ip:port"
}

// Client announces to a single HTTP tracker.
type Client struct {
	http *resty.Client
}

// New builds a tracker Client with the given request timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: resty.New().SetTimeout(timeout)}
}

// Announce sends the GET announce request described by spec.md §4.3 and
// returns the parsed peer list. left is the number of bytes remaining to
// download; pass a placeholder such as 999 when the total size is unknown
// (a magnet link with no metainfo yet).
func (c *Client) Announce(announceURL string, infoHash, peerID [20]byte, port int, left int64) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrMalformedInput, "invalid tracker URL: %v", err)
	}

	q := u.Query()
	q.Set("info_hash", string(infoHash[:]))
	q.Set("peer_id", string(peerID[:]))
	q.Set("port", strconv.Itoa(port))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", strconv.FormatInt(left, 10))
	q.Set("compact", "1")
	u.RawQuery = q.Encode()

	var body []byte
	operation := func() error {
		resp, err := c.http.R().Get(u.String())
		if err != nil {
			log.WithError(err).Debug("tracker request failed, retrying")
			return err
		}
		if resp.StatusCode() != 200 {
			return backoff.Permanent(xerrors.Wrapf(xerrors.ErrTrackerError, "tracker returned status %d", resp.StatusCode()))
		}
		body = resp.Body()
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, xerrors.Wrap(err, "announcing to tracker")
	}

	return parseResponse(body)
}

func parseResponse(body []byte) (*Response, error) {
	v, _, err := bencode.Decode(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTrackerError, "tracker response is not valid bencode")
	}
	if v.Kind != bencode.KindDict {
		return nil, xerrors.Wrap(xerrors.ErrTrackerError, "tracker response is not a dictionary")
	}

	if failure := v.GetDict("failure reason"); failure != nil {
		return nil, xerrors.Wrapf(xerrors.ErrTrackerError, "tracker failure: %s", failure.String())
	}

	interval := v.GetDict("interval")
	if interval == nil {
		return nil, xerrors.Wrap(xerrors.ErrTrackerError, "tracker response missing interval")
	}

	peersVal := v.GetDict("peers")
	if peersVal == nil {
		return nil, xerrors.Wrap(xerrors.ErrTrackerError, "tracker response missing peers")
	}
	peers, err := parseCompactPeers(peersVal.Str)
	if err != nil {
		return nil, err
	}

	return &Response{Interval: interval.Int, Peers: peers}, nil
}

func parseCompactPeers(data []byte) ([]string, error) {
	if len(data)%peerGroupSize != 0 {
		return nil, xerrors.Wrapf(xerrors.ErrTrackerError, "compact peer list length %d not a multiple of %d", len(data), peerGroupSize)
	}
	out := make([]string, 0, len(data)/peerGroupSize)
	for i := 0; i < len(data); i += peerGroupSize {
		ip := net.IP(data[i : i+4])
		port := int(data[i+4])<<8 | int(data[i+5])
		out = append(out, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return out, nil
}
