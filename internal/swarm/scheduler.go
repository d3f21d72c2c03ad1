// Package swarm runs the multi-peer work-queue scheduler: one worker per
// peer session pulling from a single shared queue of remaining piece
// indices, delivering completed pieces to a collector at most once.
//
// Grounded in torrent/piecequeue.go's PieceQueue, stripped of its
// rarest-first availability buckets (a Non-goal) down to a plain ascending
// queue, and torrent/client.go's downloadFromPeersWithContext for the
// worker-goroutine-per-peer / results-channel shape.
package swarm

import (
	"sync"

	"github.com/andre-silva/leech/internal/config"
	"github.com/andre-silva/leech/internal/logging"
	"github.com/andre-silva/leech/internal/metainfo"
	"github.com/andre-silva/leech/internal/peerconn"
	"github.com/andre-silva/leech/internal/piecedownload"
)

var log = logging.For("swarm")

// Queue is the single shared mutable owner of remaining piece indices.
// Every access is exclusive, per spec.md §5's shared-resource contract.
type Queue struct {
	mu        sync.Mutex
	pending   []int
	completed map[int]bool
	total     int
}

// NewQueue builds a queue holding piece indices 0..numPieces-1 in ascending
// order.
func NewQueue(numPieces int) *Queue {
	pending := make([]int, numPieces)
	for i := range pending {
		pending[i] = i
	}
	return &Queue{pending: pending, completed: make(map[int]bool), total: numPieces}
}

// take removes and returns the lowest-index pending piece the peer's
// bitfield has, or (0, false) if none remain that this peer can serve.
func (q *Queue) take(bf interface{ Has(int) bool }) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, idx := range q.pending {
		if bf.Has(idx) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return idx, true
		}
	}
	return 0, false
}

// release returns an in-progress piece to the pending set after a failed
// download.
func (q *Queue) release(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.completed[index] {
		// Keep pending in ascending order so take still returns the lowest
		// index first.
		i := 0
		for i < len(q.pending) && q.pending[i] < index {
			i++
		}
		q.pending = append(q.pending, 0)
		copy(q.pending[i+1:], q.pending[i:])
		q.pending[i] = index
	}
}

// markComplete records a piece as done, returning true if this call is the
// one that completed it (guards at-most-once delivery to the collector when
// two workers race to finish the same index — which cannot happen here
// since take() hands an index to only one worker at a time, but is kept as
// an explicit invariant check rather than an assumption).
func (q *Queue) markComplete(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completed[index] {
		return false
	}
	q.completed[index] = true
	return true
}

// Done reports whether every piece index has been delivered.
func (q *Queue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) == q.total
}

// Result is a completed piece delivered to the collector.
type Result struct {
	Index int
	Data  []byte
}

// Run starts one worker per session, each pulling pieces from queue that
// the session's bitfield has, downloading them, and sending successes on
// the returned channel. The channel is closed once every worker has exited;
// a worker exits when no pending piece remains that its peer has, or after
// its first failed download.
func Run(sessions []*peerconn.Session, info metainfo.Info, queue *Queue, cfg config.Config) <-chan Result {
	results := make(chan Result, len(info.Pieces))
	var wg sync.WaitGroup

	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *peerconn.Session) {
			defer wg.Done()
			worker(sess, info, queue, cfg, results)
		}(sess)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func worker(sess *peerconn.Session, info metainfo.Info, queue *Queue, cfg config.Config, results chan<- Result) {
	for {
		index, ok := queue.take(sess.Bitfield)
		if !ok {
			return
		}

		job := piecedownload.Job{
			Index:  uint32(index),
			Length: info.PieceLen(index),
			Hash:   info.Pieces[index],
		}
		data, err := piecedownload.Download(sess, job, cfg)
		if err != nil {
			log.WithError(err).Warnf("piece %d failed, returning to queue", index)
			queue.release(index)
			return
		}

		if queue.markComplete(index) {
			results <- Result{Index: index, Data: data}
		}
	}
}

// Assemble concatenates a complete set of results in ascending index order
// into one contiguous byte sequence.
func Assemble(results []Result, totalLength int64) []byte {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Index < sorted[j-1].Index; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := make([]byte, 0, totalLength)
	for _, r := range sorted {
		out = append(out, r.Data...)
	}
	return out
}
