package signature

import (
	"sync"

	"github.com/wavecore/botdetect/internal/logging"
)

// keyQueue processes record() calls through a keyed sequential work
// queue: items for the same signature_hash are processed in arrival order
// and never concurrently; different signatures proceed in parallel
// (spec.md §4.4.3, §5, §8.1 invariant 9). This mirrors the "map of deque +
// worker" shape spec.md §9 prescribes, sized here per-key rather than via a
// shared worker pool, since each signature's queue is short-lived and
// bounded.
type keyQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	bound   int
	logger  logging.Logger
}

func newKeyQueue(bound int, logger logging.Logger) *keyQueue {
	if bound <= 0 {
		bound = DefaultPerKeyQueueBound
	}
	return &keyQueue{bound: bound, logger: logging.Default(logger)}
}

// enqueue schedules fn to run after all previously enqueued work for this
// key. If the queue is at its bound, the oldest pending (not yet started)
// item is dropped, per spec.md §4.4.3's "per-key bound ... overflow = drop
// oldest".
func (q *keyQueue) enqueue(fn func()) {
	q.mu.Lock()
	if len(q.pending) >= q.bound {
		dropped := len(q.pending) - q.bound + 1
		q.pending = q.pending[dropped:]
		q.logger.Debug("signature queue overflow, dropped oldest", map[string]interface{}{"dropped": dropped})
	}
	q.pending = append(q.pending, fn)
	startWorker := !q.running
	if startWorker {
		q.running = true
	}
	q.mu.Unlock()

	if startWorker {
		go q.drain()
	}
}

func (q *keyQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		next()
	}
}

// Queues is the registry of per-signature keyQueues, one drain goroutine
// per signature with pending work. Callers MUST call Remove when the
// owning signature.Coordinator is evicted from the LRU registry, so a
// queue's memory doesn't outlive its signature (see Registry.OnEvict in
// signature.go).
type Queues struct {
	mu     sync.Mutex
	byHash map[string]*keyQueue
	bound  int
	logger logging.Logger
}

// NewQueues constructs the keyed-queue registry with a per-key bound.
func NewQueues(bound int, logger logging.Logger) *Queues {
	return &Queues{byHash: make(map[string]*keyQueue), bound: bound, logger: logger}
}

// Enqueue schedules fn for sequential processing under signatureHash.
func (q *Queues) Enqueue(signatureHash string, fn func()) {
	q.mu.Lock()
	kq, ok := q.byHash[signatureHash]
	if !ok {
		kq = newKeyQueue(q.bound, q.logger)
		q.byHash[signatureHash] = kq
	}
	q.mu.Unlock()
	kq.enqueue(fn)
}

// Remove drops the queue entry for signatureHash. Any work already
// dispatched to its drain goroutine still runs to completion; this only
// stops the map entry from retaining memory for a signature that's gone.
func (q *Queues) Remove(signatureHash string) {
	q.mu.Lock()
	delete(q.byHash, signatureHash)
	q.mu.Unlock()
}
