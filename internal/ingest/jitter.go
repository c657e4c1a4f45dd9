// Package ingest implements the ingest path: a UDP MPEG-TS source, a
// jitter-absorbing queue, and an ffmpeg-backed decode/scale chain that
// deposits normalized frames into a frameslot.Slot.
package ingest

import (
	"sync"
	"time"
)

// chunk is one arrival on the jitter queue: a byte run from a single UDP
// read, stamped with the wall-clock time it was received.
type chunk struct {
	data    []byte
	arrived time.Time
}

// JitterQueue is a bounded FIFO of byte chunks with two thresholds: a
// minimum holding time (primed before any release) and a maximum queue
// time (past which the oldest chunk is dropped). Overflow leaks
// downstream: under a sustained surge the stalest data is discarded
// first, since it is also the least useful.
//
// Not safe for concurrent Push and Pop from multiple goroutines each; one
// producer (the UDP reader) and one consumer (the decode feeder) is the
// supported shape, matching every other single-writer/single-reader
// boundary in this system.
type JitterQueue struct {
	mu      sync.Mutex
	chunks  []chunk
	minHold time.Duration
	maxHold time.Duration
	primed  bool
	now     func() time.Time
}

// NewJitterQueue constructs a queue with the given minimum holding time and
// maximum queue time. minHold must not exceed maxHold (config.Validate
// enforces this at startup).
func NewJitterQueue(minHold, maxHold time.Duration) *JitterQueue {
	return &JitterQueue{
		minHold: minHold,
		maxHold: maxHold,
		now:     time.Now,
	}
}

// Push appends a newly arrived chunk and then drops from the head any
// chunk that has aged past maxHold. Safe to call only from the UDP reader.
func (q *JitterQueue) Push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.chunks = append(q.chunks, chunk{data: data, arrived: q.now()})
	q.evictExpired()
}

// evictExpired drops chunks from the head while the oldest remaining chunk
// has aged past maxHold. Must be called with mu held.
func (q *JitterQueue) evictExpired() {
	now := q.now()
	for len(q.chunks) > 0 && now.Sub(q.chunks[0].arrived) > q.maxHold {
		q.chunks = q.chunks[1:]
	}
}

// Pop returns the next chunk in arrival order, or ok=false if the queue is
// empty or still priming (the oldest chunk hasn't aged past minHold yet).
// Once primed on first fill, priming never re-applies for the lifetime
// of the queue; a later lull does not re-arm the holding threshold.
func (q *JitterQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.chunks) == 0 {
		return nil, false
	}

	if !q.primed {
		if q.now().Sub(q.chunks[0].arrived) < q.minHold {
			return nil, false
		}
		q.primed = true
	}

	next := q.chunks[0]
	q.chunks = q.chunks[1:]
	return next.data, true
}

// Len reports the number of chunks currently queued, for stats/tests.
func (q *JitterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
