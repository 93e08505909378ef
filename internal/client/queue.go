package client

import (
	"sync"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
)

type queueEntry struct {
	env        protocol.Envelope
	enqueuedAt time.Time
}

// outboundQueue buffers envelopes produced while the client is not
// authenticated. FIFO, bounded; overflow drops the oldest entry so the most
// recent traffic survives an extended outage.
type outboundQueue struct {
	mu      sync.Mutex
	entries []queueEntry
	max     int
	log     logger.Logger
}

func newOutboundQueue(max int, log logger.Logger) *outboundQueue {
	return &outboundQueue{
		max: max,
		log: log,
	}
}

// Enqueue appends regardless of connection state.
func (q *outboundQueue) Enqueue(env protocol.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.max > 0 && len(q.entries) >= q.max {
		dropped := q.entries[0]
		q.entries = q.entries[1:]
		q.log.WithFields(logger.LogFields{
			"kind":        string(dropped.env.Kind()),
			"enqueued_at": dropped.enqueuedAt.UTC().Format(time.RFC3339),
		}).Warn("outbound_queue_overflow", "Queue full, dropping oldest entry")
	}

	q.entries = append(q.entries, queueEntry{env: env, enqueuedAt: time.Now()})
}

// Dequeue pops the oldest entry.
func (q *outboundQueue) Dequeue() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Requeue puts a dequeued entry back at the front, preserving order after a
// failed mid-flush send.
func (q *outboundQueue) Requeue(e queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]queueEntry{e}, q.entries...)
}

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
