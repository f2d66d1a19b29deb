package session

import "fmt"

// WriteQueue is the ordered outbound buffer of one session. Entries are
// written one at a time, front first; the owner starts a write when Enqueue
// or Complete hands back a buffer and reports the result through Complete.
// Not safe for concurrent use.
type WriteQueue struct {
	entries   [][]byte
	queued    int
	limit     int
	highWater int
	writing   bool
	flushed   uint64

	onPressure func(queued int)
}

// NewWriteQueue builds a queue. limit caps the number of entries (<= 0 means
// unbounded); highWater is the byte count above which onPressure fires.
func NewWriteQueue(limit, highWater int, onPressure func(queued int)) *WriteQueue {
	return &WriteQueue{
		limit:      limit,
		highWater:  highWater,
		onPressure: onPressure,
	}
}

// Enqueue appends b. When no write is in flight it returns the buffer the
// caller must start writing now; otherwise it returns nil. The pressure hook
// fires on every enqueue that leaves the byte total above the high-water mark.
func (q *WriteQueue) Enqueue(b []byte) ([]byte, error) {
	if q.limit > 0 && len(q.entries) >= q.limit {
		return nil, fmt.Errorf("%w: %d entries", ErrQueueFull, len(q.entries))
	}
	q.entries = append(q.entries, b)
	q.queued += len(b)
	if q.onPressure != nil && q.highWater > 0 && q.queued > q.highWater {
		q.onPressure(q.queued)
	}
	if q.writing {
		return nil, nil
	}
	q.writing = true
	return q.entries[0], nil
}

// Complete records that the front entry was flushed with n bytes written
// and returns the next buffer to write, or nil once the queue is drained.
func (q *WriteQueue) Complete(n int) []byte {
	if len(q.entries) == 0 {
		q.writing = false
		return nil
	}
	// io.Writer never reports a short write without an error, so the whole
	// front entry leaves the counter.
	q.queued -= len(q.entries[0])
	q.flushed += uint64(n)
	q.entries[0] = nil
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil
		q.writing = false
		return nil
	}
	return q.entries[0]
}

// Discard drops every buffered entry after a write failure or teardown and
// returns how many bytes were thrown away.
func (q *WriteQueue) Discard() int {
	dropped := q.queued
	q.entries = nil
	q.queued = 0
	q.writing = false
	return dropped
}

// Queued returns the bytes accepted but not yet flushed.
func (q *WriteQueue) Queued() int {
	return q.queued
}

// Flushed returns the total bytes reported written over the queue lifetime.
func (q *WriteQueue) Flushed() uint64 {
	return q.flushed
}

func (q *WriteQueue) Len() int {
	return len(q.entries)
}

// Writing reports whether a flush is in flight.
func (q *WriteQueue) Writing() bool {
	return q.writing
}
