package session

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
)

// Sequence hands out per-channel correlation ids. It wraps at 2^32 and
// never yields 0, which is reserved for fire-and-forget messages.
type Sequence struct {
	n atomic.Uint32
}

func (s *Sequence) Next() uint32 {
	for {
		if id := s.n.Add(1); id != 0 {
			return id
		}
	}
}

// PendingRequest tracks one request awaiting its correlated reply.
type PendingRequest struct {
	ID       uint32
	Deadline time.Time
	Result   *Result
}

// InflightTable owns the pending requests of one session. It is mutated only
// from the owning channel's serialized context, so it carries no lock.
type InflightTable struct {
	seq   *Sequence
	items map[uint32]PendingRequest
}

func NewInflightTable(seq *Sequence) *InflightTable {
	if seq == nil {
		seq = &Sequence{}
	}
	return &InflightTable{
		seq:   seq,
		items: make(map[uint32]PendingRequest),
	}
}

// NextID returns a fresh nonzero correlation id from the channel sequence.
func (t *InflightTable) NextID() uint32 {
	return t.seq.Next()
}

// Register records a pending request. A collision with a live id is
// rejected rather than silently replacing the older waiter.
func (t *InflightTable) Register(id uint32, deadline time.Time, result *Result) error {
	if _, ok := t.items[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	t.items[id] = PendingRequest{ID: id, Deadline: deadline, Result: result}
	return nil
}

// Fulfill resolves the waiter for msg.CorrelationID. It returns false when
// no request is pending under that id.
func (t *InflightTable) Fulfill(msg frame.Message) bool {
	item, ok := t.items[msg.CorrelationID]
	if !ok {
		return false
	}
	delete(t.items, msg.CorrelationID)
	item.Result.Resolve(msg)
	return true
}

// Fail resolves one pending request with err, if present.
func (t *InflightTable) Fail(id uint32, err error) bool {
	item, ok := t.items[id]
	if !ok {
		return false
	}
	delete(t.items, id)
	item.Result.Fail(err)
	return true
}

// Sweep fails every request whose deadline is at or before now and returns
// the expired ids in ascending order.
func (t *InflightTable) Sweep(now time.Time) []uint32 {
	var expired []uint32
	for id, item := range t.items {
		if !item.Deadline.After(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, id := range expired {
		item := t.items[id]
		delete(t.items, id)
		item.Result.Fail(ErrRequestTimeout)
	}
	return expired
}

// CloseAll fails every pending request with err and empties the table.
func (t *InflightTable) CloseAll(err error) int {
	n := len(t.items)
	for id, item := range t.items {
		delete(t.items, id)
		item.Result.Fail(err)
	}
	return n
}

func (t *InflightTable) Get(id uint32) (PendingRequest, bool) {
	item, ok := t.items[id]
	return item, ok
}

func (t *InflightTable) Len() int {
	return len(t.items)
}
