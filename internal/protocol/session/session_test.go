package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
)

func TestBackoffGrowthCapAndReset(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second})
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("delay[%d] got=%v want=%v", i, got, w)
		}
	}
	if b.Failures() != len(want) {
		t.Fatalf("unexpected failure count=%d", b.Failures())
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset got=%v", got)
	}
}

func TestBackoffConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 5 * time.Second, MaxDelay: time.Second}.WithDefaults()
	if cfg.Multiplier != 2 {
		t.Fatalf("unexpected multiplier=%v", cfg.Multiplier)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Fatalf("max must not undercut initial, got=%v", cfg.MaxDelay)
	}
}

func TestConfigWithDefaultsClampsThreshold(t *testing.T) {
	testlog.Start(t)
	cfg := Config{BackpressureThreshold: 10}.WithDefaults()
	if cfg.BackpressureThreshold != MinBackpressureThreshold {
		t.Fatalf("low threshold got=%d", cfg.BackpressureThreshold)
	}
	cfg = Config{BackpressureThreshold: 1 << 30}.WithDefaults()
	if cfg.BackpressureThreshold != MaxBackpressureThreshold {
		t.Fatalf("high threshold got=%d", cfg.BackpressureThreshold)
	}
	cfg = Config{}.WithDefaults()
	if cfg.RequestTimeout != 1500*time.Millisecond || cfg.SweepInterval != 100*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxPacketBytes != 65535 || cfg.WriteQueueLimit != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSequenceDistinctNonZero(t *testing.T) {
	testlog.Start(t)
	var seq Sequence
	seen := make(map[uint32]bool)
	for i := 0; i < 10000; i++ {
		id := seq.Next()
		if id == 0 {
			t.Fatalf("sequence returned 0 at i=%d", i)
		}
		if seen[id] {
			t.Fatalf("duplicate id=%d", id)
		}
		seen[id] = true
	}
}

func TestSequenceSkipsZeroOnWrap(t *testing.T) {
	testlog.Start(t)
	var seq Sequence
	seq.n.Store(^uint32(0) - 1)
	if got := seq.Next(); got != ^uint32(0) {
		t.Fatalf("got=%d", got)
	}
	if got := seq.Next(); got != 1 {
		t.Fatalf("wrap should skip 0, got=%d", got)
	}
}

func TestInflightFulfillOnce(t *testing.T) {
	testlog.Start(t)
	table := NewInflightTable(nil)
	id := table.NextID()
	res := NewResult(id)
	if err := table.Register(id, time.Now().Add(time.Second), res); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !table.Fulfill(frame.Message{CorrelationID: id, Payload: []byte("pong")}) {
		t.Fatalf("expected pending id to be fulfilled")
	}
	if table.Fulfill(frame.Message{CorrelationID: id}) {
		t.Fatalf("second fulfill must report not found")
	}
	msg, err := res.Wait(context.Background())
	if err != nil || string(msg.Payload) != "pong" {
		t.Fatalf("unexpected result msg=%+v err=%v", msg, err)
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty, len=%d", table.Len())
	}
}

func TestInflightRejectsDuplicateID(t *testing.T) {
	testlog.Start(t)
	table := NewInflightTable(nil)
	first := NewResult(7)
	if err := table.Register(7, time.Now().Add(time.Second), first); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := table.Register(7, time.Now().Add(time.Second), NewResult(7))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if item, ok := table.Get(7); !ok || item.Result != first {
		t.Fatalf("first waiter must be kept")
	}
}

func TestInflightSweepPrecision(t *testing.T) {
	testlog.Start(t)
	table := NewInflightTable(nil)
	base := time.Unix(1700000000, 0)
	early := NewResult(1)
	late := NewResult(2)
	_ = table.Register(1, base.Add(100*time.Millisecond), early)
	_ = table.Register(2, base.Add(300*time.Millisecond), late)

	if got := table.Sweep(base.Add(99 * time.Millisecond)); len(got) != 0 {
		t.Fatalf("nothing should expire before deadline, got=%v", got)
	}
	got := table.Sweep(base.Add(100 * time.Millisecond))
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("deadline tick should expire id 1, got=%v", got)
	}
	if !errors.Is(early.Err(), ErrRequestTimeout) {
		t.Fatalf("expected timeout failure, got %v", early.Err())
	}
	if _, ok := table.Get(2); !ok {
		t.Fatalf("later request must stay pending")
	}
	if table.Fulfill(frame.Message{CorrelationID: 1}) {
		t.Fatalf("expired id must not be fulfilled by a late reply")
	}
}

func TestInflightCloseAll(t *testing.T) {
	testlog.Start(t)
	table := NewInflightTable(nil)
	results := make([]*Result, 0, 5)
	for i := 0; i < 5; i++ {
		id := table.NextID()
		res := NewResult(id)
		results = append(results, res)
		_ = table.Register(id, time.Now().Add(time.Hour), res)
	}
	if n := table.CloseAll(ErrChannelClosed); n != 5 {
		t.Fatalf("closed=%d", n)
	}
	for _, res := range results {
		if !errors.Is(res.Err(), ErrChannelClosed) {
			t.Fatalf("expected closed failure, got %v", res.Err())
		}
	}
	if table.CloseAll(ErrChannelClosed) != 0 {
		t.Fatalf("second close_all must be empty")
	}
}

func TestResultResolvesExactlyOnce(t *testing.T) {
	testlog.Start(t)
	res := NewResult(3)
	var wg sync.WaitGroup
	wins := make(chan bool, 3)
	wg.Add(3)
	go func() { defer wg.Done(); wins <- res.Resolve(frame.Message{CorrelationID: 3}) }()
	go func() { defer wg.Done(); wins <- res.Fail(ErrRequestTimeout) }()
	go func() { defer wg.Done(); wins <- res.Fail(ErrChannelClosed) }()
	wg.Wait()
	close(wins)
	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got=%d", count)
	}
	select {
	case <-res.Done():
	default:
		t.Fatalf("result should be done")
	}
}

func TestResultWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	res := NewResult(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := res.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res.Err() != nil {
		t.Fatalf("pending result should report nil err")
	}
}

func TestWriteQueueFIFOAndFlushHandoff(t *testing.T) {
	testlog.Start(t)
	q := NewWriteQueue(0, 1<<20, nil)
	first, err := q.Enqueue([]byte("aa"))
	if err != nil || string(first) != "aa" {
		t.Fatalf("first enqueue should start flush, got=%q err=%v", first, err)
	}
	if next, _ := q.Enqueue([]byte("bbb")); next != nil {
		t.Fatalf("enqueue during flush must not start a second write")
	}
	_, _ = q.Enqueue([]byte("c"))
	if q.Queued() != 6 || q.Len() != 3 {
		t.Fatalf("queued=%d len=%d", q.Queued(), q.Len())
	}
	if next := q.Complete(2); string(next) != "bbb" {
		t.Fatalf("expected bbb next, got=%q", next)
	}
	if next := q.Complete(3); string(next) != "c" {
		t.Fatalf("expected c next, got=%q", next)
	}
	if next := q.Complete(1); next != nil {
		t.Fatalf("drained queue should stop flushing, got=%q", next)
	}
	if q.Writing() || q.Queued() != 0 || q.Flushed() != 6 {
		t.Fatalf("writing=%v queued=%d flushed=%d", q.Writing(), q.Queued(), q.Flushed())
	}
	if again, _ := q.Enqueue([]byte("d")); string(again) != "d" {
		t.Fatalf("idle queue should restart flush")
	}
}

func TestWriteQueueBackpressureLevelTriggered(t *testing.T) {
	testlog.Start(t)
	var fired []int
	q := NewWriteQueue(0, 10, func(queued int) { fired = append(fired, queued) })
	_, _ = q.Enqueue(make([]byte, 6))
	if len(fired) != 0 {
		t.Fatalf("below mark must not fire: %v", fired)
	}
	_, _ = q.Enqueue(make([]byte, 6))
	_, _ = q.Enqueue(make([]byte, 1))
	if len(fired) != 2 || fired[0] != 12 || fired[1] != 13 {
		t.Fatalf("expected level-triggered totals [12 13], got=%v", fired)
	}
	q.Complete(6)
	q.Complete(6)
	if len(fired) != 2 {
		t.Fatalf("draining must not fire: %v", fired)
	}
}

func TestWriteQueueLimitAndDiscard(t *testing.T) {
	testlog.Start(t)
	q := NewWriteQueue(2, 1<<20, nil)
	_, _ = q.Enqueue([]byte("a"))
	_, _ = q.Enqueue([]byte("b"))
	if _, err := q.Enqueue([]byte("c")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if dropped := q.Discard(); dropped != 2 {
		t.Fatalf("dropped=%d", dropped)
	}
	if q.Len() != 0 || q.Writing() {
		t.Fatalf("discard should reset queue")
	}
}
