package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/jpillora/sizestr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// driver is the transport-specific half of a channel. Every method runs
// on the actor.
type driver interface {
	// begin starts the first connect, open or bind after Start.
	begin()
	// sessionEnded decides what follows a torn-down session. It is not
	// called when the channel is stopping.
	sessionEnded(err error)
	// shutdown releases transport resources on Stop.
	shutdown()
}

// engine is the connection state machine shared by every transport.
// Fields below the actor marker are touched only from actor tasks.
type engine struct {
	name   string
	kind   string
	cfg    Config
	limits frame.Limits
	log    zerolog.Logger
	drv    driver

	tasks   *actor
	runOnce sync.Once
	started atomic.Bool
	stopped atomic.Bool
	state   atomic.Int32
	seq     session.Sequence

	mu             sync.RWMutex
	onReceive      ReceiveHandler
	onBytes        BytesHandler
	onState        StateHandler
	onBackpressure BackpressureHandler

	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	connects       atomic.Uint64
	disconnects    atomic.Uint64
	rejected       atomic.Uint64
	dropped        atomic.Uint64
	timeouts       atomic.Uint64
	queued         atomic.Int64

	// actor
	ctx       context.Context
	cancel    context.CancelFunc
	stopping  bool
	link      *link
	detached  *session.InflightTable
	deadlines map[uint32]*time.Timer
	retry     *time.Timer
	retryGen  uint64
}

func newEngine(kind string, cfg Config) *engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &engine{
		name:      cfg.Name,
		kind:      kind,
		cfg:       cfg,
		limits:    frame.Limits{MaxPacketBytes: cfg.Session.MaxPacketBytes}.WithDefaults(),
		tasks:     newActor(),
		ctx:       ctx,
		cancel:    cancel,
		deadlines: make(map[uint32]*time.Timer),
	}
	e.detached = session.NewInflightTable(&e.seq)
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	e.log = observability.ChannelLogger(base, e.name, kind)
	return e
}

func (e *engine) Name() string {
	return e.name
}

func (e *engine) Mode() Mode {
	return e.cfg.Mode
}

func (e *engine) ensureRunning() {
	e.runOnce.Do(func() {
		go e.tasks.run()
	})
}

func (e *engine) Start() error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	e.ensureRunning()
	if !e.tasks.post(e.drv.begin) {
		return ErrStopped
	}
	e.log.Info().Str("mode", e.cfg.Mode.String()).Msg("channel starting")
	return nil
}

// Stop queues the teardown and returns without waiting, so it is safe to
// call from a callback. Done closes once the teardown has run.
func (e *engine) Stop() {
	e.stopped.Store(true)
	e.ensureRunning()
	e.tasks.close(e.shutdown)
}

func (e *engine) Done() <-chan struct{} {
	return e.tasks.done
}

func (e *engine) State() State {
	return State(e.state.Load())
}

func (e *engine) IsConnected() bool {
	return e.State() == Connected
}

func (e *engine) Stats() Stats {
	return Stats{
		State:          e.State(),
		BytesSent:      e.bytesSent.Load(),
		BytesReceived:  e.bytesReceived.Load(),
		FramesSent:     e.framesSent.Load(),
		FramesReceived: e.framesReceived.Load(),
		Connects:       e.connects.Load(),
		Disconnects:    e.disconnects.Load(),
		RejectedPeers:  e.rejected.Load(),
		Dropped:        e.dropped.Load(),
		Timeouts:       e.timeouts.Load(),
		QueuedBytes:    e.queued.Load(),
	}
}

func (e *engine) OnReceive(cb ReceiveHandler) {
	e.mu.Lock()
	e.onReceive = cb
	e.mu.Unlock()
}

func (e *engine) OnBytes(cb BytesHandler) {
	e.mu.Lock()
	e.onBytes = cb
	e.mu.Unlock()
}

func (e *engine) OnState(cb StateHandler) {
	e.mu.Lock()
	e.onState = cb
	e.mu.Unlock()
}

func (e *engine) OnBackpressure(cb BackpressureHandler) {
	e.mu.Lock()
	e.onBackpressure = cb
	e.mu.Unlock()
}

func (e *engine) checkLive() error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (e *engine) Send(p []byte) error {
	if e.cfg.Mode == ModeFramed {
		return e.SendMessage(frame.Message{Payload: p})
	}
	if err := e.checkLive(); err != nil {
		return err
	}
	buf := append([]byte(nil), p...)
	return e.submit(buf)
}

func (e *engine) SendMessage(msg frame.Message) error {
	if e.cfg.Mode != ModeFramed {
		return ErrNotFramed
	}
	if err := e.checkLive(); err != nil {
		return err
	}
	b, err := frame.Encode(msg, e.limits)
	if err != nil {
		return err
	}
	return e.submit(b)
}

func (e *engine) submit(b []byte) error {
	ok := e.tasks.post(func() {
		if err := e.enqueue(b); err != nil {
			e.log.Warn().Err(err).Int("bytes", len(b)).Msg("send dropped")
		}
	})
	if !ok {
		return ErrStopped
	}
	return nil
}

func (e *engine) Request(payload []byte, timeout time.Duration) *session.Result {
	if e.cfg.Mode != ModeFramed {
		return session.FailedResult(0, ErrNotFramed)
	}
	if timeout <= 0 {
		timeout = e.cfg.Session.RequestTimeout
	}
	id := e.seq.Next()
	b, err := frame.Encode(frame.Message{CorrelationID: id, Payload: payload}, e.limits)
	if err != nil {
		return session.FailedResult(id, err)
	}
	res := session.NewResult(id)
	deadline := time.Now().Add(timeout)
	e.ensureRunning()
	if !e.tasks.post(func() { e.request(id, deadline, res, b) }) {
		res.Fail(session.ErrChannelClosed)
	}
	return res
}

func (e *engine) request(id uint32, deadline time.Time, res *session.Result, b []byte) {
	l := e.link
	if l == nil {
		e.detach(id, deadline, res)
		return
	}
	if err := l.inflight.Register(id, deadline, res); err != nil {
		res.Fail(err)
		observability.RecordRequests(e.name, observability.OutcomeError, 1)
		return
	}
	if err := e.enqueue(b); err != nil {
		l.inflight.Fail(id, err)
		observability.RecordRequests(e.name, observability.OutcomeError, 1)
	}
}

// detach parks a request issued while no session is live. It is never
// sent; it resolves at its deadline or when the channel stops.
func (e *engine) detach(id uint32, deadline time.Time, res *session.Result) {
	if err := e.detached.Register(id, deadline, res); err != nil {
		res.Fail(err)
		return
	}
	e.deadlines[id] = time.AfterFunc(time.Until(deadline), func() {
		e.tasks.post(func() { e.expireDetached(id) })
	})
	e.log.Debug().Uint32("id", id).Msg("request parked: no session")
}

func (e *engine) expireDetached(id uint32) {
	delete(e.deadlines, id)
	if e.detached.Fail(id, session.ErrRequestTimeout) {
		e.timeouts.Add(1)
		observability.RecordRequests(e.name, observability.OutcomeTimeout, 1)
	}
}

func (e *engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old == s {
		return
	}
	e.log.Info().Str("from", old.String()).Str("to", s.String()).Msg("state")
	observability.SetChannelState(e.name, e.kind, int(s))
	e.mu.RLock()
	cb := e.onState
	e.mu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

// after runs fn on the actor once d elapses, replacing any pending retry.
func (e *engine) after(d time.Duration, fn func()) {
	e.stopRetry()
	e.retryGen++
	gen := e.retryGen
	e.retry = time.AfterFunc(d, func() {
		e.tasks.post(func() {
			if gen == e.retryGen && !e.stopping {
				fn()
			}
		})
	})
}

func (e *engine) stopRetry() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
}

// attach promotes conn to the live session.
func (e *engine) attach(conn io.ReadWriteCloser, peer string) {
	l := newLink(e, conn)
	e.link = l
	e.connects.Add(1)
	observability.RecordConnect(e.name, e.kind)
	e.log.Info().Str("peer", peer).Msg("session up")
	l.start()
	e.setState(Connected)
}

// dropLink tears down l if it is still the live session: the stream is
// closed, pending requests fail and unwritten frames are discarded before
// the driver may retry.
func (e *engine) dropLink(l *link, err error) {
	if e.link != l {
		return
	}
	e.link = nil
	l.close()
	discarded := l.queue.Discard()
	failed := 0
	if l.inflight != nil {
		failed = l.inflight.CloseAll(session.ErrChannelClosed)
	}
	e.queued.Store(0)
	observability.SetQueuedBytes(e.name, 0)
	if failed > 0 {
		observability.RecordRequests(e.name, observability.OutcomeClosed, failed)
	}
	e.disconnects.Add(1)
	reason := disconnectReason(err)
	observability.RecordDisconnect(e.name, reason)

	event := e.log.Warn()
	if reason == "stop" {
		event = e.log.Info()
	}
	event.Err(err).
		Str("reason", reason).
		Int("failed_requests", failed).
		Str("discarded", sizestr.ToString(int64(discarded))).
		Msg("session down")

	if !e.stopping {
		e.drv.sessionEnded(err)
	}
}

func (e *engine) enqueue(b []byte) error {
	l := e.link
	if l == nil {
		e.dropped.Add(1)
		return ErrNotConnected
	}
	next, err := l.queue.Enqueue(b)
	if err != nil {
		e.dropped.Add(1)
		return err
	}
	e.setQueued(l.queue.Queued())
	if next != nil {
		l.write(next)
	}
	return nil
}

func (e *engine) setQueued(n int) {
	e.queued.Store(int64(n))
	observability.SetQueuedBytes(e.name, n)
}

func (e *engine) onWritten(l *link, n int, err error) {
	if e.link != l {
		return
	}
	if err != nil {
		e.dropLink(l, fmt.Errorf("%w: %v", session.ErrWriteFailed, err))
		return
	}
	e.bytesSent.Add(uint64(n))
	e.framesSent.Add(1)
	observability.RecordTraffic(e.name, observability.DirectionOut, n)
	next := l.queue.Complete(n)
	e.setQueued(l.queue.Queued())
	if next != nil {
		l.write(next)
	}
}

func (e *engine) onChunk(l *link, p []byte) {
	if e.link != l {
		return
	}
	l.lastRx = time.Now()
	e.bytesReceived.Add(uint64(len(p)))
	if l.decoder == nil {
		e.framesReceived.Add(1)
		observability.RecordTraffic(e.name, observability.DirectionIn, len(p))
		e.mu.RLock()
		cb := e.onBytes
		e.mu.RUnlock()
		if cb != nil {
			cb(p)
		}
		return
	}

	msgs, err := l.decoder.Feed(p)
	for _, msg := range msgs {
		e.deliver(l, msg)
	}
	if err != nil {
		e.dropLink(l, err)
	}
}

func (e *engine) deliver(l *link, msg frame.Message) {
	e.framesReceived.Add(1)
	observability.RecordTraffic(e.name, observability.DirectionIn, frame.HeaderLen+frame.CorrelationLen+len(msg.Payload))
	e.log.Trace().Uint32("id", msg.CorrelationID).Int("payload", len(msg.Payload)).Msg("frame in")
	if msg.CorrelationID != 0 && l.inflight.Fulfill(msg) {
		observability.RecordRequests(e.name, observability.OutcomeOK, 1)
		return
	}
	e.mu.RLock()
	cb := e.onReceive
	e.mu.RUnlock()
	if cb != nil {
		cb(msg)
	}
}

// tick is the per-session housekeeping pass: request sweep and idle check.
func (e *engine) tick(l *link) {
	if e.link != l {
		return
	}
	now := time.Now()
	if l.inflight != nil {
		if expired := l.inflight.Sweep(now); len(expired) > 0 {
			e.timeouts.Add(uint64(len(expired)))
			observability.RecordRequests(e.name, observability.OutcomeTimeout, len(expired))
			e.log.Debug().Int("count", len(expired)).Msg("requests timed out")
		}
	}
	if idle := e.cfg.Session.IdleTimeout; idle > 0 && now.Sub(l.lastRx) >= idle {
		e.dropLink(l, fmt.Errorf("%w after %s", ErrIdleTimeout, idle))
	}
}

func (e *engine) emitBackpressure(queued int) {
	e.log.Debug().Str("queued", sizestr.ToString(int64(queued))).Msg("backpressure")
	e.mu.RLock()
	cb := e.onBackpressure
	e.mu.RUnlock()
	if cb != nil {
		cb(queued)
	}
}

// shutdown is the final actor task.
func (e *engine) shutdown() {
	e.stopping = true
	e.cancel()
	e.stopRetry()
	e.drv.shutdown()
	if l := e.link; l != nil {
		e.dropLink(l, ErrStopped)
	}
	for id, t := range e.deadlines {
		t.Stop()
		delete(e.deadlines, id)
	}
	if n := e.detached.CloseAll(session.ErrChannelClosed); n > 0 {
		observability.RecordRequests(e.name, observability.OutcomeClosed, n)
	}
	e.setState(Closed)
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrStopped):
		return "stop"
	case errors.Is(err, ErrIdleTimeout):
		return "idle"
	case errors.Is(err, session.ErrWriteFailed):
		return "write"
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, frame.ErrLengthTooSmall), errors.Is(err, frame.ErrPacketTooLarge):
		return "protocol"
	default:
		return "read"
	}
}
