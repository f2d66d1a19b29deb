package channel

import (
	"context"
	"io"

	"github.com/danmuck/edgelink/internal/protocol/session"
)

// openFunc obtains a fresh stream and a peer label for logs.
type openFunc func(ctx context.Context) (io.ReadWriteCloser, string, error)

// redialer drives the client and serial variants: open, attach, and on
// failure retry with exponential backoff until maxRetries is exceeded.
type redialer struct {
	e          *engine
	open       openFunc
	backoff    *session.Backoff
	maxRetries int
	// reopen decides whether a dropped session is retried or parks the
	// channel in Error.
	reopen   bool
	failures int
	dialing  bool
}

func newRedialer(e *engine, open openFunc, maxRetries int, reopen bool) *redialer {
	return &redialer{
		e:          e,
		open:       open,
		backoff:    session.NewBackoff(e.cfg.Reconnect),
		maxRetries: maxRetries,
		reopen:     reopen,
	}
}

func (r *redialer) begin() {
	r.e.setState(Connecting)
	r.attempt()
}

func (r *redialer) attempt() {
	if r.dialing || r.e.link != nil {
		return
	}
	r.dialing = true
	ctx := r.e.ctx
	go func() {
		conn, peer, err := r.open(ctx)
		posted := r.e.tasks.post(func() { r.opened(conn, peer, err) })
		if !posted && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (r *redialer) opened(conn io.ReadWriteCloser, peer string, err error) {
	r.dialing = false
	if err != nil {
		r.failed(err)
		return
	}
	r.failures = 0
	r.backoff.Reset()
	r.e.attach(conn, peer)
}

func (r *redialer) failed(err error) {
	r.failures++
	if r.maxRetries >= 0 && r.failures > r.maxRetries {
		r.e.log.Error().Err(err).Int("failures", r.failures).Msg("retry limit reached")
		r.e.setState(Error)
		return
	}
	delay := r.backoff.Next()
	r.e.log.Warn().Err(err).Int("attempt", r.failures).Dur("retry_in", delay).Msg("open failed")
	r.e.setState(Connecting)
	r.e.after(delay, r.attempt)
}

func (r *redialer) sessionEnded(err error) {
	if !r.reopen {
		r.e.log.Error().Err(err).Msg("stream lost; reopen disabled")
		r.e.setState(Error)
		return
	}
	delay := r.backoff.Next()
	r.e.setState(Connecting)
	r.e.log.Info().Dur("retry_in", delay).Msg("reconnect scheduled")
	r.e.after(delay, r.attempt)
}

func (r *redialer) shutdown() {}
