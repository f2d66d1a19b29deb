package session

import (
	"context"
	"sync"

	"github.com/danmuck/edgelink/internal/protocol/frame"
)

// Result is the single-resolution handle returned for one request.
// The first Resolve or Fail wins; later calls are no-ops. Reads may happen
// any number of times from any goroutine.
type Result struct {
	id   uint32
	once sync.Once
	done chan struct{}
	msg  frame.Message
	err  error
}

func NewResult(id uint32) *Result {
	return &Result{id: id, done: make(chan struct{})}
}

// FailedResult returns a handle that is already resolved with err.
func FailedResult(id uint32, err error) *Result {
	r := NewResult(id)
	r.Fail(err)
	return r
}

// ID returns the correlation id the request was sent with.
func (r *Result) ID() uint32 {
	return r.id
}

// Resolve completes the handle with a reply. Reports whether this call won.
func (r *Result) Resolve(msg frame.Message) bool {
	won := false
	r.once.Do(func() {
		r.msg = msg
		won = true
		close(r.done)
	})
	return won
}

// Fail completes the handle with err. Reports whether this call won.
func (r *Result) Fail(err error) bool {
	won := false
	r.once.Do(func() {
		r.err = err
		won = true
		close(r.done)
	})
	return won
}

// Done is closed once the handle is resolved.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the handle resolves or ctx ends. It must not be called
// from a channel callback.
func (r *Result) Wait(ctx context.Context) (frame.Message, error) {
	select {
	case <-r.done:
		return r.msg, r.err
	case <-ctx.Done():
		return frame.Message{}, ctx.Err()
	}
}

// Err returns the failure once resolved; nil while pending or on a reply.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
