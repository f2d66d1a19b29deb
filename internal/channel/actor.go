package channel

import "sync"

// actor runs posted tasks one at a time on a single goroutine. The queue
// is unbounded so a task may post more work without blocking.
type actor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newActor() *actor {
	return &actor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post queues fn. It reports false once the actor has been closed.
func (a *actor) post(fn func()) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()
	a.signal()
	return true
}

// close queues final as the last task and refuses later posts.
func (a *actor) close(final func()) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, final)
	a.closed = true
	a.mu.Unlock()
	a.signal()
	return true
}

func (a *actor) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *actor) run() {
	defer close(a.done)
	for range a.wake {
		for {
			a.mu.Lock()
			batch := a.queue
			a.queue = nil
			closed := a.closed
			a.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				fn()
			}
			if closed {
				return
			}
		}
	}
}
