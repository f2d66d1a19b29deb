package channel

import (
	"io"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// link is one live session: a stream plus the queue, table and decoder
// that belong to it. A new link is built for every connection.
type link struct {
	e        *engine
	conn     io.ReadWriteCloser
	queue    *session.WriteQueue
	inflight *session.InflightTable
	decoder  *frame.Decoder
	done     chan struct{}
	lastRx   time.Time
}

func newLink(e *engine, conn io.ReadWriteCloser) *link {
	l := &link{
		e:      e,
		conn:   conn,
		done:   make(chan struct{}),
		lastRx: time.Now(),
	}
	l.queue = session.NewWriteQueue(e.cfg.Session.WriteQueueLimit, e.cfg.Session.BackpressureThreshold, e.emitBackpressure)
	if e.cfg.Mode == ModeFramed {
		l.inflight = session.NewInflightTable(&e.seq)
		l.decoder = frame.NewDecoder(e.limits)
	}
	return l
}

func (l *link) start() {
	go l.readLoop()
	if l.inflight != nil || l.e.cfg.Session.IdleTimeout > 0 {
		go l.tickLoop()
	}
}

func (l *link) readLoop() {
	buf := make([]byte, l.e.cfg.ReadChunkSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !l.e.tasks.post(func() { l.e.onChunk(l, chunk) }) {
				return
			}
		}
		if err != nil {
			l.e.tasks.post(func() { l.e.dropLink(l, err) })
			return
		}
	}
}

func (l *link) tickLoop() {
	t := time.NewTicker(l.e.cfg.Session.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !l.e.tasks.post(func() { l.e.tick(l) }) {
				return
			}
		case <-l.done:
			return
		}
	}
}

// write flushes b on its own goroutine; the queue guarantees at most one
// is in flight per link.
func (l *link) write(b []byte) {
	go func() {
		n, err := l.conn.Write(b)
		l.e.tasks.post(func() { l.e.onWritten(l, n, err) })
	}()
}

func (l *link) close() {
	close(l.done)
	_ = l.conn.Close()
}
