package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/session"
)

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, ch Channel, want State) {
	t.Helper()
	waitFor(t, 3*time.Second, "state "+want.String(), func() bool { return ch.State() == want })
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func fastBackoff() session.BackoffConfig {
	return session.BackoffConfig{
		InitialDelay: 20 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     200 * time.Millisecond,
	}
}

func startServer(t *testing.T, mode Mode) *TCPServer {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.Name = t.Name() + "-server"
	cfg.Mode = mode
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv, err := NewTCPServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.Stop)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	waitState(t, srv, Listening)
	return srv
}

func clientConfig(t *testing.T, mode Mode, port int) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Name = t.Name() + "-client"
	cfg.Mode = mode
	cfg.Port = port
	cfg.Reconnect = fastBackoff()
	return cfg
}

func newClient(t *testing.T, cfg ClientConfig) *TCPClient {
	t.Helper()
	c, err := NewTCPClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func serverPort(srv *TCPServer) int {
	return srv.Addr().(*net.TCPAddr).Port
}

// expectClosed fails unless the far side of conn closes it promptly.
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Read(make([]byte, 1))
	if err == nil {
		t.Fatalf("expected closed stream, read succeeded")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("stream was not closed: %v", err)
	}
}

// stopAndWait stops ch and waits for the teardown to finish.
func stopAndWait(t *testing.T, ch Channel) {
	t.Helper()
	ch.Stop()
	select {
	case <-ch.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("channel did not finish stopping; state=%v", ch.State())
	}
}

func assertStates(t *testing.T, got, want []State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("unexpected transitions got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition[%d] got=%v want=%v (all=%v)", i, got[i], want[i], got)
		}
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

// pipeOpener fails the first fails opens, then hands out one end of a
// fresh net.Pipe per open and keeps the peer ends for the test.
type pipeOpener struct {
	mu    sync.Mutex
	fails int
	opens []time.Time
	peers []net.Conn
}

func (p *pipeOpener) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens = append(p.opens, time.Now())
	if p.fails > 0 {
		p.fails--
		return nil, errors.New("device busy")
	}
	local, peer := net.Pipe()
	p.peers = append(p.peers, peer)
	return local, nil
}

func (p *pipeOpener) openTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.opens...)
}

func (p *pipeOpener) peer(i int) net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.peers) {
		return nil
	}
	return p.peers[i]
}

func (p *pipeOpener) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.peers {
		_ = c.Close()
	}
}

// scriptedListener plays back one Accept result per script entry: a nil
// entry hands out one end of a net.Pipe, anything else is returned as the
// error. Once the script runs out Accept blocks until Close.
type scriptedListener struct {
	mu     sync.Mutex
	script []error
	calls  []time.Time
	peers  []net.Conn
	closed chan struct{}
	once   sync.Once
}

func newScriptedListener(script ...error) *scriptedListener {
	return &scriptedListener{script: script, closed: make(chan struct{})}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	if len(l.script) > 0 {
		step := l.script[0]
		l.script = l.script[1:]
		if step != nil {
			l.mu.Unlock()
			return nil, step
		}
		local, peer := net.Pipe()
		l.peers = append(l.peers, peer)
		l.mu.Unlock()
		return local, nil
	}
	l.mu.Unlock()
	<-l.closed
	return nil, net.ErrClosed
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (l *scriptedListener) callTimes() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.calls...)
}

func (l *scriptedListener) closePeers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.peers {
		_ = c.Close()
	}
}
