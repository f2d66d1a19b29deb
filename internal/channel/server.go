package channel

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// TCPServer listens on one address and serves at most one peer at a time.
// A peer that connects while a session is live is closed immediately.
type TCPServer struct {
	*engine
	acceptor *acceptor
}

func NewTCPServer(cfg ServerConfig) (*TCPServer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "tcp-server:" + cfg.Addr()
	}
	s := &TCPServer{}
	s.engine = newEngine("tcp-server", cfg.Config)
	s.acceptor = &acceptor{e: s.engine, cfg: cfg, listen: net.Listen}
	s.drv = s.acceptor
	return s, nil
}

// Addr returns the bound listener address, or nil before the first
// successful bind.
func (s *TCPServer) Addr() net.Addr {
	if a := s.acceptor.addr.Load(); a != nil {
		return *a
	}
	return nil
}

type acceptor struct {
	e            *engine
	cfg          ServerConfig
	listen       func(network, address string) (net.Listener, error)
	ln           net.Listener
	addr         atomic.Pointer[net.Addr]
	bindFailures int
}

func (a *acceptor) begin() {
	a.bind()
}

func (a *acceptor) bind() {
	ln, err := a.listen("tcp", a.cfg.Addr())
	if err != nil {
		a.bindFailures++
		if a.cfg.BindRetry && a.bindFailures <= a.cfg.MaxBindRetries {
			a.e.log.Warn().Err(err).
				Int("attempt", a.bindFailures).
				Dur("retry_in", a.cfg.BindRetryInterval).
				Msg("bind failed")
			a.e.after(a.cfg.BindRetryInterval, a.bind)
			return
		}
		a.e.log.Error().Err(err).Str("addr", a.cfg.Addr()).Msg("bind failed; giving up")
		a.e.setState(Error)
		return
	}
	a.ln = ln
	addr := ln.Addr()
	a.addr.Store(&addr)
	a.e.log.Info().Str("addr", addr.String()).Msg("listening")
	a.e.setState(Listening)
	go a.acceptLoop(a.e.ctx, ln)
}

// acceptLoop keeps accepting for the listener lifetime so concurrent peers
// can be turned away. Accept errors back off without leaving Listening.
func (a *acceptor) acceptLoop(ctx context.Context, ln net.Listener) {
	bo := session.NewBackoff(a.cfg.Accept)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			delay := bo.Next()
			a.e.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
			continue
		}
		bo.Reset()
		if !a.e.tasks.post(func() { a.admit(conn) }) {
			_ = conn.Close()
			return
		}
	}
}

func (a *acceptor) admit(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	if a.e.link != nil {
		_ = conn.Close()
		a.e.rejected.Add(1)
		observability.RecordRejectedPeer(a.e.name)
		a.e.log.Info().Str("peer", peer).Msg("peer rejected: session active")
		return
	}
	a.e.attach(conn, peer)
}

func (a *acceptor) sessionEnded(error) {
	a.e.setState(Listening)
}

func (a *acceptor) shutdown() {
	if a.ln != nil {
		_ = a.ln.Close()
		a.ln = nil
	}
}
