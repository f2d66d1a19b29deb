// Package admin serves the HTTP status surface for running channels.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgelink/internal/auth"
	"github.com/danmuck/edgelink/internal/channel"
	"github.com/danmuck/edgelink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jpillora/sizestr"
	"github.com/rs/zerolog/log"
)

const (
	Version = "0.1.0"

	defaultShutdownTimeout = 5 * time.Second
	defaultRequestWait     = 2 * time.Second
)

var (
	ErrDuplicateChannel = errors.New("admin: duplicate channel name")
	ErrUnknownChannel   = errors.New("admin: unknown channel")
)

type Options struct {
	ID          string
	Addr        string
	CORSOrigins []string
	// Token guards the mutating routes. Empty leaves them open.
	Token string
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router *gin.Engine
	guard  auth.Validator

	mu       sync.RWMutex
	channels map[string]channel.Channel
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	if opts.ID == "" {
		opts.ID = "edgelink"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       opts.ID,
		Addr:     opts.Addr,
		Appeared: time.Now(),
		router:   r,
		channels: make(map[string]channel.Channel),
	}
	if opts.Token != "" {
		s.guard = auth.StaticToken{Token: opts.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Register exposes ch under its name.
func (s *Server) Register(ch channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.Name())
	}
	s.channels[ch.Name()] = ch
	return nil
}

func (s *Server) lookup(name string) (channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, nil
}

func (s *Server) sorted() []channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]channel.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		list = append(list, ch)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Serve listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("admin", s.ID).Str("addr", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	return out
}

// ChannelView is the JSON shape of one channel's status.
type ChannelView struct {
	Name           string `json:"name"`
	Transport      string `json:"transport"`
	Endpoint       string `json:"endpoint,omitempty"`
	Mode           string `json:"mode"`
	State          string `json:"state"`
	Connected      bool   `json:"connected"`
	BytesSent      uint64 `json:"bytes_sent"`
	BytesReceived  uint64 `json:"bytes_received"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	Connects       uint64 `json:"connects"`
	Disconnects    uint64 `json:"disconnects"`
	RejectedPeers  uint64 `json:"rejected_peers"`
	Dropped        uint64 `json:"dropped"`
	Timeouts       uint64 `json:"timeouts"`
	QueuedBytes    int64  `json:"queued_bytes"`
	Queued         string `json:"queued"`
}

func viewOf(ch channel.Channel) ChannelView {
	st := ch.Stats()
	transport, endpoint := describe(ch)
	return ChannelView{
		Name:           ch.Name(),
		Transport:      transport,
		Endpoint:       endpoint,
		Mode:           ch.Mode().String(),
		State:          st.State.String(),
		Connected:      st.State == channel.Connected,
		BytesSent:      st.BytesSent,
		BytesReceived:  st.BytesReceived,
		FramesSent:     st.FramesSent,
		FramesReceived: st.FramesReceived,
		Connects:       st.Connects,
		Disconnects:    st.Disconnects,
		RejectedPeers:  st.RejectedPeers,
		Dropped:        st.Dropped,
		Timeouts:       st.Timeouts,
		QueuedBytes:    st.QueuedBytes,
		Queued:         sizestr.ToString(st.QueuedBytes),
	}
}

func describe(ch channel.Channel) (string, string) {
	switch c := ch.(type) {
	case *channel.TCPClient:
		return "tcp-client", c.Addr()
	case *channel.TCPServer:
		if addr := c.Addr(); addr != nil {
			return "tcp-server", addr.String()
		}
		return "tcp-server", ""
	case *channel.Serial:
		return "serial", c.Device()
	default:
		return "custom", ""
	}
}
