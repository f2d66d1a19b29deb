package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/edgelink/internal/auth"
	"github.com/danmuck/edgelink/internal/channel"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 64 << 10

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Ready once every registered channel holds a session or is listening.
	r.GET("/ready", func(c *gin.Context) {
		pending := []string{}
		for _, ch := range s.sorted() {
			switch ch.State() {
			case channel.Connected, channel.Listening:
			default:
				pending = append(pending, ch.Name())
			}
		}
		status := http.StatusOK
		if len(pending) > 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   len(pending) == 0,
			"pending": pending,
			"service": s.ID,
		})
	})

	r.GET("/channels", func(c *gin.Context) {
		list := s.sorted()
		views := make([]ChannelView, 0, len(list))
		for _, ch := range list {
			views = append(views, viewOf(ch))
		}
		c.JSON(http.StatusOK, gin.H{"channels": views})
	})

	r.GET("/channels/:name", func(c *gin.Context) {
		ch, err := s.lookup(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, viewOf(ch))
	})

	guarded := r.Group("/channels/:name", auth.Require(s.guard))
	guarded.POST("/send", s.handleSend)
	guarded.POST("/request", s.handleRequest)
}

func (s *Server) handleSend(c *gin.Context) {
	ch, payload, ok := s.prepare(c)
	if !ok {
		return
	}
	if err := ch.Send(payload); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "bytes": len(payload)})
}

// handleRequest issues a correlated request and waits for the reply.
// timeout_ms overrides the channel default.
func (s *Server) handleRequest(c *gin.Context) {
	ch, payload, ok := s.prepare(c)
	if !ok {
		return
	}
	if ch.Mode() != channel.ModeFramed {
		c.JSON(http.StatusConflict, gin.H{"error": channel.ErrNotFramed.Error()})
		return
	}
	var timeout time.Duration
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_ms must be a non-negative integer"})
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	res := ch.Request(payload, timeout)
	wait := timeout
	if wait <= 0 {
		wait = defaultRequestWait
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait+time.Second)
	defer cancel()
	msg, err := res.Wait(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "id": res.ID()})
		return
	}
	c.JSON(http.StatusOK, replyView(msg))
}

func (s *Server) prepare(c *gin.Context) (channel.Channel, []byte, bool) {
	ch, err := s.lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return ch, payload, true
}

func replyView(msg frame.Message) gin.H {
	return gin.H{
		"id":      msg.CorrelationID,
		"payload": string(msg.Payload),
		"bytes":   len(msg.Payload),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, channel.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, channel.ErrStopped), errors.Is(err, session.ErrChannelClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, frame.ErrPacketTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
