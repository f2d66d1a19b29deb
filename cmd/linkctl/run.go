package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgelink/internal/admin"
	"github.com/danmuck/edgelink/internal/channel"
	"github.com/danmuck/edgelink/internal/config"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// runChannel starts the channel, wires the demo behaviours and blocks until
// interrupted.
func runChannel(parent context.Context, f config.ChannelFile, s settings) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := config.Build(f)
	if err != nil {
		return err
	}
	defer func() {
		ch.Stop()
		select {
		case <-ch.Done():
		case <-time.After(5 * time.Second):
			log.Warn().Str("channel", ch.Name()).Msg("teardown did not finish")
		}
	}()

	attachBehaviours(ch, s)
	if err := ch.Start(); err != nil {
		return err
	}
	log.Info().
		Str("channel", ch.Name()).
		Str("kind", f.Mode).
		Str("mode", ch.Mode().String()).
		Msg("channel started")

	adminErr := make(chan error, 1)
	if s.AdminAddr != "" {
		srv := admin.New(admin.Options{
			ID:          ch.Name(),
			Addr:        s.AdminAddr,
			CORSOrigins: s.CORSOrigins,
			Token:       s.AdminToken,
		})
		if err := srv.Register(ch); err != nil {
			return err
		}
		go func() { adminErr <- srv.Serve(ctx) }()
	}
	if s.PingInterval > 0 {
		go pingLoop(ctx, ch, s)
	}

	select {
	case <-ctx.Done():
	case err := <-adminErr:
		if err != nil {
			return err
		}
	}
	log.Info().Str("channel", ch.Name()).Msg("shutting down")
	return nil
}

func attachBehaviours(ch channel.Channel, s settings) {
	ch.OnState(func(state channel.State) {
		log.Info().Str("channel", ch.Name()).Str("state", state.String()).Msg("state")
	})
	ch.OnBackpressure(func(queued int) {
		log.Warn().Str("channel", ch.Name()).Int("queued", queued).Msg("write queue above threshold")
	})
	ch.OnBytes(func(p []byte) {
		log.Debug().Str("channel", ch.Name()).Int("bytes", len(p)).Msg("rx")
		if s.Echo {
			_ = ch.Send(p)
		}
	})
	ch.OnReceive(func(msg frame.Message) {
		log.Debug().
			Str("channel", ch.Name()).
			Uint32("id", msg.CorrelationID).
			Int("bytes", len(msg.Payload)).
			Msg("rx frame")
		if s.Echo {
			_ = ch.SendMessage(msg)
		}
	})
}

func pingLoop(ctx context.Context, ch channel.Channel, s settings) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !ch.IsConnected() {
			continue
		}
		if ch.Mode() != channel.ModeFramed {
			if err := ch.Send([]byte(s.PingPayload + "\n")); err != nil {
				log.Debug().Err(err).Str("channel", ch.Name()).Msg("ping send failed")
			}
			continue
		}
		start := time.Now()
		msg, err := ch.Request([]byte(s.PingPayload), 0).Wait(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			log.Warn().Err(err).Str("channel", ch.Name()).Msg("ping failed")
		default:
			log.Info().
				Str("channel", ch.Name()).
				Uint32("id", msg.CorrelationID).
				Dur("rtt", time.Since(start)).
				Msg("pong")
		}
	}
}
