package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/danmuck/edgelink/internal/channel"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/transport/serialport"
)

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ChannelConfig returns the settings every transport shares.
func (f ChannelFile) ChannelConfig() (channel.Config, error) {
	mode, err := parseFraming(f.Framing)
	if err != nil {
		return channel.Config{}, err
	}
	cfg := channel.DefaultConfig()
	cfg.Name = f.Name
	cfg.Mode = mode
	cfg.Session = session.Config{
		RequestTimeout:        ms(f.RequestTimeoutMS),
		IdleTimeout:           ms(f.IdleTimeoutMS),
		WriteQueueLimit:       f.WriteQueueLimit,
		BackpressureThreshold: f.BackpressureThreshold,
		MaxPacketBytes:        f.MaxPacketBytes,
	}
	cfg.Reconnect = session.BackoffConfig{
		InitialDelay: ms(f.ReconnectBackoffInitialMS),
		Multiplier:   2,
		MaxDelay:     ms(f.ReconnectBackoffMaxMS),
	}
	if f.Serial.ReadChunkSize > 0 {
		cfg.ReadChunkSize = f.Serial.ReadChunkSize
	}
	return cfg.WithDefaults(), nil
}

func (f ChannelFile) ClientConfig() (channel.ClientConfig, error) {
	base, err := f.ChannelConfig()
	if err != nil {
		return channel.ClientConfig{}, err
	}
	cfg := channel.DefaultClientConfig()
	cfg.Config = base
	cfg.Host = f.Host
	cfg.Port = f.Port
	cfg.ConnectTimeout = ms(f.ConnectTimeoutMS)
	cfg.MaxRetries = f.MaxRetries
	return cfg.WithDefaults(), nil
}

func (f ChannelFile) ServerConfig() (channel.ServerConfig, error) {
	base, err := f.ChannelConfig()
	if err != nil {
		return channel.ServerConfig{}, err
	}
	cfg := channel.DefaultServerConfig()
	cfg.Config = base
	cfg.Host = f.Host
	cfg.Port = f.Port
	cfg.Accept = session.BackoffConfig{
		InitialDelay: ms(f.AcceptBackoffInitialMS),
		Multiplier:   2,
		MaxDelay:     ms(f.AcceptBackoffMaxMS),
	}
	cfg.BindRetry = f.BindRetry
	cfg.MaxBindRetries = f.MaxBindRetries
	cfg.BindRetryInterval = ms(f.BindRetryIntervalMS)
	return cfg.WithDefaults(), nil
}

func (f ChannelFile) SerialConfig() (channel.SerialConfig, error) {
	base, err := f.ChannelConfig()
	if err != nil {
		return channel.SerialConfig{}, err
	}
	port, err := f.Serial.PortConfig()
	if err != nil {
		return channel.SerialConfig{}, err
	}
	cfg := channel.DefaultSerialConfig()
	cfg.Config = base
	cfg.Port = port
	cfg.ReopenOnError = f.Serial.ReopenOnError
	cfg.RetryInterval = ms(f.Serial.RetryIntervalMS)
	cfg.MaxRetries = f.MaxRetries
	return cfg.WithDefaults(), nil
}

// PortConfig maps the serial section onto device line settings.
func (s SerialFile) PortConfig() (serialport.Config, error) {
	parity, err := parseParity(s.Parity)
	if err != nil {
		return serialport.Config{}, err
	}
	flow, err := serialport.ParseFlowControl(s.FlowControl)
	if err != nil {
		return serialport.Config{}, fmt.Errorf("%w: %v", channel.ErrInvalidConfig, err)
	}
	cfg := serialport.DefaultConfig()
	cfg.Device = s.Device
	if s.BaudRate != 0 {
		cfg.BaudRate = s.BaudRate
	}
	if s.CharSize != 0 {
		cfg.CharSize = s.CharSize
	}
	switch s.StopBits {
	case 0, 1:
		cfg.StopBits = gxcommon.StopBitsOne
	case 2:
		cfg.StopBits = gxcommon.StopBitsTwo
	default:
		return serialport.Config{}, fmt.Errorf("%w: serial.stop_bits %d (want 1 or 2)", channel.ErrInvalidConfig, s.StopBits)
	}
	cfg.Parity = parity
	cfg.FlowControl = flow
	if err := cfg.Validate(); err != nil {
		return serialport.Config{}, fmt.Errorf("%w: %v", channel.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func parseParity(raw string) (gxcommon.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "n":
		return gxcommon.ParityNone, nil
	case "even", "e":
		return gxcommon.ParityEven, nil
	case "odd", "o":
		return gxcommon.ParityOdd, nil
	case "mark", "m":
		return gxcommon.ParityMark, nil
	case "space", "s":
		return gxcommon.ParitySpace, nil
	}
	p, err := gxcommon.ParityParse(raw)
	if err != nil {
		return gxcommon.ParityNone, fmt.Errorf("%w: serial.parity %q: %v", channel.ErrInvalidConfig, raw, err)
	}
	return p, nil
}

// Build constructs the channel the file describes. The channel is not
// started.
func Build(f ChannelFile) (channel.Channel, error) {
	switch f.Mode {
	case KindServer:
		cfg, err := f.ServerConfig()
		if err != nil {
			return nil, err
		}
		srv, err := channel.NewTCPServer(cfg)
		if err != nil {
			return nil, err
		}
		return srv, nil
	case KindClient:
		cfg, err := f.ClientConfig()
		if err != nil {
			return nil, err
		}
		client, err := channel.NewTCPClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case KindSerial:
		cfg, err := f.SerialConfig()
		if err != nil {
			return nil, err
		}
		s, err := channel.NewSerial(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: mode %q", channel.ErrInvalidConfig, f.Mode)
	}
}
