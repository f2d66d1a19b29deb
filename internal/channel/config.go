package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/transport/serialport"
	"github.com/rs/zerolog"
)

const (
	DefaultReadChunkSize       = 4096
	DefaultConnectTimeout      = 5 * time.Second
	DefaultMaxBindRetries      = 3
	DefaultBindRetryInterval   = time.Second
	DefaultSerialRetryInterval = 2 * time.Second

	// UnlimitedRetries disables the consecutive failure limit.
	UnlimitedRetries = -1
)

// Config holds the settings every transport shares.
type Config struct {
	Name          string
	Mode          Mode
	Session       session.Config
	Reconnect     session.BackoffConfig
	ReadChunkSize int
	// Logger overrides the global zerolog logger when set.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Mode:          ModeFramed,
		Session:       session.DefaultConfig(),
		Reconnect:     session.DefaultBackoff(),
		ReadChunkSize: DefaultReadChunkSize,
	}
}

func (c Config) WithDefaults() Config {
	c.Session = c.Session.WithDefaults()
	c.Reconnect = c.Reconnect.WithDefaults()
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = DefaultReadChunkSize
	}
	c.Name = strings.TrimSpace(c.Name)
	return c
}

func (c Config) Validate() error {
	if c.Mode != ModeRaw && c.Mode != ModeFramed {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.Mode)
	}
	if err := (frame.Limits{MaxPacketBytes: c.Session.MaxPacketBytes}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ClientConfig configures a reconnecting TCP client.
type ClientConfig struct {
	Config
	Host           string
	Port           int
	ConnectTimeout time.Duration
	// MaxRetries caps consecutive connect failures before the channel
	// parks in Error. UnlimitedRetries keeps trying forever.
	MaxRetries int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Config:         DefaultConfig(),
		Host:           "127.0.0.1",
		Port:           9000,
		ConnectTimeout: DefaultConnectTimeout,
		MaxRetries:     UnlimitedRetries,
	}
}

func (c ClientConfig) WithDefaults() ClientConfig {
	c.Config = c.Config.WithDefaults()
	c.Host = strings.TrimSpace(c.Host)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxRetries < UnlimitedRetries {
		c.MaxRetries = UnlimitedRetries
	}
	return c
}

func (c ClientConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("%w: client host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: client port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerConfig configures a single-session TCP server.
type ServerConfig struct {
	Config
	Host string
	// Port 0 binds an ephemeral port; see TCPServer.Addr.
	Port              int
	Accept            session.BackoffConfig
	BindRetry         bool
	MaxBindRetries    int
	BindRetryInterval time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Config:            DefaultConfig(),
		Port:              9000,
		Accept:            session.DefaultBackoff(),
		MaxBindRetries:    DefaultMaxBindRetries,
		BindRetryInterval: DefaultBindRetryInterval,
	}
}

func (c ServerConfig) WithDefaults() ServerConfig {
	c.Config = c.Config.WithDefaults()
	c.Host = strings.TrimSpace(c.Host)
	c.Accept = c.Accept.WithDefaults()
	if c.MaxBindRetries < 0 {
		c.MaxBindRetries = 0
	}
	if c.BindRetryInterval <= 0 {
		c.BindRetryInterval = DefaultBindRetryInterval
	}
	return c
}

func (c ServerConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: server port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Opener produces the byte stream behind a Serial channel. Open is called
// off the actor and may block until ctx ends.
type Opener interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
}

type OpenerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f OpenerFunc) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// SerialConfig configures a serial channel.
type SerialConfig struct {
	Config
	Port serialport.Config
	// ReopenOnError retries after a stream error; otherwise the channel
	// parks in Error. Open failures always retry up to MaxRetries.
	ReopenOnError bool
	// RetryInterval is the first reopen delay; later delays double up to
	// Reconnect.MaxDelay.
	RetryInterval time.Duration
	MaxRetries    int
	// Opener replaces the device open, mostly for tests and bridges.
	Opener Opener
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Config:        DefaultConfig(),
		Port:          serialport.DefaultConfig(),
		ReopenOnError: true,
		RetryInterval: DefaultSerialRetryInterval,
		MaxRetries:    UnlimitedRetries,
	}
}

func (c SerialConfig) WithDefaults() SerialConfig {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultSerialRetryInterval
	}
	c.Config.Reconnect.InitialDelay = c.RetryInterval
	c.Config = c.Config.WithDefaults()
	if c.MaxRetries < UnlimitedRetries {
		c.MaxRetries = UnlimitedRetries
	}
	return c
}

func (c SerialConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Opener != nil {
		return nil
	}
	if err := c.Port.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
