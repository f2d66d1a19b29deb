package channel

import (
	"context"
	"io"
	"net"
)

// TCPClient keeps one outbound TCP connection alive.
type TCPClient struct {
	*engine
	cfg ClientConfig
}

func NewTCPClient(cfg ClientConfig) (*TCPClient, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "tcp-client:" + cfg.Addr()
	}
	c := &TCPClient{cfg: cfg}
	c.engine = newEngine("tcp-client", cfg.Config)

	addr := cfg.Addr()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	c.drv = newRedialer(c.engine, func(ctx context.Context) (io.ReadWriteCloser, string, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, "", err
		}
		return conn, conn.RemoteAddr().String(), nil
	}, cfg.MaxRetries, true)
	return c, nil
}

// Addr returns the configured remote host:port.
func (c *TCPClient) Addr() string {
	return c.cfg.Addr()
}
