package channel

import (
	"context"
	"io"

	"github.com/danmuck/edgelink/internal/transport/serialport"
)

// Serial keeps a serial device open, reopening it after failures when
// ReopenOnError is set.
type Serial struct {
	*engine
	cfg SerialConfig
}

func NewSerial(cfg SerialConfig) (*Serial, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "serial:" + cfg.Port.Device
	}
	opener := cfg.Opener
	if opener == nil {
		opener = deviceOpener(cfg.Port)
	}
	s := &Serial{cfg: cfg}
	s.engine = newEngine("serial", cfg.Config)
	device := cfg.Port.Device
	s.drv = newRedialer(s.engine, func(ctx context.Context) (io.ReadWriteCloser, string, error) {
		rwc, err := opener.Open(ctx)
		if err != nil {
			return nil, "", err
		}
		return rwc, device, nil
	}, cfg.MaxRetries, cfg.ReopenOnError)
	return s, nil
}

// Device returns the configured device path.
func (s *Serial) Device() string {
	return s.cfg.Port.Device
}

func deviceOpener(cfg serialport.Config) Opener {
	return OpenerFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return serialport.Open(cfg)
	})
}
