// Package serialport opens a serial device and applies line settings.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Gurux/gxcommon-go"
)

var (
	ErrInvalidConfig = errors.New("serialport: invalid config")
	ErrUnsupported   = errors.New("serialport: unsupported setting")
)

// FlowControl selects the line flow control discipline.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware
	FlowHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowSoftware:
		return "software"
	case FlowHardware:
		return "hardware"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

func ParseFlowControl(raw string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return FlowNone, nil
	case "software", "xonxoff", "xon/xoff":
		return FlowSoftware, nil
	case "hardware", "rtscts", "rts/cts":
		return FlowHardware, nil
	default:
		return FlowNone, fmt.Errorf("%w: flow control %q", ErrInvalidConfig, raw)
	}
}

// Config describes one serial device and its line settings.
type Config struct {
	Device      string
	BaudRate    int
	CharSize    int
	Parity      gxcommon.Parity
	StopBits    gxcommon.StopBits
	FlowControl FlowControl
}

func DefaultConfig() Config {
	return Config{
		Device:      "/dev/ttyUSB0",
		BaudRate:    115200,
		CharSize:    8,
		Parity:      gxcommon.ParityNone,
		StopBits:    gxcommon.StopBitsOne,
		FlowControl: FlowNone,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidConfig)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.CharSize < 5 || c.CharSize > 8 {
		return fmt.Errorf("%w: char size %d (must be 5..8)", ErrInvalidConfig, c.CharSize)
	}
	if c.StopBits != gxcommon.StopBitsOne && c.StopBits != gxcommon.StopBitsTwo {
		return fmt.Errorf("%w: stop bits %v", ErrInvalidConfig, c.StopBits)
	}
	switch c.FlowControl {
	case FlowNone, FlowSoftware, FlowHardware:
	default:
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.FlowControl)
	}
	return nil
}

// Open validates cfg, opens the device and applies its line settings.
// Close on the returned port unblocks a pending Read.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openPort(cfg)
}
