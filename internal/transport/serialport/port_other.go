//go:build !linux

package serialport

import (
	"fmt"
	"io"

	"github.com/Gurux/gxcommon-go"
	"github.com/tarm/serial"
)

func openPort(cfg Config) (io.ReadWriteCloser, error) {
	sc, err := tarmConfig(cfg)
	if err != nil {
		return nil, err
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return p, nil
}

func tarmConfig(cfg Config) (*serial.Config, error) {
	if cfg.FlowControl != FlowNone {
		return nil, fmt.Errorf("%w: flow control %v on this platform", ErrUnsupported, cfg.FlowControl)
	}
	sc := &serial.Config{
		Name:     cfg.Device,
		Baud:     cfg.BaudRate,
		Size:     byte(cfg.CharSize),
		StopBits: serial.Stop1,
	}
	if cfg.StopBits == gxcommon.StopBitsTwo {
		sc.StopBits = serial.Stop2
	}
	switch cfg.Parity {
	case gxcommon.ParityNone:
		sc.Parity = serial.ParityNone
	case gxcommon.ParityEven:
		sc.Parity = serial.ParityEven
	case gxcommon.ParityOdd:
		sc.Parity = serial.ParityOdd
	case gxcommon.ParityMark:
		sc.Parity = serial.ParityMark
	case gxcommon.ParitySpace:
		sc.Parity = serial.ParitySpace
	default:
		return nil, fmt.Errorf("%w: parity %v", ErrUnsupported, cfg.Parity)
	}
	return sc, nil
}
