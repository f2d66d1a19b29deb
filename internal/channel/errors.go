package channel

import "errors"

var (
	ErrNotConnected  = errors.New("channel: not connected")
	ErrNotFramed     = errors.New("channel: operation requires framed mode")
	ErrStopped       = errors.New("channel: stopped")
	ErrInvalidConfig = errors.New("channel: invalid config")
	ErrIdleTimeout   = errors.New("channel: idle timeout")
)
