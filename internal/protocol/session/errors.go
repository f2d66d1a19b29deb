package session

import "errors"

var (
	ErrRequestTimeout = errors.New("session: request timeout")
	ErrChannelClosed  = errors.New("session: channel closed")
	ErrDuplicateID    = errors.New("session: correlation id already pending")
	ErrQueueFull      = errors.New("session: write queue full")
	ErrWriteFailed    = errors.New("session: write failed")
)
