package session

import "time"

const (
	DefaultSweepInterval         = 100 * time.Millisecond
	DefaultBackpressureThreshold = 1 << 20
	MinBackpressureThreshold     = 1 << 10
	MaxBackpressureThreshold     = 100 << 20
	DefaultWriteQueueLimit       = 1024
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff doubles from 1s up to 30s without jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

func (c BackoffConfig) WithDefaults() BackoffConfig {
	def := DefaultBackoff()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

// Config defines per-session reliability defaults.
type Config struct {
	RequestTimeout        time.Duration
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	WriteQueueLimit       int
	BackpressureThreshold int
	MaxPacketBytes        int
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:        1500 * time.Millisecond,
		SweepInterval:         DefaultSweepInterval,
		WriteQueueLimit:       DefaultWriteQueueLimit,
		BackpressureThreshold: DefaultBackpressureThreshold,
		MaxPacketBytes:        0xFFFF,
	}
}

// WithDefaults fills unset values and clamps the backpressure threshold.
// IdleTimeout 0 disables idle detection; WriteQueueLimit < 0 means no limit.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.WriteQueueLimit == 0 {
		c.WriteQueueLimit = def.WriteQueueLimit
	}
	switch {
	case c.BackpressureThreshold <= 0:
		c.BackpressureThreshold = def.BackpressureThreshold
	case c.BackpressureThreshold < MinBackpressureThreshold:
		c.BackpressureThreshold = MinBackpressureThreshold
	case c.BackpressureThreshold > MaxBackpressureThreshold:
		c.BackpressureThreshold = MaxBackpressureThreshold
	}
	if c.MaxPacketBytes == 0 {
		c.MaxPacketBytes = def.MaxPacketBytes
	}
	return c
}
