package session

import (
	"time"

	"github.com/jpillora/backoff"
)

// Backoff is the stateful retry schedule one channel keeps across
// consecutive failures. Not safe for concurrent use.
type Backoff struct {
	b *backoff.Backoff
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.WithDefaults()
	return &Backoff{b: &backoff.Backoff{
		Min:    cfg.InitialDelay,
		Max:    cfg.MaxDelay,
		Factor: cfg.Multiplier,
		Jitter: cfg.Jitter,
	}}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	return b.b.Duration()
}

// Reset rewinds the schedule after a successful attempt.
func (b *Backoff) Reset() {
	b.b.Reset()
}

// Failures returns how many delays have been handed out since the last reset.
func (b *Backoff) Failures() int {
	return int(b.b.Attempt())
}
