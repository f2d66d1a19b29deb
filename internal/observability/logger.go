package observability

import (
	"github.com/rs/zerolog"
)

// ChannelLogger scopes base to one channel instance.
func ChannelLogger(base zerolog.Logger, channel, transport string) zerolog.Logger {
	return base.With().Str("channel", channel).Str("transport", transport).Logger()
}
