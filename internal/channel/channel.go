package channel

import (
	"fmt"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// State is the connection state of one channel.
type State int32

const (
	Idle State = iota
	Connecting
	Listening
	Connected
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mode is fixed at construction. Raw delivers stream chunks through
// OnBytes; Framed runs the frame codec and enables Request.
type Mode int

const (
	ModeRaw Mode = iota
	ModeFramed
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeFramed:
		return "framed"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type (
	ReceiveHandler      func(msg frame.Message)
	BytesHandler        func(p []byte)
	StateHandler        func(state State)
	BackpressureHandler func(queued int)
)

// Channel is the contract shared by TCPClient, TCPServer and Serial.
type Channel interface {
	Name() string
	Mode() Mode

	// Start begins connecting or listening. Repeated calls are no-ops;
	// a stopped channel cannot be restarted.
	Start() error
	// Stop begins teardown and returns immediately: pending requests fail
	// with session.ErrChannelClosed and the state moves to Closed on the
	// actor. Idempotent and safe to call from a callback.
	Stop()
	// Done is closed once a stopped channel has finished tearing down.
	// Waiting on it from a callback deadlocks.
	Done() <-chan struct{}

	IsConnected() bool
	State() State
	Stats() Stats

	// Send queues p for the live session. In framed mode p becomes the
	// payload of an uncorrelated frame.
	Send(p []byte) error
	// SendMessage queues msg as one frame with its own correlation id.
	SendMessage(msg frame.Message) error
	// Request sends payload under a fresh correlation id. The Result
	// resolves with the reply, session.ErrRequestTimeout or
	// session.ErrChannelClosed. timeout <= 0 uses the configured default.
	Request(payload []byte, timeout time.Duration) *session.Result

	OnReceive(cb ReceiveHandler)
	OnBytes(cb BytesHandler)
	OnState(cb StateHandler)
	OnBackpressure(cb BackpressureHandler)
}

// Stats is a point-in-time snapshot of channel counters.
type Stats struct {
	State          State
	BytesSent      uint64
	BytesReceived  uint64
	FramesSent     uint64
	FramesReceived uint64
	Connects       uint64
	Disconnects    uint64
	RejectedPeers  uint64
	Dropped        uint64
	Timeouts       uint64
	QueuedBytes    int64
}

var (
	_ Channel = (*TCPClient)(nil)
	_ Channel = (*TCPServer)(nil)
	_ Channel = (*Serial)(nil)
)
