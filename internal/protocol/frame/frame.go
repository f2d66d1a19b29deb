package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the size of the big-endian length prefix.
	HeaderLen = 2
	// CorrelationLen is the size of the correlation id that opens every body.
	CorrelationLen = 4
	// MaxPacketBytes is the largest value the 16-bit length field can carry.
	MaxPacketBytes = 0xFFFF
	// MaxPayloadBytes is the largest payload a maximal packet can carry.
	MaxPayloadBytes = MaxPacketBytes - CorrelationLen
)

var (
	ErrShortHeader    = errors.New("frame: short length header")
	ErrShortBody      = errors.New("frame: short body")
	ErrLengthTooSmall = errors.New("frame: length smaller than correlation id")
	ErrPacketTooLarge = errors.New("frame: packet too large")
	ErrInvalidLimits  = errors.New("frame: invalid limits")
)

// Message is one decoded unit: a correlation id plus an opaque payload.
// CorrelationID 0 means no reply is expected.
type Message struct {
	CorrelationID uint32
	Payload       []byte
}

// Limits constrains frame encode/decode memory use.
type Limits struct {
	// MaxPacketBytes bounds the length field (correlation id + payload).
	MaxPacketBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPacketBytes: MaxPacketBytes}
}

// WithDefaults fills an unset packet bound. Out-of-range values are left
// for Validate to report.
func (l Limits) WithDefaults() Limits {
	if l.MaxPacketBytes == 0 {
		l.MaxPacketBytes = MaxPacketBytes
	}
	return l
}

// Validate rejects a packet bound that cannot carry a correlation id plus
// at least one payload byte, or that the 16-bit length field cannot express.
func (l Limits) Validate() error {
	if l.MaxPacketBytes <= CorrelationLen || l.MaxPacketBytes > MaxPacketBytes {
		return fmt.Errorf("%w: max packet bytes %d (want %d..%d)", ErrInvalidLimits, l.MaxPacketBytes, CorrelationLen+1, MaxPacketBytes)
	}
	return nil
}

// MaxPayload returns the payload bound implied by the packet bound.
func (l Limits) MaxPayload() int {
	return l.WithDefaults().MaxPacketBytes - CorrelationLen
}

// CheckLength validates a length field value against the frame rules.
func (l Limits) CheckLength(length int) error {
	if length < CorrelationLen {
		return fmt.Errorf("%w: %d", ErrLengthTooSmall, length)
	}
	if length > l.WithDefaults().MaxPacketBytes {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, length, l.WithDefaults().MaxPacketBytes)
	}
	return nil
}

// Encode builds the wire bytes for one message.
func Encode(m Message, limits Limits) ([]byte, error) {
	length := CorrelationLen + len(m.Payload)
	if err := limits.CheckLength(length); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderLen+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(length))
	binary.BigEndian.PutUint32(buf[2:6], m.CorrelationID)
	copy(buf[6:], m.Payload)
	return buf, nil
}

func WriteFrame(w io.Writer, m Message, limits Limits) error {
	buf, err := Encode(m, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame: the fixed length header, then a body of
// exactly that many bytes.
func ReadFrame(r io.Reader, limits Limits) (Message, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}
	length := int(binary.BigEndian.Uint16(hdr[:]))
	if err := limits.CheckLength(length); err != nil {
		return Message{}, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Message{}, ErrShortBody
		}
		return Message{}, err
	}
	return decodeBody(body), nil
}

func decodeBody(body []byte) Message {
	return Message{
		CorrelationID: binary.BigEndian.Uint32(body[0:CorrelationLen]),
		Payload:       body[CorrelationLen:],
	}
}
