package frame

import "encoding/binary"

// Decoder reassembles frames from arbitrarily chunked stream reads.
// It is not safe for concurrent use; one decoder belongs to one session.
type Decoder struct {
	limits Limits
	buf    []byte
	broken error
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits.WithDefaults()}
}

// Feed appends p and returns every frame it completes, in stream order.
// A malformed length poisons the decoder: the error is returned now and on
// every later call, and no byte after the bad header is ever interpreted.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	if d.broken != nil {
		return nil, d.broken
	}
	d.buf = append(d.buf, p...)

	var out []Message
	off := 0
	for len(d.buf)-off >= HeaderLen {
		length := int(binary.BigEndian.Uint16(d.buf[off : off+HeaderLen]))
		if err := d.limits.CheckLength(length); err != nil {
			d.broken = err
			d.buf = nil
			return out, err
		}
		if len(d.buf)-off-HeaderLen < length {
			break
		}
		body := make([]byte, length)
		copy(body, d.buf[off+HeaderLen:off+HeaderLen+length])
		out = append(out, decodeBody(body))
		off += HeaderLen + length
	}

	if off > 0 {
		rest := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:rest]
	}
	return out, nil
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
