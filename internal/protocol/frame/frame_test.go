package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeWireLayout(t *testing.T) {
	buf, err := Encode(Message{CorrelationID: 0x01020304, Payload: []byte("ping")}, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x00, 0x08, 0x01, 0x02, 0x03, 0x04, 'p', 'i', 'n', 'g'}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire mismatch: got=% x want=% x", buf, want)
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 4, 1500, MaxPayloadBytes}
	for _, n := range sizes {
		payload := bytes.Repeat([]byte{0xAB}, n)
		in := Message{CorrelationID: uint32(n) + 7, Payload: payload}
		var buf bytes.Buffer
		if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
			t.Fatalf("write frame n=%d: %v", n, err)
		}
		out, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame n=%d: %v", n, err)
		}
		if out.CorrelationID != in.CorrelationID || !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("round trip mismatch n=%d: got id=%d len=%d", n, out.CorrelationID, len(out.Payload))
		}
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	limits := Limits{MaxPacketBytes: 64}
	if _, err := Encode(Message{Payload: make([]byte, 60)}, limits); err != nil {
		t.Fatalf("exact fit should encode: %v", err)
	}
	_, err := Encode(Message{Payload: make([]byte, 61)}, limits)
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
	_, err = Encode(Message{Payload: make([]byte, MaxPayloadBytes+1)}, DefaultLimits())
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge at wire bound, got %v", err)
	}
}

func TestReadFrameShortHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameLengthTooSmall(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x03, 1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrLengthTooSmall) {
		t.Fatalf("expected ErrLengthTooSmall, got %v", err)
	}
}

func TestReadFrameShortBody(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x08, 0, 0, 0, 1, 'p'}), DefaultLimits())
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("expected ErrShortBody, got %v", err)
	}
}

func TestDecoderReassemblesSplitFrames(t *testing.T) {
	var stream []byte
	for i := 1; i <= 3; i++ {
		buf, err := Encode(Message{CorrelationID: uint32(i), Payload: bytes.Repeat([]byte{byte(i)}, i*3)}, DefaultLimits())
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		stream = append(stream, buf...)
	}

	d := NewDecoder(DefaultLimits())
	var got []Message
	for _, b := range stream {
		msgs, err := d.Feed([]byte{b})
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got=%d", len(got))
	}
	for i, m := range got {
		if m.CorrelationID != uint32(i+1) || len(m.Payload) != (i+1)*3 {
			t.Fatalf("frame %d mismatch: %+v", i, m)
		}
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got=%d", d.Buffered())
	}
}

func TestDecoderKeepsBoundariesInOneChunk(t *testing.T) {
	a, _ := Encode(Message{CorrelationID: 1, Payload: []byte("a")}, DefaultLimits())
	b, _ := Encode(Message{CorrelationID: 2, Payload: []byte("bb")}, DefaultLimits())
	c, _ := Encode(Message{CorrelationID: 3, Payload: []byte("ccc")}, DefaultLimits())
	chunk := append(append(append([]byte{}, a...), b...), c[:4]...)

	d := NewDecoder(DefaultLimits())
	msgs, err := d.Feed(chunk)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "bb" {
		t.Fatalf("unexpected frames: %+v", msgs)
	}
	msgs, err = d.Feed(c[4:])
	if err != nil {
		t.Fatalf("feed rest: %v", err)
	}
	if len(msgs) != 1 || msgs[0].CorrelationID != 3 || string(msgs[0].Payload) != "ccc" {
		t.Fatalf("unexpected trailing frame: %+v", msgs)
	}
}

func TestDecoderMalformedLengthPoisons(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	msgs, err := d.Feed([]byte{0x00, 0x03, 'x', 'y', 'z'})
	if !errors.Is(err, ErrLengthTooSmall) {
		t.Fatalf("expected ErrLengthTooSmall, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("no payload should be delivered, got=%+v", msgs)
	}
	good, _ := Encode(Message{CorrelationID: 9, Payload: []byte("ok")}, DefaultLimits())
	if _, err := d.Feed(good); !errors.Is(err, ErrLengthTooSmall) {
		t.Fatalf("decoder must stay broken, got %v", err)
	}
}

func TestDecoderRejectsOversizeLength(t *testing.T) {
	d := NewDecoder(Limits{MaxPacketBytes: 16})
	hdr := make([]byte, 2)
	binary.BigEndian.PutUint16(hdr, 17)
	if _, err := d.Feed(hdr); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestLimitsValidate(t *testing.T) {
	for _, max := range []int{5, 64, MaxPacketBytes} {
		if err := (Limits{MaxPacketBytes: max}).Validate(); err != nil {
			t.Fatalf("max=%d: unexpected err %v", max, err)
		}
	}
	for _, max := range []int{-1, 0, CorrelationLen, MaxPacketBytes + 1} {
		if err := (Limits{MaxPacketBytes: max}).Validate(); !errors.Is(err, ErrInvalidLimits) {
			t.Fatalf("max=%d: expected ErrInvalidLimits, got %v", max, err)
		}
	}
	if got := (Limits{}).WithDefaults().MaxPacketBytes; got != MaxPacketBytes {
		t.Fatalf("unset limit got=%d", got)
	}
	if got := (Limits{MaxPacketBytes: 3}).WithDefaults().MaxPacketBytes; got != 3 {
		t.Fatalf("out-of-range limit must not be rewritten, got=%d", got)
	}
}
