package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := []byte{0x08, 0x2a, 0x12, 0x03, 'a', 'b', 'c'}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen+len(payload) {
		t.Fatalf("unexpected encoded length: %d", buf.Len())
	}
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if int(out.Header.PayloadLen) != len(payload) || !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch: got=%x want=%x", out.Payload, payload)
	}
}

func TestReadFrameSkipsConsoleNoise(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DEBUG boot\r\n")
	buf.WriteByte(Start1)
	buf.WriteByte('x')
	if err := WriteFrame(&buf, []byte{1, 2, 3}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var noise []byte
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits(), func(b byte) { noise = append(noise, b) })
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out.Payload, []byte{1, 2, 3}) {
		t.Fatalf("payload mismatch: %x", out.Payload)
	}
	if string(noise) != "DEBUG boot\r\n\x94x" {
		t.Fatalf("unexpected noise: %q", noise)
	}
}

func TestReadFrameOversizedLengthResyncs(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(Header{PayloadLen: MaxPayloadLen + 1}))
	if err := WriteFrame(&buf, []byte{9}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(out.Payload, []byte{9}) {
		t.Fatalf("payload mismatch: %x", out.Payload)
	}
}

func TestReadFrameShortHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{Start1, Start2, 0})), DefaultLimits(), nil)
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	data := append(EncodeHeader(Header{PayloadLen: 4}), 1, 2)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(data)), DefaultLimits(), nil)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxPayloadLen+1), DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeHeaderRejectsBadStart(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x00, Start2, 0, 1}); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	h, err := DecodeHeader(EncodeHeader(Header{PayloadLen: 300}))
	if err != nil || h.PayloadLen != 300 {
		t.Fatalf("decode header: h=%+v err=%v", h, err)
	}
}
