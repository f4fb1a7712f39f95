package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Start1    byte = 0x94
	Start2    byte = 0xC3
	HeaderLen      = 4

	// MaxPayloadLen is the largest envelope the radio firmware will emit or accept.
	MaxPayloadLen = 512
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrInvalidMagic    = errors.New("frame: invalid start bytes")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed four byte stream header: two start bytes then a big endian length.
type Header struct {
	PayloadLen uint16
}

// Frame is one complete envelope on the byte stream.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: MaxPayloadLen}
}

// ReadFrame scans r for the next start sequence and returns the framed payload.
// Bytes outside a frame are firmware console output; they are handed to skipped
// (if non-nil) and otherwise discarded. An oversized length is treated as noise and
// scanning resumes after it.
func ReadFrame(r io.ByteReader, limits Limits, skipped func(byte)) (Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != Start1 {
			if skipped != nil {
				skipped(b)
			}
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != Start2 {
			if skipped != nil {
				skipped(Start1)
				skipped(b)
			}
			continue
		}

		var lenBuf [2]byte
		for i := range lenBuf {
			if lenBuf[i], err = r.ReadByte(); err != nil {
				if errors.Is(err, io.EOF) {
					return Frame{}, ErrShortHeader
				}
				return Frame{}, err
			}
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n > limits.MaxPayloadBytes {
			continue
		}

		payload := make([]byte, n)
		for i := 0; i < n; i++ {
			if payload[i], err = r.ReadByte(); err != nil {
				if errors.Is(err, io.EOF) {
					return Frame{}, io.ErrUnexpectedEOF
				}
				return Frame{}, err
			}
		}
		return Frame{Header: Header{PayloadLen: uint16(n)}, Payload: payload}, nil
	}
}

func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if len(payload) > limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, EncodeHeader(Header{PayloadLen: uint16(len(payload))})...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = Start1
	buf[1] = Start2
	binary.BigEndian.PutUint16(buf[2:4], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	if b[0] != Start1 || b[1] != Start2 {
		return Header{}, ErrInvalidMagic
	}
	return Header{PayloadLen: binary.BigEndian.Uint16(b[2:4])}, nil
}
