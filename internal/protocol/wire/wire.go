// Package wire encodes and decodes radio envelopes and application payloads in the
// protobuf wire format.
//
// Decoding is presence-aware: optional fields are only set when they appear on the
// wire, which is what lets partial config updates merge without clobbering.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrTruncated  = errors.New("wire: truncated data")
	ErrFieldType  = errors.New("wire: field type mismatch")
	ErrNilMessage = errors.New("wire: nil message")
)

// field is one decoded tag/value pair. Scalars land in v, length-delimited values in data.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	v    uint64
	data []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrTruncated, num, protowire.ParseError(n))
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d got wire type %d want %d", ErrFieldType, f.num, f.typ, typ)
	}
	return nil
}

func (f field) uint32() (uint32, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return uint32(f.v), nil
}

func (f field) int32() (int32, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return int32(int64(f.v)), nil
}

func (f field) bool() (bool, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return false, err
	}
	return f.v != 0, nil
}

func (f field) fixed32() (uint32, error) {
	if err := f.want(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	return uint32(f.v), nil
}

func (f field) sfixed32() (int32, error) {
	v, err := f.fixed32()
	return int32(v), err
}

func (f field) float32() (float32, error) {
	v, err := f.fixed32()
	return math.Float32frombits(v), err
}

func (f field) bytes() ([]byte, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (f field) string() (string, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.data), nil
}

// packedFixed32 accepts both packed and unpacked encodings of repeated fixed32.
func (f field) packedFixed32() ([]uint32, error) {
	if f.typ == protowire.Fixed32Type {
		return []uint32{uint32(f.v)}, nil
	}
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	b := f.data
	out := make([]uint32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed field %d", ErrTruncated, f.num)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// packedInt32 accepts both packed and unpacked encodings of repeated int32.
func (f field) packedInt32() ([]int32, error) {
	if f.typ == protowire.VarintType {
		return []int32{int32(int64(f.v))}, nil
	}
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	b := f.data
	var out []int32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed field %d", ErrTruncated, f.num)
		}
		out = append(out, int32(int64(v)))
		b = b[n:]
	}
	return out, nil
}

// encoder appends proto3 fields. Plain scalars are skipped when zero; the opt*
// variants always write so presence survives the round trip.
type encoder struct {
	b []byte
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.optVarint(num, v)
}

func (e *encoder) optVarint(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) int32(num protowire.Number, v int32) {
	e.varint(num, uint64(int64(v)))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.optVarint(num, 1)
	}
}

func (e *encoder) optBool(num protowire.Number, v bool) {
	if v {
		e.optVarint(num, 1)
		return
	}
	e.optVarint(num, 0)
}

func (e *encoder) fixed32(num protowire.Number, v uint32) {
	if v == 0 {
		return
	}
	e.optFixed32(num, v)
}

func (e *encoder) optFixed32(num protowire.Number, v uint32) {
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, v)
}

func (e *encoder) float32(num protowire.Number, v float32) {
	e.fixed32(num, math.Float32bits(v))
}

func (e *encoder) optFloat32(num protowire.Number, v float32) {
	e.optFixed32(num, math.Float32bits(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.optString(num, v)
}

func (e *encoder) optString(num protowire.Number, v string) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// message writes a nested message even when its encoding is empty.
func (e *encoder) message(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) packedFixed32(num protowire.Number, vs []uint32) {
	if len(vs) == 0 {
		return
	}
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendFixed32(inner, v)
	}
	e.message(num, inner)
}

func (e *encoder) packedInt32(num protowire.Number, vs []int32) {
	if len(vs) == 0 {
		return
	}
	var inner []byte
	for _, v := range vs {
		inner = protowire.AppendVarint(inner, uint64(int64(v)))
	}
	e.message(num, inner)
}
