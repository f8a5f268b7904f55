package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field-level protobuf helpers. Encoders follow proto3 rules: zero scalars
// and empty sub-messages are omitted. Decoders skip unknown field numbers and
// fields whose wire type does not match the declared type.

type protoNumber = protowire.Number

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// int32 is sign-extended to 64 bits, as protoc does for int32 fields.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

type marshaler interface {
	marshal(b []byte) []byte
}

type unmarshaler interface {
	unmarshal(b []byte) error
}

func appendMessage(b []byte, num protowire.Number, m marshaler) []byte {
	payload := m.marshal(nil)
	if len(payload) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// appendRepeatedMessage always emits the element, even when it is all zeros,
// so that list length survives a round trip.
func appendRepeatedMessage(b []byte, num protowire.Number, m marshaler) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.marshal(nil))
}

func appendPackedUint32(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vs {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// field is one decoded tag plus the bytes starting at its value.
type field struct {
	num protowire.Number
	typ protowire.Type
	b   []byte
}

// walkFields calls fn for every field in b. fn returns the number of value
// bytes it consumed, 0 to have the field skipped, or a negative protowire
// error code.
func walkFields(b []byte, fn func(f field) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m := fn(field{num: num, typ: typ, b: b})
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func (f field) varint() (uint64, int) {
	if f.typ != protowire.VarintType {
		return 0, 0
	}
	return protowire.ConsumeVarint(f.b)
}

func (f field) uint32(dst *uint32) int {
	v, n := f.varint()
	if n > 0 {
		*dst = uint32(v)
	}
	return n
}

func (f field) uint64(dst *uint64) int {
	v, n := f.varint()
	if n > 0 {
		*dst = v
	}
	return n
}

func (f field) int32(dst *int32) int {
	v, n := f.varint()
	if n > 0 {
		*dst = int32(v)
	}
	return n
}

func (f field) bool(dst *bool) int {
	v, n := f.varint()
	if n > 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func (f field) float(dst *float32) int {
	if f.typ != protowire.Fixed32Type {
		return 0
	}
	v, n := protowire.ConsumeFixed32(f.b)
	if n > 0 {
		*dst = math.Float32frombits(v)
	}
	return n
}

func (f field) message(dst unmarshaler) int {
	if f.typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(f.b)
	if n < 0 {
		return n
	}
	if err := dst.unmarshal(v); err != nil {
		return -1
	}
	return n
}

// uint32s accepts both packed and unpacked encodings of a repeated uint32.
func (f field) uint32s(dst *[]uint32) int {
	switch f.typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(f.b)
		if n > 0 {
			*dst = append(*dst, uint32(v))
		}
		return n
	case protowire.BytesType:
		payload, n := protowire.ConsumeBytes(f.b)
		if n < 0 {
			return n
		}
		for len(payload) > 0 {
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return m
			}
			*dst = append(*dst, uint32(v))
			payload = payload[m:]
		}
		return n
	default:
		return 0
	}
}
