package protocol

// Codec frames messages as one tag byte followed by the protobuf payload.
type Codec struct {
	reg *Registry
}

// NewCodec returns a codec over reg, or over DefaultRegistry when reg is nil.
func NewCodec(reg *Registry) *Codec {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Codec{reg: reg}
}

func (c *Codec) Registry() *Registry { return c.reg }

// Encode returns the wire frame for m. Encoding a kind the registry does not
// know fails with ErrUnknownKind.
func (c *Codec) Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, &ProtocolError{Op: "encode", Err: ErrUnknownKind}
	}
	k := m.Kind()
	if _, ok := c.reg.Lookup(k); !ok {
		return nil, &ProtocolError{Op: "encode", Kind: k, Err: ErrUnknownKind}
	}
	frame := make([]byte, 1, 64)
	frame[0] = byte(k)
	return m.marshal(frame), nil
}

// Decode parses a wire frame. Errors are *ProtocolError values; callers
// should log and drop the frame.
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, &ProtocolError{Op: "decode", Err: ErrEmptyFrame}
	}
	tag := frame[0]
	s, ok := c.reg.Lookup(Kind(tag))
	if !ok {
		return nil, &ProtocolError{Op: "decode", Tag: tag, Err: ErrUnknownTag}
	}
	m, err := s.Decode(frame[1:])
	if err != nil {
		return nil, &ProtocolError{Op: "decode", Kind: s.Kind, Tag: tag, Err: err}
	}
	return m, nil
}
