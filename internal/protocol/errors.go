package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTag is returned when a frame's tag byte matches no registered kind.
	// Usually firmware/UI version skew; the frame should be logged and dropped.
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrUnknownKind is returned when encoding a message whose kind is not registered.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrEmptyFrame is returned when decoding a zero-length frame.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrMalformed is returned when a payload is not valid protobuf wire data.
	ErrMalformed = errors.New("malformed payload")
)

// ProtocolError describes a codec failure. It wraps one of the sentinel errors
// above so callers can match with errors.Is.
type ProtocolError struct {
	Op   string // "encode" or "decode"
	Kind Kind
	Tag  byte
	Err  error
}

func (e *ProtocolError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnknownTag):
		return fmt.Sprintf("protocol %s: %v 0x%02x", e.Op, e.Err, e.Tag)
	case e.Kind != 0:
		return fmt.Sprintf("protocol %s %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Reason returns a short, stable label for metrics.
func (e *ProtocolError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(e.Err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(e.Err, ErrEmptyFrame):
		return "empty_frame"
	default:
		return "malformed"
	}
}
