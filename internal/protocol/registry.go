package protocol

import (
	"slices"
)

// Schema describes one message kind: its tag, its stable name, how to build
// its default value and how to decode its payload.
type Schema struct {
	Kind    Kind
	Name    string
	Default func() Message
	decode  func(payload []byte) (Message, error)
}

// Decode parses a payload (without the tag byte) into the schema's message.
func (s Schema) Decode(payload []byte) (Message, error) {
	return s.decode(payload)
}

type decodable[T any] interface {
	*T
	unmarshal(b []byte) error
}

func schemaOf[T Message, PT decodable[T]]() Schema {
	var zero T
	return Schema{
		Kind:    zero.Kind(),
		Name:    zero.Kind().String(),
		Default: func() Message { var v T; return v },
		decode: func(payload []byte) (Message, error) {
			var v T
			if err := PT(&v).unmarshal(payload); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Schemas returns the schema of every message kind this package knows.
func Schemas() []Schema {
	return []Schema{
		schemaOf[SensorMeasurements](),
		schemaOf[CycleMeasurements](),
		schemaOf[Parameters](),
		schemaOf[ParametersRequest](),
		schemaOf[AlarmLimits](),
		schemaOf[AlarmLimitsRequest](),
		schemaOf[ExpectedLogEvent](),
		schemaOf[NextLogEvents](),
		schemaOf[ActiveLogEvents](),
		schemaOf[RotaryEncoder](),
		schemaOf[SystemSettingRequest](),
		schemaOf[FrontendDisplaySetting](),
	}
}

// Registry is the bidirectional mapping between kinds (tags) and schemas.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	byKind map[Kind]Schema
	byName map[string]Kind
}

// NewRegistry builds a registry from schemas. A later schema with the same
// kind replaces an earlier one.
func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{
		byKind: make(map[Kind]Schema, len(schemas)),
		byName: make(map[string]Kind, len(schemas)),
	}
	for _, s := range schemas {
		r.byKind[s.Kind] = s
		r.byName[s.Name] = s.Kind
	}
	return r
}

var defaultRegistry = NewRegistry(Schemas()...)

// DefaultRegistry returns the registry of all kinds in the firmware mapping.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func (r *Registry) Lookup(k Kind) (Schema, bool) {
	s, ok := r.byKind[k]
	return s, ok
}

func (r *Registry) LookupName(name string) (Schema, bool) {
	k, ok := r.byName[name]
	if !ok {
		return Schema{}, false
	}
	return r.Lookup(k)
}

// Kinds returns the registered kinds in ascending tag order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
