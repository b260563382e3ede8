package meander

import "reflect"

// Schema describes a tagged union: a discriminator field embedded in each
// frame, and the mapping from discriminator values to payload types. With a
// schema attached to a handler table, whole frames are decoded directly
// into the payload type selected by the tag instead of the generic
// envelope.
type Schema struct {
	field string
	types map[string]reflect.Type
}

// NewSchema creates a schema discriminated by the given field.
func NewSchema(field string) *Schema {
	if field == "" {
		panic("schema discriminator field must not be empty")
	}
	return &Schema{
		field: field,
		types: map[string]reflect.Type{},
	}
}

// RegisterType binds a discriminator value to a payload type. Prefer the
// generic SchemaType helper. Panics on a duplicate tag.
func (s *Schema) RegisterType(tag string, payloadType reflect.Type) {
	if _, ok := s.types[tag]; ok {
		panic("duplicate schema tag \"" + tag + "\"")
	}
	s.types[tag] = payloadType
}

// Field returns the discriminator field name.
func (s *Schema) Field() string {
	return s.field
}

// typeFor returns the payload type for a discriminator value.
func (s *Schema) typeFor(tag string) (reflect.Type, bool) {
	t, ok := s.types[tag]
	return t, ok
}

// SchemaType binds the discriminator value tag to the payload type T.
func SchemaType[T any](s *Schema, tag string) {
	s.RegisterType(tag, reflect.TypeOf((*T)(nil)).Elem())
}
