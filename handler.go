package meander

import (
	"context"
	"reflect"
)

// HandlerFunc handles one decoded message. The payload is the decoded value
// for the registered payload type (a pointer to it), the raw payload bytes
// when no payload type was registered, or nil when the envelope carried no
// payload. Return values other than the error are not modeled; errors
// propagate out of dispatch after the after_receive hooks have run.
type HandlerFunc func(ctx context.Context, sock Socket, payload any) error

// HandlerInfo describes a registered message handler: the handler itself,
// the payload type the decoded payload is converted to (nil to receive the
// raw payload bytes), and whether strict field validation applies.
type HandlerInfo struct {
	Handler     HandlerFunc
	PayloadType reflect.Type
	Strict      bool
}

// HandlerOption configures a handler registration.
type HandlerOption func(*HandlerInfo)

// WithPayloadType sets the payload type the decoded payload is converted to
// before the handler is invoked. Prefer the generic On helper, which derives
// the type from the handler's signature.
func WithPayloadType(t reflect.Type) HandlerOption {
	return func(info *HandlerInfo) {
		info.PayloadType = t
	}
}

// Lenient disables strict field validation for a handler: unknown payload
// fields are ignored instead of routing the message to the fallback.
// Handlers are strict by default.
func Lenient() HandlerOption {
	return func(info *HandlerInfo) {
		info.Strict = false
	}
}

// HandlerTable is the per-resource-type registry mapping message-type tags
// to handlers. A table is built once per concrete resource type, typically
// in a package-level variable, and shared by every instance of that type.
//
// Tables compose: NewHandlerTable copies the entries of the given parent
// tables in declaration order (later parents override earlier ones for the
// same tag), and the new table's own registrations override them all.
// Registering the same tag twice on the same table is a definition-time
// error and panics.
type HandlerTable struct {
	entries map[string]HandlerInfo
	// tags registered directly on this table, used for duplicate detection
	own    map[string]bool
	schema *Schema
}

// NewHandlerTable creates a handler table, merging the entries of any parent
// tables in order.
func NewHandlerTable(parents ...*HandlerTable) *HandlerTable {
	table := &HandlerTable{
		entries: map[string]HandlerInfo{},
		own:     map[string]bool{},
	}
	for _, parent := range parents {
		for tag, info := range parent.entries {
			table.entries[tag] = info
		}
		if parent.schema != nil {
			table.schema = parent.schema
		}
	}
	return table
}

// Register binds handler to the given message-type tag. Panics if the tag
// was already registered directly on this table, or if handler is nil.
// Overriding a tag inherited from a parent table is allowed.
func (t *HandlerTable) Register(tag string, handler HandlerFunc, opts ...HandlerOption) {
	if handler == nil {
		panic("handler must not be nil")
	}
	if t.own[tag] {
		panic("duplicate handler for message type \"" + tag + "\"")
	}

	info := HandlerInfo{
		Handler: handler,
		Strict:  true,
	}
	for _, opt := range opts {
		opt(&info)
	}

	t.own[tag] = true
	t.entries[tag] = info
}

// SetSchema declares a tagged-union schema for resources using this table.
// With a schema set, inbound frames are decoded directly into one of the
// schema's payload types based on the discriminator field, bypassing the
// generic envelope. Panics if a schema payload type resolves to more than
// one handler tag.
func (t *HandlerTable) SetSchema(schema *Schema) {
	byType := map[reflect.Type]string{}
	for tag := range schema.types {
		info, ok := t.entries[tag]
		if !ok || info.PayloadType == nil {
			continue
		}
		if otherTag, exists := byType[info.PayloadType]; exists {
			panic("payload type " + info.PayloadType.String() +
				" bound to both \"" + otherTag + "\" and \"" + tag + "\"")
		}
		byType[info.PayloadType] = tag
	}
	t.schema = schema
}

// Schema returns the table's tagged-union schema, or nil.
func (t *HandlerTable) Schema() *Schema {
	return t.schema
}

// lookup returns the handler registered for tag.
func (t *HandlerTable) lookup(tag string) (HandlerInfo, bool) {
	if t == nil {
		return HandlerInfo{}, false
	}
	info, ok := t.entries[tag]
	return info, ok
}

// On registers a typed handler: the payload type is derived from the
// handler's signature. The dispatcher decodes the payload into a *T before
// invoking the handler.
func On[T any](t *HandlerTable, tag string, handler func(ctx context.Context, sock Socket, payload *T) error, opts ...HandlerOption) {
	payloadType := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, sock Socket, payload any) error {
		typed, _ := payload.(*T)
		return handler(ctx, sock, typed)
	}
	opts = append([]HandlerOption{WithPayloadType(payloadType)}, opts...)
	t.Register(tag, wrapped, opts...)
}
