package meander

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// dispatcher decodes inbound frames and routes them to the target resource's
// handlers. Decode and validation failures are absorbed by the resource's
// fallback and never surface to the caller; handler errors propagate.
type dispatcher struct {
	codec  Codec
	logger *zap.Logger
}

func (d *dispatcher) dispatch(ctx context.Context, resource Resource, sock Socket, raw []byte) error {
	table := resource.base().handlers
	if table != nil && table.schema != nil {
		return d.dispatchWithSchema(ctx, resource, sock, raw)
	}
	return d.dispatchWithEnvelope(ctx, resource, sock, raw)
}

// dispatchWithSchema decodes raw as one of the schema's tagged payload
// types. The whole frame is decoded into the payload type; the
// discriminator field is excluded from strict validation.
func (d *dispatcher) dispatchWithSchema(ctx context.Context, resource Resource, sock Socket, raw []byte) error {
	table := resource.base().handlers
	schema := table.schema

	tag, err := d.codec.DecodeTag(raw, schema.field)
	if err != nil {
		d.logger.Debug("frame failed schema decode, routing to fallback", zap.Error(err))
		return resource.OnUnhandled(ctx, sock, raw)
	}

	payloadType, known := schema.typeFor(tag)
	if !known {
		d.logger.Debug("unknown schema tag, routing to fallback", zap.String("tag", tag))
		return resource.OnUnhandled(ctx, sock, raw)
	}

	info, ok := table.lookup(tag)
	if !ok {
		conventional, found := findConventionalHandler(resource, tag, d.logger)
		if !found {
			return resource.OnUnhandled(ctx, sock, raw)
		}
		return conventional(ctx, sock, raw)
	}

	targetType := info.PayloadType
	if targetType == nil {
		targetType = payloadType
	}
	payload, err := d.convertPayload(raw, targetType, info.Strict, schema.field)
	if err != nil {
		d.logger.Debug("schema payload rejected, routing to fallback",
			zap.String("tag", tag), zap.Error(err))
		return resource.OnUnhandled(ctx, sock, raw)
	}

	return info.Handler(ctx, sock, payload)
}

// dispatchWithEnvelope decodes raw as a generic {type, payload} envelope.
func (d *dispatcher) dispatchWithEnvelope(ctx context.Context, resource Resource, sock Socket, raw []byte) error {
	envelope, err := d.codec.DecodeEnvelope(raw)
	if err != nil {
		d.logger.Debug("frame failed envelope decode, routing to fallback", zap.Error(err))
		return resource.OnUnhandled(ctx, sock, raw)
	}

	table := resource.base().handlers
	info, ok := table.lookup(envelope.Type)
	if !ok {
		conventional, found := findConventionalHandler(resource, envelope.Type, d.logger)
		if !found {
			return resource.OnUnhandled(ctx, sock, raw)
		}
		return conventional(ctx, sock, envelope.Payload)
	}

	if info.PayloadType == nil || envelope.Payload == nil {
		var payload any
		if envelope.Payload != nil {
			payload = envelope.Payload
		}
		return info.Handler(ctx, sock, payload)
	}

	payload, err := d.convertPayload(envelope.Payload, info.PayloadType, info.Strict, "")
	if err != nil {
		d.logger.Debug("payload rejected, routing to fallback",
			zap.String("type", envelope.Type), zap.Error(err))
		return resource.OnUnhandled(ctx, sock, raw)
	}

	return info.Handler(ctx, sock, payload)
}

// convertPayload decodes rawPayload into a new value of payloadType,
// applying strict unknown-field validation first when the payload is a
// mapping. skipField names a discriminator field excluded from strict
// validation; empty for envelope payloads.
func (d *dispatcher) convertPayload(rawPayload []byte, payloadType reflect.Type, strict bool, skipField string) (any, error) {
	if strict {
		if keys, isMapping := d.codec.Fields(rawPayload); isMapping {
			if err := validateStrictFields(keys, payloadType, skipField); err != nil {
				return nil, err
			}
		}
	}

	value := reflect.New(payloadType)
	if err := d.codec.Decode(rawPayload, value.Interface()); err != nil {
		return nil, err
	}
	return value.Interface(), nil
}

// validateStrictFields rejects mapping payloads carrying keys not declared
// on the target type.
func validateStrictFields(keys []string, payloadType reflect.Type, skipField string) error {
	allowed := allowedFieldNames(payloadType)
	for _, key := range keys {
		if key == skipField {
			continue
		}
		if !allowed[key] {
			return &DecodeError{Err: &unknownFieldError{field: key, typ: payloadType}}
		}
	}
	return nil
}

type unknownFieldError struct {
	field string
	typ   reflect.Type
}

func (e *unknownFieldError) Error() string {
	return "unknown field \"" + e.field + "\" for payload type " + e.typ.String()
}

// allowedFieldNames collects the wire names of a struct type's exported
// fields: the json tag name when present, falling back to the msgpack tag
// name, then the Go field name. Non-struct payload types allow any keys.
func allowedFieldNames(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	allowed := map[string]bool{}
	if t.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		for _, tagKey := range []string{"json", "msgpack"} {
			if tag, ok := field.Tag.Lookup(tagKey); ok {
				tagName := strings.Split(tag, ",")[0]
				if tagName == "-" {
					name = ""
				} else if tagName != "" {
					name = tagName
				}
				break
			}
		}
		if name != "" {
			allowed[name] = true
		}
	}
	return allowed
}

// findConventionalHandler resolves the conventional fallback for a tag: a
// method named On<ExportedForm(tag)> on the resource with the exact
// signature
//
//	func(context.Context, Socket, []byte) error
//
// Methods with any other signature are ignored. The tag normalization rule
// is deterministic: the tag is split on case boundaries and on any
// non-alphanumeric runs, each word is title-cased, and the words are joined
// behind the "On" prefix ("newMessage" and "new-message" both resolve to
// OnNewMessage).
func findConventionalHandler(resource Resource, tag string, logger *zap.Logger) (func(context.Context, Socket, []byte) error, bool) {
	name := conventionalMethodName(tag)
	method := reflect.ValueOf(resource).MethodByName(name)
	if !method.IsValid() {
		return nil, false
	}

	fn, ok := method.Interface().(func(context.Context, Socket, []byte) error)
	if !ok {
		logger.Debug("conventional handler has wrong signature, ignoring",
			zap.String("method", name), zap.String("tag", tag))
		return nil, false
	}
	return fn, true
}

// conventionalMethodName maps a message tag to its conventional handler
// method name. See findConventionalHandler for the normalization rule.
func conventionalMethodName(tag string) string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	runes := []rune(tag)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	flush()

	name := "On"
	for _, word := range words {
		name += strings.ToUpper(word[:1]) + word[1:]
	}
	return name
}
