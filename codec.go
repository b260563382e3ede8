package meander

import (
	"encoding/json"
	"errors"
)

// Envelope is the default wire format used when a resource declares no
// schema: an object with a required string field "type" and an optional
// "payload" of any shape. Payload holds the still-encoded payload bytes; nil
// when the field is absent.
type Envelope struct {
	Type    string
	Payload []byte
}

// Codec decodes raw frames into envelopes or tagged-union values and encodes
// structured values back to frames. The core consumes this interface and
// never parses frames itself. All decode failures must be reported as a
// *DecodeError so the dispatcher can route them to the fallback handler
// rather than crashing the connection.
type Codec interface {
	// DecodeEnvelope decodes raw as a {type, payload} envelope. A missing or
	// non-string type field is a decode failure.
	DecodeEnvelope(raw []byte) (*Envelope, error)

	// DecodeTag extracts the value of the string discriminator field from
	// raw. Used for tagged-union dispatch.
	DecodeTag(raw []byte, field string) (string, error)

	// Decode decodes raw into the value pointed to by into.
	Decode(raw []byte, into any) error

	// Fields returns the top-level keys of raw when it encodes a mapping.
	// The second return value is false when raw is not a mapping, in which
	// case strict field validation does not apply.
	Fields(raw []byte) ([]string, bool)

	// Encode encodes a structured value to a raw frame.
	Encode(v any) ([]byte, error)
}

// JSONCodec is the default Codec. Frames are JSON; the envelope is a JSON
// object with a required string "type" and optional "payload".
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) DecodeEnvelope(raw []byte) (*Envelope, error) {
	var fields struct {
		Type    any             `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}
	messageType, ok := fields.Type.(string)
	if !ok {
		return nil, &DecodeError{Err: errors.New("envelope type must be a string")}
	}
	return &Envelope{
		Type:    messageType,
		Payload: fields.Payload,
	}, nil
}

func (JSONCodec) DecodeTag(raw []byte, field string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", &DecodeError{Err: err}
	}
	tagRaw, ok := fields[field]
	if !ok {
		return "", &DecodeError{Err: errors.New("missing discriminator field: " + field)}
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return "", &DecodeError{Err: err}
	}
	return tag, nil
}

func (JSONCodec) Decode(raw []byte, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

func (JSONCodec) Fields(raw []byte) ([]string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	return keys, true
}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
