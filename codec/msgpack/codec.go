// Package msgpack provides a MessagePack Codec for meander. Frames carry
// the same shapes as the default JSON codec — an envelope object with a
// required string "type" and optional "payload", or a tagged-union object —
// encoded as MessagePack instead of JSON.
package msgpack

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/meanderkit/meander"
)

// Codec implements meander.Codec over MessagePack.
type Codec struct{}

var _ meander.Codec = Codec{}

func (Codec) DecodeEnvelope(raw []byte) (*meander.Envelope, error) {
	var fields struct {
		Type    any                `msgpack:"type"`
		Payload msgpack.RawMessage `msgpack:"payload"`
	}
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return nil, &meander.DecodeError{Err: err}
	}
	messageType, ok := fields.Type.(string)
	if !ok {
		return nil, &meander.DecodeError{Err: errors.New("envelope type must be a string")}
	}
	return &meander.Envelope{
		Type:    messageType,
		Payload: fields.Payload,
	}, nil
}

func (Codec) DecodeTag(raw []byte, field string) (string, error) {
	var fields map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return "", &meander.DecodeError{Err: err}
	}
	tagRaw, ok := fields[field]
	if !ok {
		return "", &meander.DecodeError{Err: errors.New("missing discriminator field: " + field)}
	}
	var tag string
	if err := msgpack.Unmarshal(tagRaw, &tag); err != nil {
		return "", &meander.DecodeError{Err: err}
	}
	return tag, nil
}

func (Codec) Decode(raw []byte, into any) error {
	if err := msgpack.Unmarshal(raw, into); err != nil {
		return &meander.DecodeError{Err: err}
	}
	return nil
}

func (Codec) Fields(raw []byte) ([]string, bool) {
	var fields map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	return keys, true
}

func (Codec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}
