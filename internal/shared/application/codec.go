package application

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// ErrUnknownMessageType is returned when decoding a tag with no registration.
var ErrUnknownMessageType = errors.New("unknown message type")

const typeField = "type"

// Codec converts messages to and from tagged JSON objects. The tag is stored
// in the "type" field alongside the message's own fields.
type Codec struct {
	decoders map[string]func(data []byte) (domain.Message, error)
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]func([]byte) (domain.Message, error))}
}

// Register adds M to the codec under the tag its zero value reports.
func Register[M domain.Message](c *Codec) {
	var zero M
	c.decoders[zero.MessageType()] = func(data []byte) (domain.Message, error) {
		var msg M
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// Types returns the registered tags.
func (c *Codec) Types() []string {
	tags := make([]string, 0, len(c.decoders))
	for tag := range c.decoders {
		tags = append(tags, tag)
	}
	return tags
}

// Encode marshals msg and adds its tag.
func (c *Codec) Encode(msg domain.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.MessageType(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("message %s is not a JSON object: %w", msg.MessageType(), err)
	}
	tag, _ := json.Marshal(msg.MessageType())
	fields[typeField] = tag

	return json.Marshal(fields)
}

// Decode reads the tag of data and unmarshals it into the registered type.
func (c *Codec) Decode(data []byte) (domain.Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to read message type: %w", err)
	}

	decode, ok := c.decoders[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}

	msg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", envelope.Type, err)
	}
	return msg, nil
}
