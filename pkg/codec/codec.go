// Package codec encodes messages for transport and storage.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Codec converts messages to and from bytes.
type Codec interface {
	Marshal(m es.Message) ([]byte, error)
	Unmarshal(data []byte) (es.Message, error)
	ContentType() string
}

// envelope is the serialized shape of a message.
type envelope struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      es.MessageKind `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

func toEnvelope(m es.Message) envelope {
	return envelope{
		ID:        m.ID(),
		Name:      m.Name(),
		Kind:      m.Kind(),
		Payload:   m.Payload(),
		Metadata:  m.Metadata(),
		CreatedAt: m.CreatedAt(),
	}
}

func (e envelope) message() (es.Message, error) {
	if e.Name == "" {
		return es.Message{}, fmt.Errorf("message has no name")
	}
	switch e.Kind {
	case es.KindCommand, es.KindEvent:
	default:
		return es.Message{}, fmt.Errorf("message %s has unknown kind %q", e.Name, e.Kind)
	}
	return es.NewMessage(e.Kind, e.Name, e.Payload,
		es.WithID(e.ID),
		es.WithMetadata(e.Metadata),
		es.WithCreatedAt(e.CreatedAt),
	), nil
}

// JSON encodes messages as JSON objects. Numbers decode as json.Number so
// integers keep their precision.
type JSON struct{}

func (JSON) ContentType() string {
	return "application/json"
}

func (JSON) Marshal(m es.Message) ([]byte, error) {
	data, err := json.Marshal(toEnvelope(m))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", m.Name(), err)
	}
	return data, nil
}

func (JSON) Unmarshal(data []byte) (es.Message, error) {
	var env envelope
	if err := decodeJSON(data, &env); err != nil {
		return es.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return env.message()
}

// EncodeValues encodes a payload or metadata map as a JSON object.
func EncodeValues(values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(values)
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if len(data) == 0 {
		return values, nil
	}
	if err := decodeJSON(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
