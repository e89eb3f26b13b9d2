package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Protobuf encodes messages as a google.protobuf.Struct. Numbers decode as
// float64.
type Protobuf struct{}

func (Protobuf) ContentType() string {
	return "application/protobuf"
}

func (Protobuf) Marshal(m es.Message) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"id":         m.ID(),
		"name":       m.Name(),
		"kind":       string(m.Kind()),
		"payload":    normalize(map[string]any(m.Payload())),
		"metadata":   normalize(map[string]any(m.Metadata())),
		"created_at": m.CreatedAt().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", m.Name(), err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", m.Name(), err)
	}
	return data, nil
}

func (Protobuf) Unmarshal(data []byte) (es.Message, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return es.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	fields := s.AsMap()

	env := envelope{
		ID:   stringField(fields, "id"),
		Name: stringField(fields, "name"),
		Kind: es.MessageKind(stringField(fields, "kind")),
	}
	env.Payload, _ = fields["payload"].(map[string]any)
	env.Metadata, _ = fields["metadata"].(map[string]any)

	if raw := stringField(fields, "created_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return es.Message{}, fmt.Errorf("invalid created_at %q: %w", raw, err)
		}
		env.CreatedAt = t
	}

	return env.message()
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// normalize converts values structpb cannot represent directly.
func normalize(v any) any {
	switch t := v.(type) {
	case es.Payload:
		return normalize(map[string]any(t))
	case es.Metadata:
		return normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
