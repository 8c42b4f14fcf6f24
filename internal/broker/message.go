package broker

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the envelope carried on every topic. MessageID uniqueness is
// not required for correctness; CorrelationID is the stable key tying all
// messages of one request together.
type Message struct {
	Topic         string         `json:"topic"`
	Data          map[string]any `json:"data"`
	MessageID     string         `json:"message_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewMessage builds a message with a fresh message ID. The payload may be a
// map or any struct with JSON tags; structs are flattened into the Data map.
func NewMessage(topic string, payload any, correlationID string) Message {
	return Message{
		Topic:         topic,
		Data:          toDataMap(payload),
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
	}
}

// DecodeData unmarshals the loosely-typed payload into v, tolerating unknown
// keys. Callers validate required fields afterwards.
func (m Message) DecodeData(v any) error {
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("encode message data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Topic, err)
	}
	return nil
}

func toDataMap(payload any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if data, ok := payload.(map[string]any); ok {
		return data
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{}
	}
	return data
}
