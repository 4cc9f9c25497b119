package flowstone

import (
	"encoding/json"
	"fmt"
)

// MessageTypeBatch is the type of the synthetic message a fan-in target
// receives. Its payload is the ordered list of buffered source messages.
const MessageTypeBatch = "flowstone.batch"

// MessageTypeDecision is the type of the message a human review executor's
// downstream receives when a run resumes with an operator decision.
const MessageTypeDecision = "flowstone.decision"

// Message is a typed payload flowing between executors. Ownership passes
// from sender to runner to receiver; a receiver must not retain a reference
// to the payload after its handler returns. Payloads are JSON so that a
// checkpoint can round-trip them without loss.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Source    string          `json:"source,omitempty"`
	Iteration int             `json:"iteration"`
}

// NewMessage creates a message of the given type with v marshaled as its
// payload.
func NewMessage(msgType string, v any) (Message, error) {
	if msgType == "" {
		return Message{}, fmt.Errorf("message type required")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %q payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: payload}, nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %q has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %q payload: %w", m.Type, err)
	}
	return nil
}

// DecodeBatch unmarshals a fan-in batch payload into the ordered list of
// buffered messages. The order matches the fan-in's source declaration
// order, not arrival order.
func (m Message) DecodeBatch() ([]Message, error) {
	if m.Type != MessageTypeBatch {
		return nil, fmt.Errorf("message %q is not a batch", m.Type)
	}
	var batch []Message
	if err := json.Unmarshal(m.Payload, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch payload: %w", err)
	}
	return batch, nil
}

// PayloadMap decodes the payload into a generic map. Switch conditions are
// evaluated against this form.
func (m Message) PayloadMap() (map[string]any, error) {
	var out map[string]any
	if len(m.Payload) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %q payload as map: %w", m.Type, err)
	}
	return out, nil
}

func newBatchMessage(iteration int, inputs []Message) (Message, error) {
	msg, err := NewMessage(MessageTypeBatch, inputs)
	if err != nil {
		return Message{}, err
	}
	msg.Iteration = iteration
	return msg, nil
}
