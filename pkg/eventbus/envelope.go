package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/table"
)

// EventEnvelopeContentType is the content type of serialized envelopes.
const EventEnvelopeContentType = "application/json"

// EventEnvelope is the broker representation of one service event.
type EventEnvelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Service    string            `json:"service"`
	Event      string            `json:"event"`
	RecordID   string            `json:"record_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EventType builds the dotted envelope type, e.g. "catalog.items.created".
func EventType(service, event string) string {
	service = strings.ReplaceAll(strings.Trim(service, "/"), "/", ".")
	return fmt.Sprintf("%s.%s", service, event)
}

// NewEventEnvelope wraps ev. service is used when the event carries no path;
// idField names the record key copied into RecordID.
func NewEventEnvelope(ev events.Event, service, idField string, s Serializer) (*EventEnvelope, error) {
	if s == nil {
		s = NewJSONSerializer()
	}
	if ev.Path != "" {
		service = ev.Path
	}
	payload, err := s.Serialize(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Name, err)
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	env := &EventEnvelope{
		ID:         uuid.NewString(),
		Type:       EventType(service, ev.Name),
		Service:    service,
		Event:      ev.Name,
		RecordID:   recordID(ev.Payload, idField),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
	return env, env.Validate()
}

func recordID(payload interface{}, idField string) string {
	var rec map[string]interface{}
	switch p := payload.(type) {
	case table.Record:
		rec = p
	case map[string]interface{}:
		rec = p
	default:
		return ""
	}
	id, ok := rec[idField]
	if !ok || id == nil {
		return ""
	}
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}

// Validate checks whether the envelope contains all required fields.
func (e *EventEnvelope) Validate() error {
	if e == nil {
		return errors.New("event envelope is nil")
	}

	required := []struct{ field, value string }{
		{"id", e.ID},
		{"type", e.Type},
		{"service", e.Service},
		{"event", e.Event},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required field: %s", r.field)
		}
	}

	valid := false
	for _, name := range events.Names {
		if e.Event == name {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid event: %q", e.Event)
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	if len(e.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

// Serialize marshals the envelope to JSON.
func (e *EventEnvelope) Serialize() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event envelope: %w", err)
	}
	return data, nil
}

// DeserializeEventEnvelope unmarshals and validates an envelope from JSON.
func DeserializeEventEnvelope(data []byte) (*EventEnvelope, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot deserialize empty envelope")
	}
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to deserialize event envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// ToMessage converts the envelope into a message keyed by record id, or by
// envelope id when the record has none.
func (e *EventEnvelope) ToMessage() (*Message, error) {
	payload, err := e.Serialize()
	if err != nil {
		return nil, err
	}
	key := e.RecordID
	if key == "" {
		key = e.ID
	}
	headers := map[string]string{
		"type":    e.Type,
		"service": e.Service,
		"event":   e.Event,
	}
	if e.RecordID != "" {
		headers["record_id"] = e.RecordID
	}
	return &Message{
		ID:          e.ID,
		Key:         key,
		Value:       payload,
		ContentType: EventEnvelopeContentType,
		Timestamp:   e.OccurredAt,
		Headers:     headers,
	}, nil
}

// EventEnvelopeFromMessage decodes an event envelope from a message.
func EventEnvelopeFromMessage(msg *Message) (*EventEnvelope, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if len(msg.Value) == 0 {
		return nil, errors.New("message payload is empty")
	}
	return DeserializeEventEnvelope(msg.Value)
}
