package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/nmxmxh/reviewqueue/pkg/json"
)

// EventEnvelope is the canonical wrapper for everything published to the event bus.
type EventEnvelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id when id is empty.
func NewEnvelope(id, eventType string, payload []byte, at time.Time) *EventEnvelope {
	if id == "" {
		id = uuid.NewString()
	}
	if at.IsZero() {
		at = time.Now()
	}
	return &EventEnvelope{
		ID:        id,
		Type:      eventType,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: at.UTC().Unix(),
	}
}

// Marshal encodes the envelope for the wire.
func (e *EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
