// Package events relays local component state to NATS so other processes
// (dashboards, a companion display) can follow this device.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeCountdown EventType = "countdown"
	EventTypePresence  EventType = "presence"
	EventTypeVotes     EventType = "votes"
	EventTypeLocation  EventType = "location"
)

// Event is one state change waiting to be published.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	DeviceHash string
	Payload    []byte
	CreatedAt  time.Time
}

// NewEvent marshals payload and stamps a fresh id.
func NewEvent(eventType EventType, deviceHash string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		DeviceHash: deviceHash,
		Payload:    data,
		CreatedAt:  now,
	}, nil
}

// Envelope is the wire format on the bus.
type Envelope struct {
	EventID    string          `json:"eventId"`
	EventType  EventType       `json:"eventType"`
	DeviceHash string          `json:"deviceHash,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) Envelope() Envelope {
	return Envelope{
		EventID:    e.ID.String(),
		EventType:  e.Type,
		DeviceHash: e.DeviceHash,
		Timestamp:  e.CreatedAt.UTC(),
		Payload:    json.RawMessage(e.Payload),
	}
}

// Subject returns "<prefix>.state.<type>".
func Subject(prefix string, t EventType) string {
	return fmt.Sprintf("%s.state.%s", prefix, t)
}
