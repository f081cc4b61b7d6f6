package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/tandem/go/internal/events"
)

// StateEvent is the frame pushed to every websocket client.
type StateEvent struct {
	ID        string           `json:"id"`
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}

// ParseStateEvent decodes a frame read off the socket.
func ParseStateEvent(data []byte) (*StateEvent, error) {
	var event StateEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
