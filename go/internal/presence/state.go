package presence

import (
	"fmt"
	"time"
)

// Phase is the heartbeat lifecycle stage.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseActive
	PhaseInitialRetry
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseInitialRetry:
		return "initial_retry"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "starting":
		*p = PhaseStarting
	case "active":
		*p = PhaseActive
	case "initial_retry":
		*p = PhaseInitialRetry
	default:
		return fmt.Errorf("unknown presence phase %q", b)
	}
	return nil
}

// State is owned by Heartbeat; subscribers get copies.
type State struct {
	RawNearbyCount   int       `json:"raw_nearby_count"`
	ApproximateCount int       `json:"approximate_count"`
	Active           bool      `json:"active"`
	LastError        string    `json:"last_error,omitempty"`
	City             string    `json:"city,omitempty"`
	Phase            Phase     `json:"phase"`
	UpdatedAt        time.Time `json:"updated_at"`
}
