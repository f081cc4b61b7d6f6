// Package countdown turns one authoritative countdown snapshot into a
// locally ticking display state, anchored to the local clock only.
package countdown

import (
	"time"

	"github.com/mcdev12/tandem/go/internal/backend"
)

// Item is the text being counted down and its repeat timing.
type Item struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	SecondsPerRepeat int    `json:"seconds_per_repeat"`
	RepeatCount      int    `json:"repeat_count"`
}

// Snapshot is one fetched countdown. ReceivedAtLocal is stamped with the
// local clock the moment the response arrived; when it is zero only the
// wall-clock StartedAt is available.
type Snapshot struct {
	Item                Item
	TotalDurationMs     int64
	ElapsedAtSnapshotMs int64
	ReceivedAtLocal     time.Time
	StartedAt           string
}

// State is derived from a Snapshot and the current time, never stored.
type State struct {
	CurrentRepeat    int   `json:"current_repeat"`
	SecondsRemaining int   `json:"seconds_remaining"`
	ElapsedMs        int64 `json:"elapsed_ms"`
}

// UsesWallClock reports whether elapsed time depends on the server and local
// clocks agreeing. That path has no skew protection.
func (s Snapshot) UsesWallClock() bool {
	return s.ReceivedAtLocal.IsZero()
}

// Elapsed returns the snapshot's elapsed time at now. The second value is
// false when the wall-clock start cannot be parsed.
func (s Snapshot) Elapsed(now time.Time) (int64, bool) {
	var elapsed int64
	if !s.UsesWallClock() {
		elapsed = s.ElapsedAtSnapshotMs + now.Sub(s.ReceivedAtLocal).Milliseconds()
	} else {
		started, err := time.Parse(time.RFC3339Nano, s.StartedAt)
		if err != nil {
			return 0, false
		}
		elapsed = now.Sub(started).Milliseconds()
	}
	// A local clock stepping backwards must not produce negative progress.
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

func (s Snapshot) valid() bool {
	return s.Item.SecondsPerRepeat > 0 && s.Item.RepeatCount > 0 && s.TotalDurationMs > 0
}

// DeriveState computes the display state at now. It returns false when the
// snapshot has expired or cannot be interpreted; the caller then needs a new
// snapshot.
func DeriveState(s Snapshot, now time.Time) (State, bool) {
	if !s.valid() {
		return State{}, false
	}
	elapsed, ok := s.Elapsed(now)
	if !ok || elapsed >= s.TotalDurationMs {
		return State{}, false
	}

	repeatMs := int64(s.Item.SecondsPerRepeat) * 1000
	repeatIndex := elapsed / repeatMs
	position := elapsed % repeatMs

	current := int64(s.Item.RepeatCount) - repeatIndex
	if current < 1 {
		current = 1
	}
	remaining := (repeatMs - position + 999) / 1000
	if remaining > int64(s.Item.SecondsPerRepeat) {
		remaining = int64(s.Item.SecondsPerRepeat)
	}

	return State{
		CurrentRepeat:    int(current),
		SecondsRemaining: int(remaining),
		ElapsedMs:        elapsed,
	}, true
}

// IsExpired reports whether the snapshot no longer describes the present.
func IsExpired(s Snapshot, now time.Time) bool {
	_, ok := DeriveState(s, now)
	return !ok
}

// FromResponse builds a snapshot from a backend answer that arrived at
// receivedAt. Responses without an elapsed offset fall back to StartedAt.
func FromResponse(resp *backend.GetCurrentSnapshotResponse, receivedAt time.Time) Snapshot {
	s := Snapshot{
		Item: Item{
			ID:               resp.Item.ID,
			Text:             resp.Item.Text,
			SecondsPerRepeat: resp.Item.SecondsPerRepeat,
			RepeatCount:      resp.Item.RepeatCount,
		},
		TotalDurationMs: resp.TotalDurationMs,
		StartedAt:       resp.StartedAt,
	}
	if resp.ElapsedAtSnapshotMs != nil {
		s.ElapsedAtSnapshotMs = *resp.ElapsedAtSnapshotMs
		s.ReceivedAtLocal = receivedAt
	}
	return s
}
