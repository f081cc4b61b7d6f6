// Package backend holds the request/response schemas of the remote tandem
// service and a Connect client and handler for them.
package backend

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const ServiceName = "tandem.v1.TandemService"

const (
	GetCurrentSnapshotProcedure    = "/" + ServiceName + "/GetCurrentSnapshot"
	SubmitVoteProcedure            = "/" + ServiceName + "/SubmitVote"
	HeartbeatProcedure             = "/" + ServiceName + "/Heartbeat"
	ReportPeakProcedure            = "/" + ServiceName + "/ReportPeak"
	RecordPresenceProcedure        = "/" + ServiceName + "/RecordPresence"
	GetCityPresenceCountsProcedure = "/" + ServiceName + "/GetCityPresenceCounts"
)

// DateLayout is the calendar date format used by peak and presence records.
const DateLayout = "2006-01-02"

var (
	// ErrRateLimited is an explicit remote rejection. Callers roll back
	// optimistic state and do not retry immediately.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidMessage marks a request or response that failed validation.
	ErrInvalidMessage = errors.New("invalid message")

	errNoSnapshot = errors.New("no snapshot available")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// Item is the thing currently counting down.
type Item struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	SecondsPerRepeat int    `json:"secondsPerRepeat"`
	RepeatCount      int    `json:"repeatCount"`
}

func (i Item) Validate() error {
	if i.SecondsPerRepeat <= 0 {
		return invalid("item.secondsPerRepeat must be positive, got %d", i.SecondsPerRepeat)
	}
	if i.RepeatCount <= 0 {
		return invalid("item.repeatCount must be positive, got %d", i.RepeatCount)
	}
	return nil
}

type GetCurrentSnapshotRequest struct{}

// GetCurrentSnapshotResponse carries the authoritative timing of the current
// item. ElapsedAtSnapshotMs is nil when the server only knows the start time;
// StartedAt is then the only timing information.
type GetCurrentSnapshotResponse struct {
	Item                Item   `json:"item"`
	TotalDurationMs     int64  `json:"totalDurationMs"`
	ElapsedAtSnapshotMs *int64 `json:"elapsedAtSnapshotMs,omitempty"`
	StartedAt           string `json:"startedAt,omitempty"`
}

func (r *GetCurrentSnapshotResponse) Validate() error {
	if err := r.Item.Validate(); err != nil {
		return err
	}
	if r.TotalDurationMs <= 0 {
		return invalid("totalDurationMs must be positive, got %d", r.TotalDurationMs)
	}
	if r.ElapsedAtSnapshotMs == nil {
		if r.StartedAt == "" {
			return invalid("snapshot has neither elapsedAtSnapshotMs nor startedAt")
		}
		if _, err := time.Parse(time.RFC3339Nano, r.StartedAt); err != nil {
			return invalid("startedAt %q is not RFC 3339", r.StartedAt)
		}
	} else if *r.ElapsedAtSnapshotMs < 0 {
		return invalid("elapsedAtSnapshotMs must not be negative")
	}
	return nil
}

// VoteStatus is the remote answer to a vote.
type VoteStatus string

const (
	VoteStatusOK          VoteStatus = "ok"
	VoteStatusRateLimited VoteStatus = "rate_limited"
)

type SubmitVoteRequest struct {
	ItemID  string `json:"itemId"`
	VoterID string `json:"voterId"`
	Vote    int    `json:"vote"`
}

func (r *SubmitVoteRequest) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return invalid("itemId is required")
	}
	if r.VoterID == "" {
		return invalid("voterId is required")
	}
	if r.Vote < -1 || r.Vote > 1 {
		return invalid("vote must be -1, 0 or 1, got %d", r.Vote)
	}
	return nil
}

type SubmitVoteResponse struct {
	Status VoteStatus `json:"status"`
}

func (r *SubmitVoteResponse) Validate() error {
	switch r.Status {
	case VoteStatusOK, VoteStatusRateLimited:
		return nil
	}
	return invalid("unknown vote status %q", r.Status)
}

type HeartbeatRequest struct {
	DeviceHash string  `json:"deviceHash"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

func (r *HeartbeatRequest) Validate() error {
	if r.DeviceHash == "" {
		return invalid("deviceHash is required")
	}
	if math.IsNaN(r.Lat) || math.IsNaN(r.Lng) || r.Lat < -90 || r.Lat > 90 || r.Lng < -180 || r.Lng > 180 {
		return invalid("coordinate out of range (%v, %v)", r.Lat, r.Lng)
	}
	return nil
}

type HeartbeatResponse struct {
	RawNearbyCount int `json:"rawNearbyCount"`
}

func (r *HeartbeatResponse) Validate() error {
	if r.RawNearbyCount < 0 {
		return invalid("rawNearbyCount must not be negative, got %d", r.RawNearbyCount)
	}
	return nil
}

type ReportPeakRequest struct {
	City             string `json:"city"`
	Date             string `json:"date"`
	ApproximateCount int    `json:"approximateCount"`
}

func (r *ReportPeakRequest) Validate() error {
	if strings.TrimSpace(r.City) == "" {
		return invalid("city is required")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return invalid("date %q is not %s", r.Date, DateLayout)
	}
	if r.ApproximateCount <= 0 {
		return invalid("approximateCount must be positive, got %d", r.ApproximateCount)
	}
	return nil
}

type ReportPeakResponse struct{}

type RecordPresenceRequest struct {
	City     string `json:"city"`
	DeviceID string `json:"deviceId"`
}

func (r *RecordPresenceRequest) Validate() error {
	if strings.TrimSpace(r.City) == "" {
		return invalid("city is required")
	}
	if r.DeviceID == "" {
		return invalid("deviceId is required")
	}
	return nil
}

type RecordPresenceResponse struct{}

type GetCityPresenceCountsRequest struct{}

type CityPresenceCount struct {
	City         string `json:"city"`
	VisitorCount int    `json:"visitorCount"`
}

type GetCityPresenceCountsResponse struct {
	Cities []CityPresenceCount `json:"cities"`
}

func (r *GetCityPresenceCountsResponse) Validate() error {
	for _, c := range r.Cities {
		if c.VisitorCount < 0 {
			return invalid("visitorCount for %q must not be negative", c.City)
		}
	}
	return nil
}
