package backend

import (
	"context"
	"sort"
	"sync"
)

// MemoryService is an in-process Service used by tests and by the local
// development backend (tandem serve-fake).
type MemoryService struct {
	mu sync.Mutex

	Snapshot *GetCurrentSnapshotResponse
	// NearbyCounts are returned by successive heartbeats; the last value
	// repeats once the list is exhausted.
	NearbyCounts []int
	// RateLimitVotes makes every SubmitVote answer "rate_limited".
	RateLimitVotes bool

	Votes      []SubmitVoteRequest
	Heartbeats []HeartbeatRequest
	Peaks      []ReportPeakRequest
	Presence   []RecordPresenceRequest

	heartbeatIdx int
}

var _ Service = (*MemoryService)(nil)

func (s *MemoryService) GetCurrentSnapshot(ctx context.Context, req *GetCurrentSnapshotRequest) (*GetCurrentSnapshotResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Snapshot == nil {
		return nil, errNoSnapshot
	}
	snap := *s.Snapshot
	return &snap, nil
}

func (s *MemoryService) SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*SubmitVoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RateLimitVotes {
		return &SubmitVoteResponse{Status: VoteStatusRateLimited}, nil
	}
	s.Votes = append(s.Votes, *req)
	return &SubmitVoteResponse{Status: VoteStatusOK}, nil
}

func (s *MemoryService) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Heartbeats = append(s.Heartbeats, *req)

	count := 0
	if n := len(s.NearbyCounts); n > 0 {
		idx := s.heartbeatIdx
		if idx >= n {
			idx = n - 1
		}
		count = s.NearbyCounts[idx]
		s.heartbeatIdx++
	}
	return &HeartbeatResponse{RawNearbyCount: count}, nil
}

func (s *MemoryService) ReportPeak(ctx context.Context, req *ReportPeakRequest) (*ReportPeakResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Peaks = append(s.Peaks, *req)
	return &ReportPeakResponse{}, nil
}

func (s *MemoryService) RecordPresence(ctx context.Context, req *RecordPresenceRequest) (*RecordPresenceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Presence = append(s.Presence, *req)
	return &RecordPresenceResponse{}, nil
}

// GetCityPresenceCounts counts distinct devices per city.
func (s *MemoryService) GetCityPresenceCounts(ctx context.Context, req *GetCityPresenceCountsRequest) (*GetCityPresenceCountsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]map[string]bool)
	for _, p := range s.Presence {
		if seen[p.City] == nil {
			seen[p.City] = make(map[string]bool)
		}
		seen[p.City][p.DeviceID] = true
	}

	resp := &GetCityPresenceCountsResponse{}
	for city, devices := range seen {
		resp.Cities = append(resp.Cities, CityPresenceCount{City: city, VisitorCount: len(devices)})
	}
	sort.Slice(resp.Cities, func(i, j int) bool {
		return resp.Cities[i].VisitorCount > resp.Cities[j].VisitorCount
	})
	return resp, nil
}

// PeakReports returns a copy of every accepted ReportPeak request.
func (s *MemoryService) PeakReports() []ReportPeakRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReportPeakRequest(nil), s.Peaks...)
}

// PresenceRecords returns a copy of every accepted RecordPresence request.
func (s *MemoryService) PresenceRecords() []RecordPresenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordPresenceRequest(nil), s.Presence...)
}

// HeartbeatCount returns the number of heartbeats served.
func (s *MemoryService) HeartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Heartbeats)
}

// VoteRequests returns a copy of every accepted SubmitVote request.
func (s *MemoryService) VoteRequests() []SubmitVoteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubmitVoteRequest(nil), s.Votes...)
}

// SetRateLimitVotes toggles RateLimitVotes while the service is in use.
func (s *MemoryService) SetRateLimitVotes(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RateLimitVotes = v
}
