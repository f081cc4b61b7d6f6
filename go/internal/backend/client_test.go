package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, svc Service) *Client {
	t.Helper()
	srv := httptest.NewServer(NewHandler(svc))
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL)
}

func TestClientRoundTrip(t *testing.T) {
	elapsed := int64(1200)
	svc := &MemoryService{
		Snapshot: &GetCurrentSnapshotResponse{
			Item:                Item{ID: "a", Text: "breathe", SecondsPerRepeat: 5, RepeatCount: 3},
			TotalDurationMs:     15000,
			ElapsedAtSnapshotMs: &elapsed,
		},
		NearbyCounts: []int{4, 9},
	}
	c := newTestClient(t, svc)
	ctx := context.Background()

	snap, err := c.GetCurrentSnapshot(ctx, &GetCurrentSnapshotRequest{})
	require.NoError(t, err)
	assert.Equal(t, "breathe", snap.Item.Text)
	require.NotNil(t, snap.ElapsedAtSnapshotMs)
	assert.EqualValues(t, 1200, *snap.ElapsedAtSnapshotMs)

	hb, err := c.Heartbeat(ctx, &HeartbeatRequest{DeviceHash: "h", Lat: 1, Lng: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, hb.RawNearbyCount)

	_, err = c.ReportPeak(ctx, &ReportPeakRequest{City: "Berlin", Date: "2026-10-16", ApproximateCount: 10})
	require.NoError(t, err)
	require.Len(t, svc.Peaks, 1)

	_, err = c.RecordPresence(ctx, &RecordPresenceRequest{City: "Berlin", DeviceID: "d1"})
	require.NoError(t, err)
	_, err = c.RecordPresence(ctx, &RecordPresenceRequest{City: "Berlin", DeviceID: "d1"})
	require.NoError(t, err)

	counts, err := c.GetCityPresenceCounts(ctx, &GetCityPresenceCountsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []CityPresenceCount{{City: "Berlin", VisitorCount: 1}}, counts.Cities)
}

func TestClientSubmitVoteStatuses(t *testing.T) {
	svc := &MemoryService{}
	c := newTestClient(t, svc)
	ctx := context.Background()

	resp, err := c.SubmitVote(ctx, &SubmitVoteRequest{ItemID: "a", VoterID: "v", Vote: 1})
	require.NoError(t, err)
	assert.Equal(t, VoteStatusOK, resp.Status)

	svc.RateLimitVotes = true
	_, err = c.SubmitVote(ctx, &SubmitVoteRequest{ItemID: "a", VoterID: "v", Vote: 0})
	assert.True(t, IsRateLimited(err))
}

type exhaustedService struct{ MemoryService }

func (s *exhaustedService) SubmitVote(ctx context.Context, req *SubmitVoteRequest) (*SubmitVoteResponse, error) {
	return nil, fmt.Errorf("too many votes: %w", ErrRateLimited)
}

func TestClientMapsResourceExhausted(t *testing.T) {
	c := newTestClient(t, &exhaustedService{})

	_, err := c.SubmitVote(context.Background(), &SubmitVoteRequest{ItemID: "a", VoterID: "v", Vote: -1})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
}

func TestClientValidatesRequests(t *testing.T) {
	svc := &MemoryService{}
	c := newTestClient(t, svc)

	_, err := c.SubmitVote(context.Background(), &SubmitVoteRequest{ItemID: "a", VoterID: "v", Vote: 2})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = c.ReportPeak(context.Background(), &ReportPeakRequest{City: "Berlin", Date: "16/10/2026", ApproximateCount: 10})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	assert.Empty(t, svc.Votes)
	assert.Empty(t, svc.Peaks)
}

type negativeCountService struct{ MemoryService }

func (s *negativeCountService) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	return &HeartbeatResponse{RawNearbyCount: -1}, nil
}

func TestClientValidatesResponses(t *testing.T) {
	c := newTestClient(t, &negativeCountService{})

	_, err := c.Heartbeat(context.Background(), &HeartbeatRequest{DeviceHash: "h", Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestHandlerRejectsInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(NewHandler(&MemoryService{}))
	defer srv.Close()

	// Bypass client-side validation with a raw client.
	raw := connect.NewClient[HeartbeatRequest, HeartbeatResponse](srv.Client(), srv.URL+HeartbeatProcedure, clientCodec())
	_, err := raw.CallUnary(context.Background(), connect.NewRequest(&HeartbeatRequest{Lat: 1, Lng: 1}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(http.DefaultClient, srv.URL)
	_, err := c.GetCurrentSnapshot(context.Background(), &GetCurrentSnapshotRequest{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestSnapshotValidation(t *testing.T) {
	item := Item{ID: "a", SecondsPerRepeat: 5, RepeatCount: 3}

	legacy := &GetCurrentSnapshotResponse{Item: item, TotalDurationMs: 15000, StartedAt: "2026-10-16T10:00:00Z"}
	assert.NoError(t, legacy.Validate())

	missing := &GetCurrentSnapshotResponse{Item: item, TotalDurationMs: 15000}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidMessage)

	badItem := &GetCurrentSnapshotResponse{Item: Item{SecondsPerRepeat: 0, RepeatCount: 3}, TotalDurationMs: 1}
	assert.ErrorIs(t, badItem.Validate(), ErrInvalidMessage)
}
