package votes

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/identity"
)

type staticDevice string

func (d staticDevice) AnonymousID(context.Context) (string, error) { return string(d), nil }

type failingClient struct{ err error }

func (c failingClient) SubmitVote(context.Context, *backend.SubmitVoteRequest) (*backend.SubmitVoteResponse, error) {
	return nil, c.err
}

func TestToggle(t *testing.T) {
	tests := []struct {
		name  string
		start Tally
		dir   Direction
		want  Tally
	}{
		{"new like", Tally{}, Up, Tally{Likes: 1, UserVote: 1}},
		{"new dislike", Tally{}, Down, Tally{Dislikes: 1, UserVote: -1}},
		{"toggle off like", Tally{Likes: 1, UserVote: 1}, Up, Tally{}},
		{"toggle off dislike", Tally{Likes: 4, Dislikes: 2, UserVote: -1}, Down, Tally{Likes: 4, Dislikes: 1}},
		{"switch to dislike", Tally{Likes: 1, UserVote: 1}, Down, Tally{Dislikes: 1, UserVote: -1}},
		{"switch to like", Tally{Likes: 3, Dislikes: 5, UserVote: -1}, Up, Tally{Likes: 4, Dislikes: 4, UserVote: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Toggle(tt.start, tt.dir))
		})
	}
}

func TestVoteSequence(t *testing.T) {
	svc := &backend.MemoryService{}
	agg := NewAggregator(svc, staticDevice("device-1"), "salt")
	ctx := context.Background()

	got, err := agg.Vote(ctx, "item-1", Up)
	require.NoError(t, err)
	assert.Equal(t, Tally{Likes: 1, UserVote: 1}, got)

	got, err = agg.Vote(ctx, "item-1", Up)
	require.NoError(t, err)
	assert.Equal(t, Tally{}, got)

	_, err = agg.Vote(ctx, "item-1", Up)
	require.NoError(t, err)
	got, err = agg.Vote(ctx, "item-1", Down)
	require.NoError(t, err)
	assert.Equal(t, Tally{Dislikes: 1, UserVote: -1}, got)
	assert.Equal(t, got, agg.Tally("item-1"))

	voterID, err := identity.Derive(identity.PurposeVote, "device-1", "salt")
	require.NoError(t, err)

	reqs := svc.VoteRequests()
	require.Len(t, reqs, 4)
	assert.Equal(t, []int{1, 0, 1, -1}, []int{reqs[0].Vote, reqs[1].Vote, reqs[2].Vote, reqs[3].Vote})
	for _, r := range reqs {
		assert.Equal(t, voterID, r.VoterID)
		assert.Equal(t, "item-1", r.ItemID)
	}
}

func TestVoterIDIsSeparateFromDeviceHash(t *testing.T) {
	svc := &backend.MemoryService{}
	agg := NewAggregator(svc, staticDevice("device-1"), "salt")
	_, err := agg.Vote(context.Background(), "item-1", Up)
	require.NoError(t, err)

	hash, err := identity.DeviceHash("device-1", "salt")
	require.NoError(t, err)
	assert.NotEqual(t, hash, svc.VoteRequests()[0].VoterID)
}

func TestVoteRollsBackOnRateLimit(t *testing.T) {
	svc := &backend.MemoryService{}
	agg := NewAggregator(svc, staticDevice("device-1"), "salt")
	ctx := context.Background()

	_, err := agg.Vote(ctx, "item-1", Up)
	require.NoError(t, err)
	before := agg.Tally("item-1")

	svc.SetRateLimitVotes(true)
	got, err := agg.Vote(ctx, "item-1", Down)
	require.Error(t, err)
	assert.True(t, backend.IsRateLimited(err))
	assert.Equal(t, before, got)
	assert.Equal(t, before, agg.Tally("item-1"))
}

func TestVoteRollsBackOverConnect(t *testing.T) {
	svc := &backend.MemoryService{RateLimitVotes: true}
	srv := httptest.NewServer(backend.NewHandler(svc))
	defer srv.Close()

	client := backend.NewClient(srv.Client(), srv.URL)
	agg := NewAggregator(client, staticDevice("device-1"), "salt")
	agg.Seed("item-1", Tally{Likes: 10, Dislikes: 3})

	var updates []Update
	agg.Subscribe(func(u Update) { updates = append(updates, u) })

	_, err := agg.Vote(context.Background(), "item-1", Up)
	require.ErrorIs(t, err, backend.ErrRateLimited)
	assert.Equal(t, Tally{Likes: 10, Dislikes: 3}, agg.Tally("item-1"))

	require.Len(t, updates, 2)
	assert.Equal(t, Tally{Likes: 11, Dislikes: 3, UserVote: 1}, updates[0].Tally)
	assert.False(t, updates[0].RolledBack)
	assert.Equal(t, Tally{Likes: 10, Dislikes: 3}, updates[1].Tally)
	assert.True(t, updates[1].RolledBack)
}

func TestVoteRollsBackOnTransportError(t *testing.T) {
	agg := NewAggregator(failingClient{err: errors.New("connection refused")}, staticDevice("device-1"), "salt")
	agg.Seed("item-1", Tally{Likes: 1, UserVote: 1})

	got, err := agg.Vote(context.Background(), "item-1", Up)
	require.Error(t, err)
	assert.False(t, backend.IsRateLimited(err))
	assert.Equal(t, Tally{Likes: 1, UserVote: 1}, got)
	assert.Equal(t, Tally{Likes: 1, UserVote: 1}, agg.Tally("item-1"))
}

func TestVoteRejectsInvalidInput(t *testing.T) {
	svc := &backend.MemoryService{}
	agg := NewAggregator(svc, staticDevice("device-1"), "salt")

	_, err := agg.Vote(context.Background(), "item-1", Direction(0))
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = agg.Vote(context.Background(), " ", Up)
	assert.ErrorIs(t, err, ErrMissingItem)

	assert.Empty(t, agg.Tallies())
	assert.Empty(t, svc.VoteRequests())
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"up": Up, "Like": Up, "+1": Up, "down": Down, "-1": Down} {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
