package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/broadcast"
	"github.com/mcdev12/tandem/go/internal/identity"
	"github.com/mcdev12/tandem/go/internal/presence"
)

var t0 = time.Date(2026, time.March, 14, 23, 0, 0, 0, time.UTC)

type staticDevice string

func (d staticDevice) AnonymousID(context.Context) (string, error) { return string(d), nil }

type countingClient struct {
	*backend.MemoryService

	mu        sync.Mutex
	countErr  error
	countCall int
}

func (c *countingClient) GetCityPresenceCounts(ctx context.Context, req *backend.GetCityPresenceCountsRequest) (*backend.GetCityPresenceCountsResponse, error) {
	c.mu.Lock()
	c.countCall++
	err := c.countErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.MemoryService.GetCityPresenceCounts(ctx, req)
}

func newRecorder(t *testing.T) (*Recorder, *broadcast.Hub[presence.State], *backend.MemoryService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	hub := broadcast.NewHub[presence.State]()
	svc := &backend.MemoryService{}
	cfg := DefaultConfig()
	cfg.Salt = "salt"
	r := NewRecorder(hub, svc, staticDevice("device-1"), cfg, WithClock(clock))
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r, hub, svc, clock
}

func TestRecorderChecksInOncePerDayAndCity(t *testing.T) {
	r, hub, svc, clock := newRecorder(t)

	hub.Publish(presence.State{Active: true, City: "Berlin"})
	require.Eventually(t, func() bool { return r.Recorded("2026-03-14", "Berlin") }, time.Second, 5*time.Millisecond)

	hub.Publish(presence.State{Active: true, City: "Berlin"})
	hub.Publish(presence.State{Active: false, City: "Potsdam"})
	hub.Publish(presence.State{Active: true, City: "Potsdam"})
	require.Eventually(t, func() bool { return r.Recorded("2026-03-14", "Potsdam") }, time.Second, 5*time.Millisecond)

	clock.Advance(2 * time.Hour)
	hub.Publish(presence.State{Active: true, City: "Berlin"})
	require.Eventually(t, func() bool { return r.Recorded("2026-03-15", "Berlin") }, time.Second, 5*time.Millisecond)

	records := svc.PresenceRecords()
	require.Len(t, records, 3)

	want, err := identity.Derive(identity.PurposeCheckin, "device-1", "salt")
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, want, rec.DeviceID)
	}
}

func TestRecorderIgnoresInactiveOrUnknownCity(t *testing.T) {
	r, hub, svc, _ := newRecorder(t)

	hub.Publish(presence.State{Active: false, City: "Berlin"})
	hub.Publish(presence.State{Active: true})
	r.Stop()
	hub.Publish(presence.State{Active: true, City: "Berlin"})

	assert.Never(t, func() bool { return len(svc.PresenceRecords()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCityCountsCached(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	client := &countingClient{MemoryService: &backend.MemoryService{
		Presence: []backend.RecordPresenceRequest{
			{City: "Berlin", DeviceID: "a"},
			{City: "Berlin", DeviceID: "b"},
			{City: "Berlin", DeviceID: "a"},
			{City: "Lisbon", DeviceID: "c"},
		},
	}}
	r := NewRecorder(broadcast.NewHub[presence.State](), client, staticDevice("d"), DefaultConfig(), WithClock(clock))
	ctx := context.Background()

	counts, err := r.CityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.CityPresenceCount{
		{City: "Berlin", VisitorCount: 2},
		{City: "Lisbon", VisitorCount: 1},
	}, counts)

	_, err = r.CityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, client.countCall)

	clock.Advance(time.Minute)
	client.countErr = errors.New("unavailable")
	counts, err = r.CityCounts(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, 2)
	assert.Equal(t, 2, client.countCall)
}

func TestCityCountsErrorWithoutCache(t *testing.T) {
	client := &countingClient{MemoryService: &backend.MemoryService{}, countErr: errors.New("down")}
	r := NewRecorder(broadcast.NewHub[presence.State](), client, staticDevice("d"), DefaultConfig())

	_, err := r.CityCounts(context.Background())
	assert.Error(t, err)
}
