package peak

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/broadcast"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/presence"
)

var t0 = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type recordingClient struct {
	mu   sync.Mutex
	reqs []backend.ReportPeakRequest
	errs []error
}

func (c *recordingClient) ReportPeak(ctx context.Context, req *backend.ReportPeakRequest) (*backend.ReportPeakResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, *req)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &backend.ReportPeakResponse{}, nil
}

func (c *recordingClient) requests() []backend.ReportPeakRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.ReportPeakRequest(nil), c.reqs...)
}

func waitTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

// tick advances one reporting interval and waits for the report to finish.
func tick(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	waitTimers(t, clock, 1)
	clock.Advance(d)
	waitTimers(t, clock, 1)
}

func newReporter(t *testing.T, client PeakClient) (*Reporter, *broadcast.Hub[presence.State], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	hub := broadcast.NewHub[presence.State]()
	r := NewReporter(hub, client, DefaultConfig(), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r, hub, clock
}

func TestReporterDeduplicatesConstantPeak(t *testing.T) {
	client := &recordingClient{}
	r, hub, clock := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 9, City: "Berlin", Active: true})
	tick(t, clock, time.Minute)
	tick(t, clock, time.Minute)

	reqs := client.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, backend.ReportPeakRequest{City: "Berlin", Date: "2026-03-14", ApproximateCount: 10}, reqs[0])

	last, ok := r.LastReported()
	require.True(t, ok)
	assert.Equal(t, 10, last.ApproximateCount)
}

func TestReporterSkipsUntilCityAndCountKnown(t *testing.T) {
	client := &recordingClient{}
	_, hub, clock := newReporter(t, client)

	tick(t, clock, time.Minute)
	hub.Publish(presence.State{RawNearbyCount: 4})
	tick(t, clock, time.Minute)
	assert.Empty(t, client.requests())

	hub.Publish(presence.State{City: "Lisbon"})
	tick(t, clock, time.Minute)
	require.Len(t, client.requests(), 1)
	assert.Equal(t, "Lisbon", client.requests()[0].City)
}

func TestReporterReportsIncreasedBucket(t *testing.T) {
	client := &recordingClient{}
	_, hub, clock := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 7, City: "Berlin"})
	tick(t, clock, time.Minute)

	// Same bucket as 7.
	hub.Publish(presence.State{RawNearbyCount: 10, City: "Berlin"})
	tick(t, clock, time.Minute)

	hub.Publish(presence.State{RawNearbyCount: 47, City: "Berlin"})
	tick(t, clock, time.Minute)

	// A lower count never lowers the peak.
	hub.Publish(presence.State{RawNearbyCount: 2, City: "Berlin"})
	tick(t, clock, time.Minute)

	reqs := client.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 10, reqs[0].ApproximateCount)
	assert.Equal(t, 50, reqs[1].ApproximateCount)
}

func TestReporterRetriesFailedReport(t *testing.T) {
	client := &recordingClient{errs: []error{errors.New("unavailable")}}
	r, hub, clock := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 30, City: "Oslo"})
	tick(t, clock, time.Minute)
	_, ok := r.LastReported()
	assert.False(t, ok)

	tick(t, clock, time.Minute)
	reqs := client.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])

	last, ok := r.LastReported()
	require.True(t, ok)
	assert.Equal(t, 30, last.ApproximateCount)
}

func TestReporterReportsAgainOnNewDate(t *testing.T) {
	client := &recordingClient{}
	_, hub, clock := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 9, City: "Berlin"})
	tick(t, clock, time.Minute)
	tick(t, clock, 24*time.Hour)

	reqs := client.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "2026-03-14", reqs[0].Date)
	assert.Equal(t, "2026-03-15", reqs[1].Date)
}

func TestReporterReportsAgainOnNewCity(t *testing.T) {
	client := &recordingClient{}
	r, hub, clock := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 9, City: "Berlin"})
	tick(t, clock, time.Minute)
	hub.Publish(presence.State{RawNearbyCount: 9, City: "Potsdam"})
	tick(t, clock, time.Minute)
	tick(t, clock, time.Minute)

	reqs := client.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Berlin", reqs[0].City)
	assert.Equal(t, "Potsdam", reqs[1].City)
	assert.Equal(t, 10, reqs[1].ApproximateCount)

	last, ok := r.LastReported()
	require.True(t, ok)
	assert.Equal(t, Record{City: "Potsdam", Date: "2026-03-14", ApproximateCount: 10}, last)
}

func TestReporterStopResetsPeak(t *testing.T) {
	client := &recordingClient{}
	r, hub, _ := newReporter(t, client)

	hub.Publish(presence.State{RawNearbyCount: 120, City: "Berlin"})
	assert.Equal(t, 120, r.Peak())

	r.Stop()
	assert.Zero(t, r.Peak())
	assert.Zero(t, hub.Len())

	hub.Publish(presence.State{RawNearbyCount: 300, City: "Berlin"})
	assert.Zero(t, r.Peak())
}

func TestReporterStartTwice(t *testing.T) {
	r, _, _ := newReporter(t, &recordingClient{})
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)
}

type staticGeo struct{}

func (staticGeo) Source() clients.ExternalSource { return clients.ExternalSourceFirstParty }

func (staticGeo) Locate(context.Context) (clients.GeoLocation, error) {
	return clients.NewGeoLocation(clients.ExternalSourceFirstParty, 52.52, 13.405, "Berlin")
}

type staticDevice string

func (d staticDevice) AnonymousID(context.Context) (string, error) { return string(d), nil }

// Heartbeats return [3, 9, 9, 2]; the only report is approximate(9) = 10.
func TestPeakFromHeartbeatSequence(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	svc := &backend.MemoryService{NearbyCounts: []int{3, 9, 9, 2}}

	resolver := location.NewResolver(staticGeo{}, nil, location.DefaultConfig(), location.WithClock(clock))

	hbConfig := presence.DefaultConfig()
	hbConfig.Salt = "salt"
	hb := presence.NewHeartbeat(resolver, svc, staticDevice("device-1"), hbConfig, presence.WithClock(clock))
	reporter := NewReporter(hb, svc, DefaultConfig(), WithClock(clock))

	ctx := context.Background()
	require.NoError(t, reporter.Start(ctx))
	require.NoError(t, hb.Start(ctx))
	t.Cleanup(func() {
		reporter.Stop()
		hb.Stop()
	})

	// Heartbeat timer plus reporter timer.
	waitTimers(t, clock, 2)
	for i := 0; i < 4; i++ {
		clock.Advance(hbConfig.Interval)
		waitTimers(t, clock, 2)
	}

	assert.Equal(t, 5, svc.HeartbeatCount())
	assert.Equal(t, []backend.ReportPeakRequest{
		{City: "Berlin", Date: "2026-03-14", ApproximateCount: 10},
	}, svc.PeakReports())
	assert.Equal(t, 9, reporter.Peak())
}
