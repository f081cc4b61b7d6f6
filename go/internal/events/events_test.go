package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	errs   []error
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestMessage(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	event, err := NewEvent(EventTypePresence, "abc123", map[string]int{"approximate_count": 10}, now)
	require.NoError(t, err)

	msg, err := Message("tandem", event)
	require.NoError(t, err)
	assert.Equal(t, "tandem.state.presence", msg.Subject)
	assert.Equal(t, "presence", msg.Header.Get("Event-Type"))
	assert.Equal(t, event.ID.String(), msg.Header.Get("Event-ID"))
	assert.Equal(t, "abc123", msg.Header.Get("Device-Hash"))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, event.ID.String(), env.EventID)
	assert.Equal(t, EventTypePresence, env.EventType)
	assert.True(t, now.Equal(env.Timestamp))
	assert.JSONEq(t, `{"approximate_count":10}`, string(env.Payload))
}

func TestMessageOmitsEmptyDeviceHash(t *testing.T) {
	event, err := NewEvent(EventTypeCountdown, "", struct{}{}, time.Now())
	require.NoError(t, err)

	msg, err := Message("tandem", event)
	require.NoError(t, err)
	assert.Empty(t, msg.Header.Get("Device-Hash"))
	assert.NotContains(t, string(msg.Data), "deviceHash")
}

func TestNewEventRejectsUnmarshalable(t *testing.T) {
	_, err := NewEvent(EventTypeVotes, "", make(chan int), time.Now())
	assert.Error(t, err)
}

func TestRelayPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRelay(pub, DefaultRelayConfig())
	relay.SetDeviceHash("hash")
	require.NoError(t, relay.Start(context.Background()))
	defer relay.Stop()

	forward := Forward[int](relay, EventTypeVotes)
	for i := 1; i <= 3; i++ {
		forward(i)
	}

	require.Eventually(t, func() bool { return len(pub.published()) == 3 }, time.Second, 5*time.Millisecond)
	for i, e := range pub.published() {
		assert.Equal(t, EventTypeVotes, e.Type)
		assert.Equal(t, "hash", e.DeviceHash)
		assert.JSONEq(t, strconv.Itoa(i+1), string(e.Payload))
	}
}

func TestRelayRetriesWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{errs: []error{errors.New("disconnected"), errors.New("disconnected")}}
	relay := NewRelay(pub, DefaultRelayConfig(), WithClock(clock))
	require.NoError(t, relay.Start(context.Background()))
	defer relay.Stop()

	require.True(t, relay.Enqueue(EventTypeLocation, map[string]string{"city": "Berlin"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelayDropsWhenQueueFull(t *testing.T) {
	relay := NewRelay(&recordingPublisher{}, RelayConfig{QueueSize: 1})

	assert.True(t, relay.Enqueue(EventTypeVotes, 1))
	assert.False(t, relay.Enqueue(EventTypeVotes, 2))
}

func TestRelayStartStop(t *testing.T) {
	relay := NewRelay(NoopPublisher{}, DefaultRelayConfig())
	assert.ErrorIs(t, relay.Stop(), ErrRelayNotRunning)

	require.NoError(t, relay.Start(context.Background()))
	assert.ErrorIs(t, relay.Start(context.Background()), ErrRelayRunning)
	require.NoError(t, relay.Stop())

	require.NoError(t, relay.Start(context.Background()))
	require.NoError(t, relay.Stop())
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	_, err := NewNATSPublisher(cfg)
	assert.Error(t, err)
}
