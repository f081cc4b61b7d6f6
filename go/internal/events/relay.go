package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrRelayRunning    = errors.New("event relay already running")
	ErrRelayNotRunning = errors.New("event relay not running")
)

type RelayConfig struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Relay queues state changes and publishes them from a single worker, so a
// slow bus never blocks the component that produced the change.
type Relay struct {
	publisher Publisher
	clock     clockwork.Clock
	config    RelayConfig
	queue     chan Event

	mu         sync.Mutex
	running    bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
	deviceHash string
}

type RelayOption func(*Relay)

func WithClock(clock clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = clock }
}

func NewRelay(publisher Publisher, cfg RelayConfig, opts ...RelayOption) *Relay {
	r := &Relay{
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		config:    cfg,
		queue:     make(chan Event, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDeviceHash tags every later event with the presence device hash.
func (r *Relay) SetDeviceHash(hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceHash = hash
}

func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRelayRunning
	}
	r.running = true
	r.stopChan = make(chan struct{})
	stop := r.stopChan
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, stop)

	log.Info().Int("queue_size", r.config.QueueSize).Msg("event relay started")
	return nil
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRelayNotRunning
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	dropped := 0
drain:
	for {
		select {
		case <-r.queue:
			dropped++
		default:
			break drain
		}
	}
	log.Info().Int("dropped", dropped).Msg("event relay stopped")
	return nil
}

// Enqueue marshals payload and queues it. A full queue drops the event.
func (r *Relay) Enqueue(eventType EventType, payload any) bool {
	r.mu.Lock()
	hash := r.deviceHash
	r.mu.Unlock()

	event, err := NewEvent(eventType, hash, payload, r.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build state event")
		return false
	}

	select {
	case r.queue <- event:
		return true
	default:
		log.Warn().Str("event_type", string(eventType)).Msg("event relay queue full, dropping event")
		return false
	}
}

// Forward adapts the relay to a component subscription callback.
func Forward[T any](r *Relay, eventType EventType) func(T) {
	return func(v T) {
		r.Enqueue(eventType, v)
	}
}

func (r *Relay) run(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-r.queue:
			if err := r.publishWithRetry(ctx, stop, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", string(event.Type)).
					Msg("failed to publish state event")
			}
		}
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, stop <-chan struct{}, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-stop:
				return lastErr
			case <-r.clock.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish state event, retrying")
			continue
		}
		return nil
	}
	return lastErr
}
