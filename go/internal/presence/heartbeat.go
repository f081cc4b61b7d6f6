// Package presence reports this device's approximate position on a fixed
// cadence and keeps the resulting nearby-device count.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/broadcast"
	"github.com/mcdev12/tandem/go/internal/identity"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/metrics"
	"github.com/mcdev12/tandem/go/internal/quantize"
	"github.com/mcdev12/tandem/go/internal/schedule"
)

var (
	ErrAlreadyRunning = errors.New("presence heartbeat already running")
	// ErrNoLocation means neither a fresh nor a cached coordinate existed;
	// the beat was skipped.
	ErrNoLocation = errors.New("no coordinate available")
	// ErrInvalidCount is a negative count from the backend.
	ErrInvalidCount = errors.New("invalid nearby count")
)

// Locator is satisfied by *location.Resolver.
type Locator interface {
	Resolve(ctx context.Context) (location.Coordinate, error)
	Last() (location.Coordinate, bool)
}

type HeartbeatClient interface {
	Heartbeat(ctx context.Context, req *backend.HeartbeatRequest) (*backend.HeartbeatResponse, error)
}

// DeviceIDSource returns the persisted anonymous device id.
type DeviceIDSource interface {
	AnonymousID(ctx context.Context) (string, error)
}

type Config struct {
	Interval          time.Duration
	RetryInterval     time.Duration
	MaxInitialRetries int
	CallTimeout       time.Duration
	Salt              string
}

func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		RetryInterval:     3 * time.Second,
		MaxInitialRetries: 5,
		CallTimeout:       10 * time.Second,
	}
}

// Heartbeat is the presence state machine:
//
//	Idle -> Starting -> Active
//	                 \-> InitialRetry -> Active
//
// InitialRetry is only entered when the very first beat fails.
type Heartbeat struct {
	locator Locator
	client  HeartbeatClient
	devices DeviceIDSource
	clock   clockwork.Clock
	config  Config
	metrics metrics.Collector
	hub     *broadcast.Hub[State]
	emitMu  sync.Mutex

	hashMu     sync.Mutex
	deviceHash string

	mu         sync.Mutex
	task       *schedule.Task
	generation uint64
	phase      Phase
	beats      int
	retries    int
	state      State
}

type Option func(*Heartbeat)

func WithClock(clock clockwork.Clock) Option {
	return func(h *Heartbeat) { h.clock = clock }
}

func WithMetrics(m metrics.Collector) Option {
	return func(h *Heartbeat) { h.metrics = m }
}

func NewHeartbeat(locator Locator, client HeartbeatClient, devices DeviceIDSource, cfg Config, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		locator: locator,
		client:  client,
		devices: devices,
		clock:   clockwork.NewRealClock(),
		config:  cfg,
		metrics: metrics.NoOp{},
		hub:     broadcast.NewHub[State](),
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start computes the device hash and schedules the first beat immediately.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.task != nil {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.phase = PhaseStarting
	h.mu.Unlock()

	hash, err := h.hash(ctx)
	if err != nil {
		h.mu.Lock()
		h.phase = PhaseIdle
		h.mu.Unlock()
		return fmt.Errorf("failed to derive device hash: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task != nil {
		return ErrAlreadyRunning
	}
	h.generation++
	h.beats = 0
	h.retries = 0
	h.phase = PhaseActive
	gen := h.generation
	h.task = schedule.Start(ctx, h.clock, 0, func(ctx context.Context) time.Duration {
		return h.step(ctx, gen, hash)
	})

	log.Info().
		Dur("interval", h.config.Interval).
		Dur("retry_interval", h.config.RetryInterval).
		Msg("presence heartbeat started")
	return nil
}

// hash derives the device hash once per process. A failed derivation is
// retried by the next Start.
func (h *Heartbeat) hash(ctx context.Context) (string, error) {
	h.hashMu.Lock()
	defer h.hashMu.Unlock()
	if h.deviceHash != "" {
		return h.deviceHash, nil
	}

	id, err := h.devices.AnonymousID(ctx)
	if err != nil {
		return "", err
	}
	hash, err := identity.DeviceHash(id, h.config.Salt)
	if err != nil {
		return "", err
	}
	h.deviceHash = hash
	return hash, nil
}

// Stop cancels the timer and resets the counts. Calls already in flight are
// left to finish; their results are ignored.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	task := h.task
	if task == nil {
		h.mu.Unlock()
		return
	}
	h.task = nil
	h.generation++
	gen := h.generation
	h.phase = PhaseIdle
	h.beats = 0
	h.retries = 0
	h.state = State{Phase: PhaseIdle}
	h.mu.Unlock()

	task.Stop()
	// A Start that slipped in owns the state now; the idle event is dropped.
	h.emit(gen, func(s *State) { *s = State{Phase: PhaseIdle} })
	log.Info().Msg("presence heartbeat stopped")
}

// Subscribe registers fn for every state change, in order.
func (h *Heartbeat) Subscribe(fn func(State)) func() {
	return h.hub.Subscribe(fn)
}

// State returns a copy of the current state.
func (h *Heartbeat) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// step runs one beat and decides the delay to the next one.
func (h *Heartbeat) step(ctx context.Context, gen uint64, hash string) time.Duration {
	h.mu.Lock()
	attempt := 0
	if h.phase == PhaseInitialRetry {
		attempt = h.retries
	}
	h.mu.Unlock()

	err := h.beat(ctx, gen, hash, attempt)
	h.metrics.RecordHeartbeat(err == nil, attempt)

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.generation {
		return 0
	}
	h.beats++

	next := h.config.Interval
	switch {
	case h.beats == 1 && err != nil && h.config.MaxInitialRetries > 0:
		h.phase = PhaseInitialRetry
		h.retries = 1
		next = h.config.RetryInterval
		log.Warn().Err(err).Dur("retry_in", next).Msg("first heartbeat failed, retrying")

	case h.phase == PhaseInitialRetry && err != nil && h.retries < h.config.MaxInitialRetries:
		h.retries++
		next = h.config.RetryInterval
		log.Warn().Err(err).Int("attempt", h.retries).Msg("heartbeat retry failed")

	case h.phase == PhaseInitialRetry:
		if err != nil {
			log.Warn().Err(err).Int("attempts", h.retries).Msg("initial heartbeat retries exhausted, falling back to steady cadence")
		}
		h.phase = PhaseActive
		h.retries = 0
	}
	h.state.Phase = h.phase
	return next
}

// beat performs one heartbeat and records the outcome in the state. Errors
// are returned for scheduling only; they are never surfaced to callers.
func (h *Heartbeat) beat(ctx context.Context, gen uint64, hash string, attempt int) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.CallTimeout)
	defer cancel()

	coord, err := h.locator.Resolve(callCtx)
	if err != nil {
		last, ok := h.locator.Last()
		if !ok {
			err = fmt.Errorf("%w: %w", ErrNoLocation, err)
			h.fail(gen, err)
			return err
		}
		log.Debug().Err(err).Msg("location resolve failed, using cached coordinate")
		coord = last
	}

	resp, err := h.client.Heartbeat(callCtx, &backend.HeartbeatRequest{
		DeviceHash: hash,
		Lat:        coord.Lat,
		Lng:        coord.Lng,
	})
	if err != nil {
		err = fmt.Errorf("heartbeat: %w", err)
		h.fail(gen, err)
		return err
	}
	if resp.RawNearbyCount < 0 {
		err = fmt.Errorf("%w: %d", ErrInvalidCount, resp.RawNearbyCount)
		log.Error().Err(err).Msg("backend returned a negative nearby count")
		h.fail(gen, err)
		return err
	}

	raw := resp.RawNearbyCount
	approx := quantize.Approximate(raw)
	h.metrics.RecordNearbyCount(approx)
	h.emit(gen, func(s *State) {
		s.RawNearbyCount = raw
		s.ApproximateCount = approx
		s.Active = true
		s.LastError = ""
		s.City = coord.City
		s.UpdatedAt = h.clock.Now()
	})

	log.Debug().
		Int("raw", raw).
		Int("approx", approx).
		Int("attempt", attempt).
		Msg("heartbeat ok")
	return nil
}

// fail keeps the previous counts and marks the component inactive.
func (h *Heartbeat) fail(gen uint64, err error) {
	log.Warn().Err(err).Msg("heartbeat failed")
	h.emit(gen, func(s *State) {
		s.Active = false
		s.LastError = err.Error()
		s.UpdatedAt = h.clock.Now()
	})
}

// emit applies mutate when gen is still current and delivers the result.
// Apply and delivery share emitMu so subscribers see states in apply order.
func (h *Heartbeat) emit(gen uint64, mutate func(*State)) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()

	h.mu.Lock()
	if gen != h.generation {
		h.mu.Unlock()
		log.Debug().Msg("dropping heartbeat result from a stopped session")
		return
	}
	mutate(&h.state)
	h.state.Phase = h.phase
	s := h.state
	h.mu.Unlock()

	h.hub.Publish(s)
}
