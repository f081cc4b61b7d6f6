// Package checkin records a coarse "seen in this city today" signal and
// serves per-city visitor counts.
package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/identity"
	"github.com/mcdev12/tandem/go/internal/presence"
)

type PresenceSource interface {
	Subscribe(fn func(presence.State)) func()
}

type Client interface {
	RecordPresence(ctx context.Context, req *backend.RecordPresenceRequest) (*backend.RecordPresenceResponse, error)
	GetCityPresenceCounts(ctx context.Context, req *backend.GetCityPresenceCountsRequest) (*backend.GetCityPresenceCountsResponse, error)
}

type DeviceIDSource interface {
	AnonymousID(ctx context.Context) (string, error)
}

type Config struct {
	Salt        string
	CountsTTL   time.Duration
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CountsTTL:   time.Minute,
		CallTimeout: 10 * time.Second,
	}
}

type dayKey struct {
	date string
	city string
}

// Recorder checks the device in once per local date and city, the first
// time presence is active there.
type Recorder struct {
	source  PresenceSource
	client  Client
	devices DeviceIDSource
	clock   clockwork.Clock
	config  Config

	mu          sync.Mutex
	unsubscribe func()
	ctx         context.Context
	recorded    map[dayKey]bool
	pending     map[dayKey]bool
	deviceID    string

	countsMu  sync.Mutex
	counts    []backend.CityPresenceCount
	countsAt  time.Time
	hasCounts bool
}

type Option func(*Recorder)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

func NewRecorder(source PresenceSource, client Client, devices DeviceIDSource, cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		source:   source,
		client:   client,
		devices:  devices,
		clock:    clockwork.NewRealClock(),
		config:   cfg,
		recorded: make(map[dayKey]bool),
		pending:  make(map[dayKey]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.ctx = ctx
	r.unsubscribe = r.source.Subscribe(r.observe)
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Recorded reports whether city was checked in on date.
func (r *Recorder) Recorded(date, city string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded[dayKey{date: date, city: city}]
}

func (r *Recorder) observe(s presence.State) {
	if !s.Active || s.City == "" {
		return
	}
	key := dayKey{date: r.clock.Now().Format(backend.DateLayout), city: s.City}

	r.mu.Lock()
	if r.unsubscribe == nil || r.recorded[key] || r.pending[key] {
		r.mu.Unlock()
		return
	}
	r.pending[key] = true
	ctx := r.ctx
	r.mu.Unlock()

	go r.record(context.WithoutCancel(ctx), key)
}

func (r *Recorder) record(ctx context.Context, key dayKey) {
	ctx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	err := r.send(ctx, key.city)

	r.mu.Lock()
	delete(r.pending, key)
	if err == nil {
		r.recorded[key] = true
	}
	r.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("city", key.city).Msg("failed to record daily presence")
		return
	}
	log.Info().Str("city", key.city).Str("date", key.date).Msg("daily presence recorded")
}

func (r *Recorder) send(ctx context.Context, city string) error {
	id, err := r.checkinID(ctx)
	if err != nil {
		return err
	}
	_, err = r.client.RecordPresence(ctx, &backend.RecordPresenceRequest{City: city, DeviceID: id})
	return err
}

func (r *Recorder) checkinID(ctx context.Context) (string, error) {
	r.mu.Lock()
	id := r.deviceID
	r.mu.Unlock()
	if id != "" {
		return id, nil
	}

	anon, err := r.devices.AnonymousID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	id, err = identity.Derive(identity.PurposeCheckin, anon, r.config.Salt)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.deviceID = id
	r.mu.Unlock()
	return id, nil
}

// CityCounts returns per-city visitor counts, cached for CountsTTL. A failed
// refresh falls back to the previous answer when there is one.
func (r *Recorder) CityCounts(ctx context.Context) ([]backend.CityPresenceCount, error) {
	r.countsMu.Lock()
	defer r.countsMu.Unlock()

	now := r.clock.Now()
	if r.hasCounts && now.Sub(r.countsAt) < r.config.CountsTTL {
		return r.counts, nil
	}

	resp, err := r.client.GetCityPresenceCounts(ctx, &backend.GetCityPresenceCountsRequest{})
	if err != nil {
		if r.hasCounts {
			log.Warn().Err(err).Msg("failed to refresh city counts, serving cached")
			return r.counts, nil
		}
		return nil, fmt.Errorf("get city presence counts: %w", err)
	}

	r.counts = resp.Cities
	r.countsAt = now
	r.hasCounts = true
	return r.counts, nil
}
