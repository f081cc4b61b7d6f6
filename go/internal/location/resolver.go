// Package location resolves an approximate device location from a tiered set
// of remote lookups, caching the answer and coalescing concurrent callers.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/internal/metrics"
)

// ErrLocationUnavailable is returned when the first party source, every third
// party source and the fresh cache all fail at once.
var ErrLocationUnavailable = errors.New("location unavailable")

const resolveKey = "resolve"

// Coordinate is a resolved approximate location. City is empty when unknown.
type Coordinate struct {
	Lat       float64                `json:"lat"`
	Lng       float64                `json:"lng"`
	City      string                 `json:"city,omitempty"`
	Source    clients.ExternalSource `json:"source,omitempty"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// HasCity reports whether a city name is known.
func (c Coordinate) HasCity() bool {
	return c.City != ""
}

type Config struct {
	FirstPartyTimeout time.Duration
	ThirdPartyTimeout time.Duration
	Freshness         time.Duration
}

func DefaultConfig() Config {
	return Config{
		FirstPartyTimeout: 3 * time.Second,
		ThirdPartyTimeout: 6 * time.Second,
		Freshness:         5 * time.Minute,
	}
}

// Resolver owns the location cache. It is the only writer; callers read
// through Resolve and Last.
type Resolver struct {
	firstParty clients.GeoProvider
	thirdParty []clients.GeoProvider
	config     Config
	clock      clockwork.Clock
	metrics    metrics.Collector
	onResolved func(Coordinate)

	group singleflight.Group

	mu     sync.RWMutex
	cached *Coordinate
}

type Option func(*Resolver)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Resolver) { r.clock = clock }
}

func WithMetrics(m metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithOnResolved registers a hook that runs after every network resolution,
// e.g. to persist the coordinate for the next process start.
func WithOnResolved(fn func(Coordinate)) Option {
	return func(r *Resolver) { r.onResolved = fn }
}

// NewResolver builds a resolver. firstParty may be nil; thirdParty are raced
// in registry priority order.
func NewResolver(firstParty clients.GeoProvider, thirdParty []clients.GeoProvider, cfg Config, opts ...Option) *Resolver {
	ordered := append([]clients.GeoProvider(nil), thirdParty...)
	clients.SortByPriority(ordered)

	r := &Resolver{
		firstParty: firstParty,
		thirdParty: ordered,
		config:     cfg,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed installs a previously persisted coordinate. It keeps its original
// FetchedAt, so an old seed is only visible through Last.
func (r *Resolver) Seed(c Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil || c.FetchedAt.After(r.cached.FetchedAt) {
		r.cached = &c
	}
}

// Last returns the most recent coordinate regardless of its age.
func (r *Resolver) Last() (Coordinate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil {
		return Coordinate{}, false
	}
	return *r.cached, true
}

func (r *Resolver) fresh() (Coordinate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil {
		return Coordinate{}, false
	}
	if r.clock.Since(r.cached.FetchedAt) >= r.config.Freshness {
		return Coordinate{}, false
	}
	return *r.cached, true
}

// Resolve returns a fresh coordinate, from cache when possible. Concurrent
// calls share a single network attempt. A cancelled ctx only detaches this
// caller; the shared attempt runs to its own timeouts.
func (r *Resolver) Resolve(ctx context.Context) (Coordinate, error) {
	if c, ok := r.fresh(); ok {
		r.metrics.RecordCacheHit()
		return c, nil
	}

	ch := r.group.DoChan(resolveKey, func() (interface{}, error) {
		// A caller that raced us may have filled the cache already.
		if c, ok := r.fresh(); ok {
			return c, nil
		}
		return r.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Coordinate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Coordinate{}, res.Err
		}
		return res.Val.(Coordinate), nil
	}
}

func (r *Resolver) fetch(ctx context.Context) (Coordinate, error) {
	var errs []error

	if r.firstParty != nil {
		loc, err := r.lookupFirstParty(ctx)
		if err == nil {
			return r.store(loc), nil
		}
		errs = append(errs, err)
		log.Debug().Err(err).Msg("first party geo lookup failed, racing third party sources")
	}

	loc, err := r.race(ctx)
	if err == nil {
		return r.store(loc), nil
	}
	errs = append(errs, err)

	log.Warn().Err(errors.Join(errs...)).Msg("all geo sources failed")
	return Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, errors.Join(errs...))
}

func (r *Resolver) lookupFirstParty(ctx context.Context) (clients.GeoLocation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.FirstPartyTimeout)
	defer cancel()

	loc, err := r.firstParty.Locate(ctx)
	r.metrics.RecordGeoLookup(string(r.firstParty.Source()), err == nil)
	return loc, err
}

type raceResult struct {
	loc clients.GeoLocation
	err error
}

// race starts every third party lookup at once; the first valid answer wins
// and the remaining lookups are cancelled.
func (r *Resolver) race(ctx context.Context) (clients.GeoLocation, error) {
	if len(r.thirdParty) == 0 {
		return clients.GeoLocation{}, errors.New("no third party geo sources configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.ThirdPartyTimeout)
	defer cancel()

	results := make(chan raceResult, len(r.thirdParty))
	for _, p := range r.thirdParty {
		go func(p clients.GeoProvider) {
			loc, err := p.Locate(ctx)
			if err != nil && ctx.Err() == nil {
				r.metrics.RecordGeoLookup(string(p.Source()), false)
			}
			results <- raceResult{loc: loc, err: err}
		}(p)
	}

	var errs []error
	for range r.thirdParty {
		select {
		case res := <-results:
			if res.err == nil {
				r.metrics.RecordGeoLookup(string(res.loc.Source), true)
				return res.loc, nil
			}
			errs = append(errs, res.err)
		case <-ctx.Done():
			return clients.GeoLocation{}, fmt.Errorf("third party race: %w", ctx.Err())
		}
	}
	return clients.GeoLocation{}, errors.Join(errs...)
}

func (r *Resolver) store(loc clients.GeoLocation) Coordinate {
	c := Coordinate{
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		City:      loc.City,
		Source:    loc.Source,
		FetchedAt: r.clock.Now(),
	}

	r.mu.Lock()
	r.cached = &c
	r.mu.Unlock()

	log.Info().
		Str("source", string(c.Source)).
		Str("city", c.City).
		Msg("location resolved")

	if r.onResolved != nil {
		r.onResolved(c)
	}
	return c
}
