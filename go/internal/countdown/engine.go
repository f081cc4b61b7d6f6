package countdown

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
	"github.com/mcdev12/tandem/go/internal/metrics"
	"github.com/mcdev12/tandem/go/internal/schedule"
)

// SnapshotFetcher is the part of the backend the engine needs.
type SnapshotFetcher interface {
	GetCurrentSnapshot(ctx context.Context, req *backend.GetCurrentSnapshotRequest) (*backend.GetCurrentSnapshotResponse, error)
}

type Config struct {
	TickInterval time.Duration
	// RetryDelay gates a new fetch after a failed one, or after a fetch
	// that returned an already expired snapshot.
	RetryDelay   time.Duration
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 250 * time.Millisecond,
		RetryDelay:   5 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// View is what subscribers receive.
type View struct {
	Item      Item   `json:"item"`
	State     State  `json:"state"`
	Expired   bool   `json:"expired"`
	WallClock bool   `json:"wall_clock"`
	LastError string `json:"last_error,omitempty"`
}

var ErrAlreadyRunning = errors.New("countdown engine already running")

// Engine keeps the current snapshot, re-derives the display state on every
// tick and fetches a new snapshot once the current one expires.
type Engine struct {
	fetcher SnapshotFetcher
	clock   clockwork.Clock
	config  Config
	metrics metrics.Collector
	hub     *broadcast.Hub[View]

	// emitMu keeps dedupe and delivery in one critical section so ticks and
	// fetch completions reach subscribers in the order they were derived.
	emitMu sync.Mutex

	mu          sync.Mutex
	task        *schedule.Task
	generation  uint64
	snapshot    *Snapshot
	fetching    bool
	forceFetch  bool
	nextFetchAt time.Time
	last        View
	hasLast     bool
	lastErr     error
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(fetcher SnapshotFetcher, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		fetcher: fetcher,
		clock:   clockwork.NewRealClock(),
		config:  cfg,
		metrics: metrics.NoOp{},
		hub:     broadcast.NewHub[View](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins ticking; the first tick runs immediately and fetches the
// initial snapshot.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task != nil {
		return ErrAlreadyRunning
	}
	e.generation++
	e.task = schedule.Start(ctx, e.clock, 0, func(ctx context.Context) time.Duration {
		e.tick(ctx)
		return e.config.TickInterval
	})
	log.Info().Dur("tick_interval", e.config.TickInterval).Msg("countdown engine started")
	return nil
}

// Stop cancels the tick loop and forgets the snapshot. A fetch already in
// flight finishes but its result is discarded. Subscriptions stay in place
// for the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	task := e.task
	e.task = nil
	e.generation++
	e.snapshot = nil
	e.fetching = false
	e.forceFetch = false
	e.nextFetchAt = time.Time{}
	e.hasLast = false
	e.mu.Unlock()

	if task != nil {
		task.Stop()
		log.Info().Msg("countdown engine stopped")
	}
}

// Subscribe registers fn for every change in the derived view.
func (e *Engine) Subscribe(fn func(View)) func() {
	return e.hub.Subscribe(fn)
}

// Current returns the most recently published view.
func (e *Engine) Current() (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.hasLast
}

// Refresh asks for a new snapshot on the next tick, e.g. after the
// authoritative item changed out of band. The current snapshot keeps
// ticking until the new one arrives.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceFetch = true
	e.nextFetchAt = time.Time{}
}

func (e *Engine) tick(ctx context.Context) {
	now := e.clock.Now()

	e.mu.Lock()
	snap := e.snapshot
	force := e.forceFetch
	e.mu.Unlock()

	if snap != nil {
		state, ok := DeriveState(*snap, now)
		if ok {
			e.publish(View{Item: snap.Item, State: state, WallClock: snap.UsesWallClock()})
		} else {
			e.publish(View{Item: snap.Item, Expired: true, WallClock: snap.UsesWallClock()})
		}
		if ok && !force {
			return
		}
	}
	e.maybeFetch(ctx, now)
}

// maybeFetch starts at most one fetch at a time and respects the retry gate.
func (e *Engine) maybeFetch(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if e.fetching || now.Before(e.nextFetchAt) {
		e.mu.Unlock()
		return
	}
	e.fetching = true
	e.forceFetch = false
	gen := e.generation
	e.mu.Unlock()

	go e.fetch(context.WithoutCancel(ctx), gen)
}

func (e *Engine) fetch(ctx context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	resp, err := e.fetcher.GetCurrentSnapshot(ctx, &backend.GetCurrentSnapshotRequest{})
	receivedAt := e.clock.Now()
	if err == nil {
		err = resp.Validate()
	}
	e.metrics.RecordRefetch(err == nil)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		log.Debug().Msg("discarding snapshot fetched before stop")
		return
	}
	e.fetching = false

	if err != nil {
		e.lastErr = err
		e.nextFetchAt = receivedAt.Add(e.config.RetryDelay)
		e.mu.Unlock()
		log.Warn().Err(err).Dur("retry_in", e.config.RetryDelay).Msg("failed to fetch countdown snapshot")
		e.publishError(err)
		return
	}

	snap := FromResponse(resp, receivedAt)
	e.snapshot = &snap
	e.lastErr = nil
	if IsExpired(snap, receivedAt) {
		e.nextFetchAt = receivedAt.Add(e.config.RetryDelay)
	} else {
		e.nextFetchAt = time.Time{}
	}
	e.mu.Unlock()

	if snap.UsesWallClock() {
		log.Warn().
			Str("item_id", snap.Item.ID).
			Str("started_at", snap.StartedAt).
			Msg("snapshot has no elapsed offset; countdown trusts wall-clock agreement with the server and may drift")
	}
	log.Info().
		Str("item_id", snap.Item.ID).
		Int("repeat_count", snap.Item.RepeatCount).
		Int("seconds_per_repeat", snap.Item.SecondsPerRepeat).
		Msg("countdown snapshot received")

	if state, ok := DeriveState(snap, receivedAt); ok {
		e.publish(View{Item: snap.Item, State: state, WallClock: snap.UsesWallClock()})
	}
}

func (e *Engine) publishError(err error) {
	e.mu.Lock()
	v := e.last
	v.LastError = err.Error()
	e.mu.Unlock()
	e.publish(v)
}

// publish emits v when it differs from the last emitted view.
func (e *Engine) publish(v View) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.task == nil {
		e.mu.Unlock()
		return
	}
	if v.LastError == "" && e.lastErr != nil {
		v.LastError = e.lastErr.Error()
	}
	if e.hasLast && sameView(e.last, v) {
		e.mu.Unlock()
		return
	}
	e.last = v
	e.hasLast = true
	e.mu.Unlock()

	e.hub.Publish(v)
}

func sameView(a, b View) bool {
	return a.Item == b.Item &&
		a.Expired == b.Expired &&
		a.WallClock == b.WallClock &&
		a.LastError == b.LastError &&
		a.State.CurrentRepeat == b.State.CurrentRepeat &&
		a.State.SecondsRemaining == b.State.SecondsRemaining
}

// String is used in log lines and the CLI.
func (v View) String() string {
	if v.Expired {
		return fmt.Sprintf("%q expired", v.Item.Text)
	}
	return fmt.Sprintf("%q repeat %d/%d, %ds left", v.Item.Text, v.State.CurrentRepeat, v.Item.RepeatCount, v.State.SecondsRemaining)
}
