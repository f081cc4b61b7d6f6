// Package peak tracks the highest nearby count seen this session and reports
// its bucketed value to the per-city daily aggregate.
package peak

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/metrics"
	"github.com/mcdev12/tandem/go/internal/presence"
	"github.com/mcdev12/tandem/go/internal/quantize"
	"github.com/mcdev12/tandem/go/internal/schedule"
)

var ErrAlreadyRunning = errors.New("peak reporter already running")

// PresenceSource is satisfied by *presence.Heartbeat.
type PresenceSource interface {
	Subscribe(fn func(presence.State)) func()
}

type PeakClient interface {
	ReportPeak(ctx context.Context, req *backend.ReportPeakRequest) (*backend.ReportPeakResponse, error)
}

type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Record is one reported peak.
type Record struct {
	City             string `json:"city"`
	Date             string `json:"date"`
	ApproximateCount int    `json:"approximate_count"`
}

// Reporter reports the session peak on a fixed interval. A record equal to
// the last accepted one is skipped, so a new city or a new day reports again.
type Reporter struct {
	source  PresenceSource
	client  PeakClient
	clock   clockwork.Clock
	config  Config
	metrics metrics.Collector

	mu           sync.Mutex
	task         *schedule.Task
	unsubscribe  func()
	peakRaw      int
	city         string
	lastReported *Record
}

type Option func(*Reporter)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Reporter) { r.clock = clock }
}

func WithMetrics(m metrics.Collector) Option {
	return func(r *Reporter) { r.metrics = m }
}

func NewReporter(source PresenceSource, client PeakClient, cfg Config, opts ...Option) *Reporter {
	r := &Reporter{
		source:  source,
		client:  client,
		clock:   clockwork.NewRealClock(),
		config:  cfg,
		metrics: metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to presence updates and reports every interval.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task != nil {
		return ErrAlreadyRunning
	}

	r.unsubscribe = r.source.Subscribe(r.observe)
	r.task = schedule.Every(ctx, r.clock, r.config.Interval, r.report)
	log.Info().Dur("interval", r.config.Interval).Msg("peak reporter started")
	return nil
}

// Stop unsubscribes and resets the session peak. The last reported record
// survives so a restart on the same day does not repeat it.
func (r *Reporter) Stop() {
	r.mu.Lock()
	task, unsubscribe := r.task, r.unsubscribe
	r.task = nil
	r.unsubscribe = nil
	r.peakRaw = 0
	r.city = ""
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if task != nil {
		task.Stop()
		log.Info().Msg("peak reporter stopped")
	}
}

// Peak returns the raw session maximum.
func (r *Reporter) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakRaw
}

// LastReported returns the last record the backend accepted.
func (r *Reporter) LastReported() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReported == nil {
		return Record{}, false
	}
	return *r.lastReported, true
}

func (r *Reporter) observe(s presence.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task == nil {
		return
	}
	if s.RawNearbyCount > r.peakRaw {
		r.peakRaw = s.RawNearbyCount
	}
	if s.City != "" {
		r.city = s.City
	}
}

func (r *Reporter) report(ctx context.Context) {
	r.mu.Lock()
	rec := Record{
		City:             r.city,
		Date:             r.clock.Now().Format(backend.DateLayout),
		ApproximateCount: quantize.Approximate(r.peakRaw),
	}
	skip := rec.ApproximateCount == 0 || rec.City == "" ||
		(r.lastReported != nil && *r.lastReported == rec)
	r.mu.Unlock()
	if skip {
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CallTimeout)
	defer cancel()

	_, err := r.client.ReportPeak(callCtx, &backend.ReportPeakRequest{
		City:             rec.City,
		Date:             rec.Date,
		ApproximateCount: rec.ApproximateCount,
	})
	r.metrics.RecordPeakReport(err == nil)
	if err != nil {
		log.Warn().Err(err).Str("city", rec.City).Int("approx", rec.ApproximateCount).Msg("failed to report peak")
		return
	}

	r.mu.Lock()
	r.lastReported = &rec
	r.mu.Unlock()

	log.Info().
		Str("city", rec.City).
		Str("date", rec.Date).
		Int("approx", rec.ApproximateCount).
		Msg("peak reported")
}
