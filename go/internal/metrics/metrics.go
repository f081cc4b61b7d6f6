// Package metrics exposes client-side counters for the presence, location,
// countdown and vote components.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is implemented by Prometheus and NoOp.
type Collector interface {
	RecordGeoLookup(source string, success bool)
	RecordCacheHit()
	RecordHeartbeat(success bool, attempt int)
	RecordNearbyCount(approx int)
	RecordPeakReport(success bool)
	RecordVote(outcome string)
	RecordRefetch(success bool)
}

// Vote outcomes.
const (
	VoteOutcomeOK          = "ok"
	VoteOutcomeRateLimited = "rate_limited"
	VoteOutcomeError       = "error"
)

// NoOp is used when metrics aren't needed.
type NoOp struct{}

func (NoOp) RecordGeoLookup(string, bool) {}
func (NoOp) RecordCacheHit()              {}
func (NoOp) RecordHeartbeat(bool, int)    {}
func (NoOp) RecordNearbyCount(int)        {}
func (NoOp) RecordPeakReport(bool)        {}
func (NoOp) RecordVote(string)            {}
func (NoOp) RecordRefetch(bool)           {}

// Prometheus implements Collector with client_golang collectors.
type Prometheus struct {
	geoLookups  *prometheus.CounterVec
	cacheHits   prometheus.Counter
	heartbeats  *prometheus.CounterVec
	nearbyCount prometheus.Gauge
	peakReports *prometheus.CounterVec
	votes       *prometheus.CounterVec
	refetches   *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	return &Prometheus{
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_geo_lookups_total",
			Help: "Geo provider lookups by source and outcome",
		}, []string{"source", "status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tandem_location_cache_hits_total",
			Help: "Resolve calls answered from the fresh location cache",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_heartbeats_total",
			Help: "Presence heartbeats by outcome and attempt number",
		}, []string{"status", "attempt"}),
		nearbyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_nearby_devices_approximate",
			Help: "Last approximate nearby device count",
		}),
		peakReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_peak_reports_total",
			Help: "Peak report writes by outcome",
		}, []string{"status"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_vote_reconciliations_total",
			Help: "Vote reconciliation calls by outcome",
		}, []string{"outcome"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_snapshot_refetches_total",
			Help: "Countdown snapshot fetches by outcome",
		}, []string{"status"}),
	}
}

// Collectors returns every collector for registration.
func (m *Prometheus) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.geoLookups,
		m.cacheHits,
		m.heartbeats,
		m.nearbyCount,
		m.peakReports,
		m.votes,
		m.refetches,
	}
}

// Register registers all collectors with reg.
func (m *Prometheus) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Prometheus) RecordGeoLookup(source string, success bool) {
	m.geoLookups.WithLabelValues(source, status(success)).Inc()
}

func (m *Prometheus) RecordCacheHit() {
	m.cacheHits.Inc()
}

func (m *Prometheus) RecordHeartbeat(success bool, attempt int) {
	m.heartbeats.WithLabelValues(status(success), attemptLabel(attempt)).Inc()
}

func (m *Prometheus) RecordNearbyCount(approx int) {
	m.nearbyCount.Set(float64(approx))
}

func (m *Prometheus) RecordPeakReport(success bool) {
	m.peakReports.WithLabelValues(status(success)).Inc()
}

func (m *Prometheus) RecordVote(outcome string) {
	m.votes.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) RecordRefetch(success bool) {
	m.refetches.WithLabelValues(status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// attemptLabel caps the label cardinality: initial retries are 1..n, steady
// beats are "steady".
func attemptLabel(attempt int) string {
	if attempt <= 0 {
		return "steady"
	}
	return strconv.Itoa(attempt)
}

var (
	_ Collector = NoOp{}
	_ Collector = (*Prometheus)(nil)
)
