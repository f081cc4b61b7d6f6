// Package gateway serves the local UI: a websocket stream of state changes
// plus a small REST surface for the current state, votes and city counts.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/events"
)

type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"http://localhost:3000"},
	}
}

type Service struct {
	connectionManager *ConnectionManager
	stateHandler      *StateHandler
	cors              *cors.Cors
	gatherer          prometheus.Gatherer
}

type Option func(*Service)

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Service) { s.gatherer = g }
}

func NewService(config Config, sources Sources, opts ...Option) *Service {
	c := NewCORS(config.AllowedOrigins)
	connConfig := config.ConnectionConfig
	if connConfig.CheckOrigin == nil {
		connConfig.CheckOrigin = checkOrigin(c)
	}

	s := &Service{
		connectionManager: NewConnectionManager(connConfig),
		stateHandler:      NewStateHandler(sources),
		cors:              c,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting local gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("local gateway stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	s.stateHandler.RegisterStateRoutes(mux)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	log.Info().Msg("gateway routes registered")
}

// Handler returns every route wrapped with CORS.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.cors.Handler(mux)
}

func (s *Service) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// The upgrader has already written an error response on failure.
	if err := s.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade websocket connection")
	}
}

func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionManager.GetConnectionStats())
}

func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount()
}

// Publish pushes payload to every connected client.
func (s *Service) Publish(eventType events.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal state event")
		return
	}
	s.connectionManager.Broadcast(&StateEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// Forward adapts Publish to a component subscription callback.
func Forward[T any](s *Service, eventType events.EventType) func(T) {
	return func(v T) {
		s.Publish(eventType, v)
	}
}
