package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/clients/firstparty_client"
	"github.com/mcdev12/tandem/go/clients/freeipapi_client"
	"github.com/mcdev12/tandem/go/clients/ipapi_client"
	"github.com/mcdev12/tandem/go/clients/ipwhois_client"
	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/checkin"
	"github.com/mcdev12/tandem/go/internal/countdown"
	"github.com/mcdev12/tandem/go/internal/devicestore"
	"github.com/mcdev12/tandem/go/internal/events"
	"github.com/mcdev12/tandem/go/internal/gateway"
	"github.com/mcdev12/tandem/go/internal/identity"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/metrics"
	"github.com/mcdev12/tandem/go/internal/peak"
	"github.com/mcdev12/tandem/go/internal/presence"
	"github.com/mcdev12/tandem/go/internal/votes"
)

type Services struct {
	Store     *devicestore.Store
	Resolver  *location.Resolver
	Countdown *countdown.Engine
	Presence  *presence.Heartbeat
	Peak      *peak.Reporter
	Votes     *votes.Aggregator
	Checkin   *checkin.Recorder
	Relay     *events.Relay
	Gateway   *gateway.Service

	publisher   events.Publisher
	unsubscribe []func()
}

func setupServices(ctx context.Context, store *devicestore.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Geo providers → Resolver → Heartbeat → Peak/Checkin, Backend → Countdown/Votes
	s := &Services{Store: store}

	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheus()
	if err := collector.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	anonID, err := store.AnonymousID(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := identity.DeviceHash(anonID, cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive device hash: %w", err)
	}

	publisher, err := setupPublisher()
	if err != nil {
		return nil, err
	}
	s.publisher = publisher
	s.Relay = events.NewRelay(publisher, events.DefaultRelayConfig())
	s.Relay.SetDeviceHash(hash)

	// Location
	first, third := setupGeoProviders()
	s.Resolver = location.NewResolver(first, third, cfg.LocationConfig(),
		location.WithMetrics(collector),
		location.WithOnResolved(s.onResolved),
	)
	seedResolver(ctx, store, s.Resolver)

	// Backend
	client := backend.NewClient(backend.NewHTTPClient(cfg.Backend.Timeout), cfg.Backend.URL)

	// Components
	s.Countdown = countdown.NewEngine(client, cfg.CountdownConfig(), countdown.WithMetrics(collector))
	s.Presence = presence.NewHeartbeat(s.Resolver, client, store, cfg.PresenceConfig(), presence.WithMetrics(collector))
	s.Peak = peak.NewReporter(s.Presence, client, cfg.PeakConfig(), peak.WithMetrics(collector))
	s.Checkin = checkin.NewRecorder(s.Presence, client, store, cfg.CheckinConfig())
	s.Votes = votes.NewAggregator(client, store, cfg.Salt, votes.WithMetrics(collector))

	// Gateway
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = cfg.Gateway.AllowedOrigins
	s.Gateway = gateway.NewService(gatewayConfig, gateway.Sources{
		Countdown: s.Countdown,
		Presence:  s.Presence,
		Location:  s.Resolver,
		Votes:     s.Votes,
		Cities:    s.Checkin,
	}, gateway.WithGatherer(registry))

	s.unsubscribe = append(s.unsubscribe,
		s.Countdown.Subscribe(events.Forward[countdown.View](s.Relay, events.EventTypeCountdown)),
		s.Countdown.Subscribe(gateway.Forward[countdown.View](s.Gateway, events.EventTypeCountdown)),
		s.Presence.Subscribe(events.Forward[presence.State](s.Relay, events.EventTypePresence)),
		s.Presence.Subscribe(gateway.Forward[presence.State](s.Gateway, events.EventTypePresence)),
		s.Votes.Subscribe(events.Forward[votes.Update](s.Relay, events.EventTypeVotes)),
		s.Votes.Subscribe(gateway.Forward[votes.Update](s.Gateway, events.EventTypeVotes)),
	)

	return s, nil
}

func setupPublisher() (events.Publisher, error) {
	if !cfg.NATS.Enabled {
		log.Info().Msg("NATS relay disabled")
		return events.NoopPublisher{}, nil
	}

	publisher, err := events.NewNATSPublisher(cfg.NATSConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	log.Info().Str("url", cfg.NATS.URL).Str("subject_prefix", cfg.NATS.SubjectPrefix).Msg("NATS relay enabled")
	return publisher, nil
}

// setupGeoProviders builds the first party client against the app origin
// and the configured third party sources.
func setupGeoProviders() (clients.GeoProvider, []clients.GeoProvider) {
	firstPartyURL := cfg.Geo.FirstPartyURL
	if firstPartyURL == "" {
		firstPartyURL = cfg.Backend.URL
	}
	first := firstparty_client.NewFirstPartyClient(firstPartyURL)
	first.SetTimeout(cfg.Geo.FirstPartyTimeout)

	var third []clients.GeoProvider
	for _, name := range cfg.Geo.Sources {
		var p clients.GeoProvider
		switch clients.ExternalSource(name) {
		case clients.ExternalSourceIPAPI:
			c := ipapi_client.NewIPAPIClient("")
			c.SetTimeout(cfg.Geo.ThirdPartyTimeout)
			p = c
		case clients.ExternalSourceIPWhois:
			c := ipwhois_client.NewIPWhoisClient("")
			c.SetTimeout(cfg.Geo.ThirdPartyTimeout)
			p = c
		case clients.ExternalSourceFreeIPAPI:
			c := freeipapi_client.NewFreeIPAPIClient("")
			c.SetTimeout(cfg.Geo.ThirdPartyTimeout)
			p = c
		default:
			log.Warn().Str("source", name).Msg("skipping unknown geo source")
			continue
		}
		third = append(third, p)
	}
	return first, third
}

// onResolved persists every fresh coordinate and pushes it to listeners.
func (s *Services) onResolved(c location.Coordinate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Store.SaveCoordinate(ctx, c); err != nil {
		log.Warn().Err(err).Msg("failed to persist coordinate")
	}

	if s.Relay != nil {
		s.Relay.Enqueue(events.EventTypeLocation, c)
	}
	if s.Gateway != nil {
		s.Gateway.Publish(events.EventTypeLocation, c)
	}
}

type component struct {
	name  string
	start func(context.Context) error
}

// components lists start order. Peak subscribes before Presence runs its
// first beat so no count is missed.
func (s *Services) components() []component {
	return []component{
		{"relay", s.Relay.Start},
		{"countdown", s.Countdown.Start},
		{"peak reporter", s.Peak.Start},
		{"presence", s.Presence.Start},
		{"checkin", func(ctx context.Context) error {
			s.Checkin.Start(ctx)
			return nil
		}},
	}
}

// Start brings components up in dependency order. The gateway broadcast
// loop runs until ctx is cancelled.
func (s *Services) Start(ctx context.Context) error {
	go s.Gateway.Start(ctx)

	for _, c := range s.components() {
		if err := c.start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
	}

	log.Info().Msg("all services started")
	return nil
}

// Stop tears components down in reverse order. Events still queued in the
// relay are dropped.
func (s *Services) Stop() {
	s.Checkin.Stop()
	s.Presence.Stop()
	s.Peak.Stop()
	s.Countdown.Stop()

	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil

	if err := s.Relay.Stop(); err != nil {
		log.Debug().Err(err).Msg("relay was not running")
	}
	if err := s.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	log.Info().Msg("all services stopped")
}
