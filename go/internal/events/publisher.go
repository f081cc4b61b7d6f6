package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops every event. Used when the relay is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Name          string
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tandem",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Name:          "tandem-client",
	}
}

type NATSPublisher struct {
	nc     *nats.Conn
	config NATSConfig
}

func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, config: cfg}, nil
}

// Message builds the NATS message for event.
func Message(prefix string, event Event) (*nats.Msg, error) {
	data, err := json.Marshal(event.Envelope())
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	header := nats.Header{}
	header.Set("Event-Type", string(event.Type))
	header.Set("Event-ID", event.ID.String())
	if event.DeviceHash != "" {
		header.Set("Device-Hash", event.DeviceHash)
	}

	return &nats.Msg{
		Subject: Subject(prefix, event.Type),
		Data:    data,
		Header:  header,
	}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Message(p.config.SubjectPrefix, event)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", event.ID.String()).
		Msg("published state event")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	if err != nil {
		p.nc.Close()
	}
	return err
}
