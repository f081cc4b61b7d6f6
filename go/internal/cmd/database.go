package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tandem/go/internal/devicestore"
	"github.com/mcdev12/tandem/go/internal/location"
)

func setupDatabase(ctx context.Context) (*devicestore.Store, error) {
	store, err := devicestore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	if _, err := store.AnonymousID(ctx); err != nil {
		store.Close()
		return nil, err
	}

	log.Info().Str("path", cfg.Store.Path).Msg("opened device store")
	return store, nil
}

// seedResolver hands the last persisted coordinate to the resolver so
// presence has a fallback before the first lookup succeeds.
func seedResolver(ctx context.Context, store *devicestore.Store, resolver *location.Resolver) {
	coord, ok, err := store.LastCoordinate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load last coordinate")
		return
	}
	if ok {
		resolver.Seed(coord)
		log.Debug().Str("city", coord.City).Time("fetched_at", coord.FetchedAt).Msg("seeded resolver from device store")
	}
}
