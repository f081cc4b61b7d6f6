package devicestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/internal/location"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAnonymousIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	s := openStore(t, path)
	id, err := s.AnonymousID(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := s.AnonymousID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	persisted, err := reopened.AnonymousID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, persisted)
}

func TestLanguage(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "device.db"))
	ctx := context.Background()

	lang, err := s.Language(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, lang)

	require.NoError(t, s.SetLanguage(ctx, "pt-BR"))
	require.NoError(t, s.SetLanguage(ctx, "de"))
	lang, err = s.Language(ctx)
	require.NoError(t, err)
	assert.Equal(t, "de", lang)

	assert.ErrorIs(t, s.SetLanguage(ctx, "  "), ErrInvalidLanguage)
}

func TestCoordinateRoundTrip(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "device.db"))
	ctx := context.Background()

	_, ok, err := s.LastCoordinate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	fetched := time.Date(2026, time.March, 14, 12, 30, 0, 0, time.UTC)
	want := location.Coordinate{Lat: 52.52, Lng: 13.405, City: "Berlin", Source: clients.ExternalSourceIPAPI, FetchedAt: fetched}
	require.NoError(t, s.SaveCoordinate(ctx, want))

	got, ok, err := s.LastCoordinate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Lat, got.Lat)
	assert.Equal(t, want.City, got.City)
	assert.Equal(t, want.Source, got.Source)
	assert.True(t, fetched.Equal(got.FetchedAt))

	// Unknown city is stored as NULL and replaces the previous row.
	require.NoError(t, s.SaveCoordinate(ctx, location.Coordinate{Lat: 1.5, Lng: 2.5, FetchedAt: fetched}))
	got, ok, err = s.LastCoordinate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.5, got.Lat)
	assert.False(t, got.HasCity())
}
