// Package devicestore persists the few things a device keeps between runs:
// its anonymous id, the language preference and the last resolved
// coordinate.
package devicestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/sqlutil"
)

const (
	keyAnonymousID = "anonymous_id"
	keyLanguage    = "language"

	DefaultLanguage = "en"
)

var ErrInvalidLanguage = errors.New("invalid language tag")

type Store struct {
	db *sql.DB

	mu          sync.Mutex
	anonymousID string
}

// Open opens (or creates) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize device store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS last_coordinate (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			city TEXT,
			source TEXT,
			fetched_at TEXT
		);
	`)
	return err
}

// AnonymousID returns the persisted device id, generating it on first use.
func (s *Store) AnonymousID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anonymousID != "" {
		return s.anonymousID, nil
	}

	var id string
	err := sqlutil.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyAnonymousID).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))`,
			keyAnonymousID, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to load anonymous id: %w", err)
	}

	s.anonymousID = id
	return id, nil
}

// Language returns the stored language preference or DefaultLanguage.
func (s *Store) Language(ctx context.Context) (string, error) {
	var lang sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyLanguage).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultLanguage, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load language: %w", err)
	}
	return sqlutil.FromSqlString(lang, DefaultLanguage), nil
}

func (s *Store) SetLanguage(ctx context.Context, lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" || len(lang) > 35 {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, keyLanguage, lang)
	if err != nil {
		return fmt.Errorf("failed to save language: %w", err)
	}
	return nil
}

// LastCoordinate returns the last saved coordinate, if any.
func (s *Store) LastCoordinate(ctx context.Context) (location.Coordinate, bool, error) {
	var (
		c         location.Coordinate
		city      sql.NullString
		source    sql.NullString
		fetchedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT lat, lng, city, source, fetched_at
		FROM last_coordinate
		WHERE id = 1
	`).Scan(&c.Lat, &c.Lng, &city, &source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return location.Coordinate{}, false, nil
	}
	if err != nil {
		return location.Coordinate{}, false, fmt.Errorf("failed to load last coordinate: %w", err)
	}

	c.City = sqlutil.FromSqlString(city, "")
	c.Source = clients.ExternalSource(sqlutil.FromSqlString(source, ""))
	if c.FetchedAt, err = sqlutil.FromSqlTime(fetchedAt); err != nil {
		return location.Coordinate{}, false, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	return c, true, nil
}

// SaveCoordinate replaces the stored coordinate.
func (s *Store) SaveCoordinate(ctx context.Context, c location.Coordinate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_coordinate (id, lat, lng, city, source, fetched_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lat = excluded.lat,
			lng = excluded.lng,
			city = excluded.city,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`, c.Lat, c.Lng, sqlutil.ToSqlString(c.City), sqlutil.ToSqlString(string(c.Source)), sqlutil.ToSqlTime(c.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to save coordinate: %w", err)
	}
	return nil
}
