// Package sqlutil holds small database/sql helpers shared by the sqlite
// stores.
package sqlutil

import (
	"database/sql"
	"time"
)

// TimeLayout is how timestamps are stored in TEXT columns.
const TimeLayout = time.RFC3339Nano

// ToSqlString maps the empty string to NULL.
func ToSqlString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromSqlString converts sql.NullString to Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// ToSqlTime formats t for a TEXT column; the zero time is NULL.
func ToSqlTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(TimeLayout), Valid: true}
}

// FromSqlTime parses a TEXT timestamp written by ToSqlTime. NULL is the zero
// time.
func FromSqlTime(val sql.NullString) (time.Time, error) {
	if !val.Valid {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, val.String)
}
