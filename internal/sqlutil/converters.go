package sqlutil

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ToNullTime maps the zero time to SQL NULL.
func ToNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// FromNullTime maps SQL NULL to the zero time.
func FromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// ToNullTimePtr converts an optional time to its nullable column value.
func ToNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// FromNullTimePtr converts a nullable column value to an optional time.
func FromNullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}

// ToNullUUID converts an optional uuid to its nullable column value.
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// FromNullUUID converts a nullable column value to an optional uuid.
func FromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	out := id.UUID
	return &out
}

// DurationUS stores a duration as integer microseconds.
func DurationUS(d time.Duration) int64 {
	return d.Microseconds()
}

// FromDurationUS restores a duration from integer microseconds.
func FromDurationUS(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// ToNullDurationUS converts an optional duration to nullable microseconds.
func ToNullDurationUS(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.Microseconds(), Valid: true}
}

// FromNullDurationUS converts nullable microseconds to an optional duration.
func FromNullDurationUS(us sql.NullInt64) *time.Duration {
	if !us.Valid {
		return nil
	}
	out := FromDurationUS(us.Int64)
	return &out
}
