// Package diffcache captures pre-mutation timer snapshots so that
// post-commit handlers can tell exactly which fields a write changed.
package diffcache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfll/fms/internal/models"
)

// Field names a broadcast-relevant timer attribute.
type Field string

const (
	FieldStartTime Field = "starttime"
	FieldState     Field = "state"
	FieldProfile   Field = "profile"
	FieldMatch     Field = "match"
)

// FieldSet is the set of fields a mutation changed.
type FieldSet map[Field]struct{}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

// Any reports whether at least one of the given fields is in the set.
func (s FieldSet) Any(fields ...Field) bool {
	for _, f := range fields {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// Snapshot holds the timer fields that participate in change detection.
// Display-only attributes like the name are deliberately absent.
type Snapshot struct {
	StartTime time.Time
	State     models.TimerState
	ProfileID uuid.UUID
	MatchID   *uuid.UUID
}

// SnapshotOf extracts a snapshot from a timer.
func SnapshotOf(t *models.Timer) Snapshot {
	s := Snapshot{
		StartTime: t.StartTime,
		State:     t.State,
		ProfileID: t.ProfileID,
	}
	if t.MatchID != nil {
		id := *t.MatchID
		s.MatchID = &id
	}
	return s
}

// Cache is the process-wide pre-mutation snapshot store. One instance is
// constructed at startup and injected into the timer write path. Entries
// are consumed by Diff so the map never outgrows in-flight mutations.
//
// Concurrent mutations to distinct timer ids are safe. Mutations to the
// same id are serialized upstream by the locked-while-running rule, so the
// cache does not defend against them.
type Cache struct {
	mu     sync.Mutex
	before map[uuid.UUID]Snapshot
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{before: make(map[uuid.UUID]Snapshot)}
}

// Capture stores the pre-mutation snapshot for a timer. Callers skip this
// for first-time creations; Diff then reports nothing to broadcast.
func (c *Cache) Capture(id uuid.UUID, s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.before[id] = s
}

// Diff compares the captured snapshot against the post-commit values and
// removes the entry. The second return is false when nothing was captured,
// which callers treat as "no diff, no broadcast".
func (c *Cache) Diff(id uuid.UUID, after Snapshot) (FieldSet, bool) {
	c.mu.Lock()
	old, ok := c.before[id]
	delete(c.before, id)
	c.mu.Unlock()

	if !ok {
		return nil, false
	}

	changed := make(FieldSet)
	if !old.StartTime.Equal(after.StartTime) {
		changed[FieldStartTime] = struct{}{}
	}
	if old.State != after.State {
		changed[FieldState] = struct{}{}
	}
	if old.ProfileID != after.ProfileID {
		changed[FieldProfile] = struct{}{}
	}
	if !uuidPtrEqual(old.MatchID, after.MatchID) {
		changed[FieldMatch] = struct{}{}
	}
	return changed, true
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
