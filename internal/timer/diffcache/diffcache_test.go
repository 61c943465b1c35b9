package diffcache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/timer/diffcache"
)

func baseSnapshot() diffcache.Snapshot {
	return diffcache.Snapshot{
		State:     models.TimerPrestart,
		ProfileID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	}
}

func TestDiffReportsChangedFields(t *testing.T) {
	cache := diffcache.New()
	id := uuid.New()

	before := baseSnapshot()
	cache.Capture(id, before)

	after := before
	after.State = models.TimerStart
	after.StartTime = time.Now()

	changed, captured := cache.Diff(id, after)
	require.True(t, captured)
	assert.True(t, changed.Has(diffcache.FieldState))
	assert.True(t, changed.Has(diffcache.FieldStartTime))
	assert.False(t, changed.Has(diffcache.FieldProfile))
	assert.False(t, changed.Has(diffcache.FieldMatch))
}

func TestDiffDetectsReferenceChanges(t *testing.T) {
	cache := diffcache.New()
	id := uuid.New()
	matchID := uuid.New()

	before := baseSnapshot()
	cache.Capture(id, before)

	after := before
	after.ProfileID = uuid.New()
	after.MatchID = &matchID

	changed, captured := cache.Diff(id, after)
	require.True(t, captured)
	assert.True(t, changed.Has(diffcache.FieldProfile))
	assert.True(t, changed.Has(diffcache.FieldMatch))
	assert.False(t, changed.Any(diffcache.FieldState, diffcache.FieldStartTime))
}

func TestDiffWithoutCapture(t *testing.T) {
	cache := diffcache.New()

	changed, captured := cache.Diff(uuid.New(), baseSnapshot())
	assert.False(t, captured)
	assert.Empty(t, changed)
}

func TestDiffConsumesEntry(t *testing.T) {
	cache := diffcache.New()
	id := uuid.New()

	cache.Capture(id, baseSnapshot())

	after := baseSnapshot()
	after.State = models.TimerStart
	_, captured := cache.Diff(id, after)
	require.True(t, captured)

	// The entry was consumed; a second diff sees nothing.
	_, captured = cache.Diff(id, after)
	assert.False(t, captured)
}

func TestIdenticalSnapshotsDiffEmpty(t *testing.T) {
	cache := diffcache.New()
	id := uuid.New()

	cache.Capture(id, baseSnapshot())
	changed, captured := cache.Diff(id, baseSnapshot())
	require.True(t, captured)
	assert.Empty(t, changed)
}

func TestConcurrentDistinctTimers(t *testing.T) {
	cache := diffcache.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			before := baseSnapshot()
			cache.Capture(id, before)

			after := before
			after.State = models.TimerStart
			changed, captured := cache.Diff(id, after)
			assert.True(t, captured)
			assert.True(t, changed.Has(diffcache.FieldState))
		}()
	}
	wg.Wait()
}
