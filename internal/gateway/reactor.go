package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/timer"
	"github.com/openfll/fms/internal/timer/diffcache"
)

// Reactor maps committed mutations to broadcasts. It implements timer.Hooks
// and is the only place that knows which diff triggers which topic.
type Reactor struct {
	broadcaster *Broadcaster
	provider    SnapshotProvider
	payloads    *PayloadBuilder
}

// NewReactor creates the broadcast-rule reactor.
func NewReactor(b *Broadcaster, provider SnapshotProvider, payloads *PayloadBuilder) *Reactor {
	return &Reactor{
		broadcaster: b,
		provider:    provider,
		payloads:    payloads,
	}
}

// TimerSaved fans a timer mutation out by changed field:
//
//   - startTime or state: the state topic. The two are coupled; elapsed time
//     derives from startTime, so either change alone refreshes the snapshot.
//   - profile reference: the profile topic for this timer only. The profile's
//     content did not change, so timers sharing it are not notified.
//   - match reference: the match topic for this timer.
func (r *Reactor) TimerSaved(ctx context.Context, t *models.Timer, changed diffcache.FieldSet) {
	if changed.Any(diffcache.FieldStartTime, diffcache.FieldState) {
		r.broadcaster.Publish(
			GroupKey{TimerID: t.ID, Topic: TopicState},
			r.payloads.State(t),
		)
	}

	if changed.Has(diffcache.FieldProfile) {
		p, err := r.provider.GetProfileByTimer(ctx, t.ID)
		if err != nil {
			log.Error().Err(err).
				Str("timer_id", t.ID.String()).
				Msg("failed to load profile for broadcast")
		} else {
			r.broadcaster.Publish(
				GroupKey{TimerID: t.ID, Topic: TopicProfile},
				r.payloads.Profile(p),
			)
		}
	}

	if changed.Has(diffcache.FieldMatch) {
		r.publishMatch(ctx, t)
	}
}

// publishMatch resolves the timer's current match directly by reference; the
// attached match may be nil after a detach, which still must be announced.
func (r *Reactor) publishMatch(ctx context.Context, t *models.Timer) {
	var m *models.Match
	if t.MatchID != nil {
		var err error
		m, err = r.provider.GetMatch(ctx, *t.MatchID)
		if err != nil {
			log.Error().Err(err).
				Str("timer_id", t.ID.String()).
				Msg("failed to load match for broadcast")
			return
		}
	}
	r.broadcaster.Publish(
		GroupKey{TimerID: t.ID, Topic: TopicMatch},
		r.payloads.Match(m),
	)
}

// ProfileSaved announces a directly-edited profile to every timer that
// references it.
func (r *Reactor) ProfileSaved(ctx context.Context, p *models.TimerProfile) {
	timers, err := r.provider.ListTimersByProfile(ctx, p.ID)
	if err != nil {
		log.Error().Err(err).
			Str("profile_id", p.ID.String()).
			Msg("failed to list timers for profile broadcast")
		return
	}
	payload := r.payloads.Profile(p)
	for i := range timers {
		r.broadcaster.Publish(
			GroupKey{TimerID: timers[i].ID, Topic: TopicProfile},
			payload,
		)
	}
}

// MatchSaved announces an edited match via its attached timer, if any. The
// change originates at the match but the notification is keyed by timer id.
func (r *Reactor) MatchSaved(ctx context.Context, m *models.Match) {
	t, err := r.provider.GetTimerByMatch(ctx, m.ID)
	if errors.Is(err, timer.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).
			Str("match_id", m.ID.String()).
			Msg("failed to resolve timer for match broadcast")
		return
	}
	r.broadcaster.Publish(
		GroupKey{TimerID: t.ID, Topic: TopicMatch},
		r.payloads.Match(m),
	)
}

// TimerDeleted tears down all subscriber groups for the id.
func (r *Reactor) TimerDeleted(ctx context.Context, id uuid.UUID) {
	r.broadcaster.Terminate(id)
}
