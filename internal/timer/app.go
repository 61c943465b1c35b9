package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/timer/diffcache"
)

// Repository defines what the app layer needs from the storage layer.
type Repository interface {
	CreateTimer(ctx context.Context, t *models.Timer) error
	GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error)
	GetTimerByMatch(ctx context.Context, matchID uuid.UUID) (*models.Timer, error)
	ListTimers(ctx context.Context) ([]models.Timer, error)
	ListTimersByProfile(ctx context.Context, profileID uuid.UUID) ([]models.Timer, error)
	UpdateTimer(ctx context.Context, t *models.Timer) error
	DeleteTimer(ctx context.Context, id uuid.UUID) error

	CreateProfile(ctx context.Context, p *models.TimerProfile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*models.TimerProfile, error)
	GetProfileByTimer(ctx context.Context, timerID uuid.UUID) (*models.TimerProfile, error)
	UpdateProfile(ctx context.Context, p *models.TimerProfile) error
	DeleteProfile(ctx context.Context, id uuid.UUID) error

	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatch(ctx context.Context, m *models.Match) error
}

// Hooks is invoked synchronously after every committed mutation. The write
// contract is explicit: capture-before, persist, diff-after, then exactly one
// hook call describing what changed. The gateway's reactor implements this to
// fan updates out to subscribers.
type Hooks interface {
	TimerSaved(ctx context.Context, t *models.Timer, changed diffcache.FieldSet)
	ProfileSaved(ctx context.Context, p *models.TimerProfile)
	MatchSaved(ctx context.Context, m *models.Match)
	TimerDeleted(ctx context.Context, id uuid.UUID)
}

// App owns timer business logic: the state machine, the locked-while-running
// rule, lazy expiry, and the mutation write contract.
type App struct {
	repo  Repository
	cache *diffcache.Cache
	clock clockwork.Clock
	hooks Hooks
}

// NewApp creates a timer App. Hooks are attached afterwards with SetHooks
// since the gateway reactor needs the App for snapshot reads.
func NewApp(repo Repository, cache *diffcache.Cache, clock clockwork.Clock) *App {
	return &App{
		repo:  repo,
		cache: cache,
		clock: clock,
	}
}

// SetHooks attaches the post-commit hooks. A nil Hooks disables broadcasting.
func (a *App) SetHooks(h Hooks) {
	a.hooks = h
}

// nextState returns the target state for an action, or false if the edge is
// not in the transition table.
func nextState(state models.TimerState, action Action) (models.TimerState, bool) {
	switch action {
	case ActionStart:
		if state == models.TimerPrestart {
			return models.TimerStart, true
		}
	case ActionStop:
		if state == models.TimerStart {
			return models.TimerEnd, true
		}
	case ActionAbort:
		if state == models.TimerStart {
			return models.TimerAbort, true
		}
	case ActionReset:
		if state == models.TimerEnd || state == models.TimerAbort {
			return models.TimerPrestart, true
		}
	}
	return "", false
}

// ApplyTransition runs one operator action against the state machine. The
// timer is reloaded from storage first so a concurrent transition cannot be
// overwritten from a stale copy.
func (a *App) ApplyTransition(ctx context.Context, id uuid.UUID, action Action) (*models.Timer, error) {
	t, err := a.repo.GetTimer(ctx, id)
	if err != nil {
		return nil, err
	}

	next, ok := nextState(t.State, action)
	if !ok {
		return nil, fmt.Errorf("%s from %s: %w", action, t.State, ErrInvalidTransition)
	}

	switch action {
	case ActionStart:
		t.StartTime = a.clock.Now()
	case ActionReset:
		t.StartTime = time.Time{}
	}
	t.State = next

	if err := a.commitTimer(ctx, t); err != nil {
		return nil, err
	}

	log.Info().
		Str("timer_id", t.ID.String()).
		Str("action", string(action)).
		Str("state", string(t.State)).
		Msg("timer transition applied")
	return t, nil
}

// GetTimer reads a timer with read-through repair: a running timer past its
// profile duration is lapsed to END as a documented side effect of the read,
// with a single compensating write. The check runs on the freshly-loaded
// value, so a repeated read of the now-END timer does not write again.
func (a *App) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	t, err := a.repo.GetTimer(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != models.TimerStart {
		return t, nil
	}

	profile, err := a.repo.GetProfile(ctx, t.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load profile for expiry check: %w", err)
	}
	if a.clock.Since(t.StartTime) <= profile.Duration {
		return t, nil
	}

	t.State = models.TimerEnd
	if err := a.commitTimer(ctx, t); err != nil {
		return nil, fmt.Errorf("lapse expired timer: %w", err)
	}
	log.Info().Str("timer_id", t.ID.String()).Msg("running timer lapsed to END")
	return t, nil
}

// ListTimers returns all timers without triggering expiry repair.
func (a *App) ListTimers(ctx context.Context) ([]models.Timer, error) {
	return a.repo.ListTimers(ctx)
}

// ListTimersByProfile returns the timers referencing a profile.
func (a *App) ListTimersByProfile(ctx context.Context, profileID uuid.UUID) ([]models.Timer, error) {
	return a.repo.ListTimersByProfile(ctx, profileID)
}

// CreateTimer creates a timer in PRESTART. Creation never broadcasts: no
// subscriber can exist for an id that was just minted.
func (a *App) CreateTimer(ctx context.Context, req CreateTimerRequest) (*models.Timer, error) {
	if _, err := a.repo.GetProfile(ctx, req.ProfileID); err != nil {
		return nil, fmt.Errorf("profile %s: %w", req.ProfileID, err)
	}

	t := &models.Timer{
		ID:        uuid.New(),
		Name:      req.Name,
		ProfileID: req.ProfileID,
		State:     models.TimerPrestart,
	}
	if req.MatchID != nil {
		if err := a.ensureMatchFree(ctx, *req.MatchID, t.ID); err != nil {
			return nil, err
		}
		id := *req.MatchID
		t.MatchID = &id
	}

	if err := a.repo.CreateTimer(ctx, t); err != nil {
		return nil, fmt.Errorf("create timer: %w", err)
	}
	log.Info().Str("timer_id", t.ID.String()).Str("name", t.Name).Msg("timer created")
	return t, nil
}

// UpdateTimer edits timer fields. Rejected with ErrLocked while the
// freshly-loaded state is START; state changes go through ApplyTransition.
func (a *App) UpdateTimer(ctx context.Context, id uuid.UUID, req UpdateTimerRequest) (*models.Timer, error) {
	t, err := a.repo.GetTimer(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State == models.TimerStart {
		return nil, fmt.Errorf("update timer %s: %w", id, ErrLocked)
	}

	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.ProfileID != nil {
		if _, err := a.repo.GetProfile(ctx, *req.ProfileID); err != nil {
			return nil, fmt.Errorf("profile %s: %w", *req.ProfileID, err)
		}
		t.ProfileID = *req.ProfileID
	}
	if req.ClearMatch {
		t.MatchID = nil
	} else if req.MatchID != nil {
		if err := a.ensureMatchFree(ctx, *req.MatchID, t.ID); err != nil {
			return nil, err
		}
		id := *req.MatchID
		t.MatchID = &id
	}

	if err := a.commitTimer(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTimer removes a timer and tears down its subscriber groups. Running
// timers must be stopped or aborted first.
func (a *App) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	t, err := a.repo.GetTimer(ctx, id)
	if err != nil {
		return err
	}
	if t.State == models.TimerStart {
		return fmt.Errorf("delete timer %s: %w", id, ErrLocked)
	}

	if err := a.repo.DeleteTimer(ctx, id); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	if a.hooks != nil {
		a.hooks.TimerDeleted(ctx, id)
	}
	log.Info().Str("timer_id", id.String()).Msg("timer deleted")
	return nil
}

// commitTimer runs the write contract for an existing timer: capture the
// pre-mutation snapshot, persist, diff, and hand the diff to the hooks. An
// empty diff produces no hook call.
func (a *App) commitTimer(ctx context.Context, t *models.Timer) error {
	old, err := a.repo.GetTimer(ctx, t.ID)
	switch {
	case err == nil:
		a.cache.Capture(t.ID, diffcache.SnapshotOf(old))
	case errors.Is(err, ErrNotFound):
		// New record, nothing to capture.
	default:
		return fmt.Errorf("capture pre-mutation snapshot: %w", err)
	}

	if err := a.repo.UpdateTimer(ctx, t); err != nil {
		return fmt.Errorf("persist timer: %w", err)
	}

	changed, captured := a.cache.Diff(t.ID, diffcache.SnapshotOf(t))
	if !captured || len(changed) == 0 {
		return nil
	}
	if a.hooks != nil {
		a.hooks.TimerSaved(ctx, t, changed)
	}
	return nil
}

func (a *App) ensureMatchFree(ctx context.Context, matchID, timerID uuid.UUID) error {
	if _, err := a.repo.GetMatch(ctx, matchID); err != nil {
		return fmt.Errorf("match %s: %w", matchID, err)
	}
	owner, err := a.repo.GetTimerByMatch(ctx, matchID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner.ID != timerID {
		return fmt.Errorf("match %s held by timer %s: %w", matchID, owner.ID, ErrMatchAttached)
	}
	return nil
}

// GetProfile reads a profile by id.
func (a *App) GetProfile(ctx context.Context, id uuid.UUID) (*models.TimerProfile, error) {
	return a.repo.GetProfile(ctx, id)
}

// GetProfileByTimer reads the profile a timer references.
func (a *App) GetProfileByTimer(ctx context.Context, timerID uuid.UUID) (*models.TimerProfile, error) {
	return a.repo.GetProfileByTimer(ctx, timerID)
}

// CreateProfile creates a countdown configuration. Stages are stored sorted
// by trigger, preserving insertion order between equal triggers.
func (a *App) CreateProfile(ctx context.Context, req CreateProfileRequest) (*models.TimerProfile, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("profile duration must be positive")
	}
	format := req.Format
	if format == "" {
		format = models.FormatMinutes
	}

	p := &models.TimerProfile{
		ID:           uuid.New(),
		Name:         req.Name,
		Duration:     req.Duration,
		Format:       format,
		PrestartCSS:  req.PrestartCSS,
		StartCSS:     req.StartCSS,
		StartDisplay: req.StartDisplay,
		StartSound:   req.StartSound,
		EndCSS:       req.EndCSS,
		EndSound:     req.EndSound,
		AbortSound:   req.AbortSound,
		Stages:       append([]models.TimerStage(nil), req.Stages...),
	}
	sortStages(p.Stages)

	if err := a.repo.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	log.Info().Str("profile_id", p.ID.String()).Str("name", p.Name).Msg("timer profile created")
	return p, nil
}

// UpdateProfile edits a profile and its stages. Rejected with ErrLocked while
// any referencing timer is running; a save that changes nothing broadcasts
// nothing.
func (a *App) UpdateProfile(ctx context.Context, id uuid.UUID, req UpdateProfileRequest) (*models.TimerProfile, error) {
	if err := a.ensureProfileUnlocked(ctx, id); err != nil {
		return nil, err
	}

	p, err := a.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	old := p.Clone()

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Duration != nil {
		p.Duration = *req.Duration
	}
	if req.Format != nil {
		p.Format = *req.Format
	}
	if req.PrestartCSS != nil {
		p.PrestartCSS = *req.PrestartCSS
	}
	if req.StartCSS != nil {
		p.StartCSS = *req.StartCSS
	}
	if req.ClearStartDisplay {
		p.StartDisplay = nil
	} else if req.StartDisplay != nil {
		d := *req.StartDisplay
		p.StartDisplay = &d
	}
	if req.StartSound != nil {
		p.StartSound = *req.StartSound
	}
	if req.EndCSS != nil {
		p.EndCSS = *req.EndCSS
	}
	if req.EndSound != nil {
		p.EndSound = *req.EndSound
	}
	if req.AbortSound != nil {
		p.AbortSound = *req.AbortSound
	}
	if req.Stages != nil {
		p.Stages = append([]models.TimerStage(nil), (*req.Stages)...)
		sortStages(p.Stages)
	}

	if err := a.repo.UpdateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("persist profile: %w", err)
	}

	if profilesEqual(old, p) {
		return p, nil
	}
	if a.hooks != nil {
		a.hooks.ProfileSaved(ctx, p)
	}
	return p, nil
}

// DeleteProfile removes a profile. Profiles referenced by timers are
// delete-protected.
func (a *App) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	timers, err := a.repo.ListTimersByProfile(ctx, id)
	if err != nil {
		return err
	}
	if len(timers) > 0 {
		return fmt.Errorf("delete profile %s: %w", id, ErrProfileInUse)
	}
	return a.repo.DeleteProfile(ctx, id)
}

func (a *App) ensureProfileUnlocked(ctx context.Context, profileID uuid.UUID) error {
	timers, err := a.repo.ListTimersByProfile(ctx, profileID)
	if err != nil {
		return err
	}
	for i := range timers {
		if timers[i].State == models.TimerStart {
			return fmt.Errorf("profile %s used by running timer %s: %w",
				profileID, timers[i].ID, ErrLocked)
		}
	}
	return nil
}

// GetMatch reads a match by id.
func (a *App) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return a.repo.GetMatch(ctx, id)
}

// GetMatchByTimer resolves the match attached to a timer. Returns (nil, nil)
// when the timer has no match, which subscribers see as the explicit
// no-match snapshot. The timer read goes through expiry repair.
func (a *App) GetMatchByTimer(ctx context.Context, timerID uuid.UUID) (*models.Match, error) {
	t, err := a.GetTimer(ctx, timerID)
	if err != nil {
		return nil, err
	}
	if t.MatchID == nil {
		return nil, nil
	}
	return a.repo.GetMatch(ctx, *t.MatchID)
}

// GetTimerByMatch resolves the timer a match is attached to.
func (a *App) GetTimerByMatch(ctx context.Context, matchID uuid.UUID) (*models.Timer, error) {
	return a.repo.GetTimerByMatch(ctx, matchID)
}

// CreateMatch stores a match. Matches are administered elsewhere; this exists
// so deployments without the full admin stack can seed data.
func (a *App) CreateMatch(ctx context.Context, m *models.Match) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	sortPlayers(m.Players)
	return a.repo.CreateMatch(ctx, m)
}

// UpdateMatch edits a match. A change notifies the attached timer's match
// subscribers; a save with identical values notifies nobody.
func (a *App) UpdateMatch(ctx context.Context, id uuid.UUID, req UpdateMatchRequest) (*models.Match, error) {
	m, err := a.repo.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	old := m.Clone()

	if req.Tournament != nil {
		m.Tournament = *req.Tournament
	}
	if req.Number != nil {
		m.Number = *req.Number
	}
	if req.Round != nil {
		m.Round = *req.Round
	}
	if req.Field != nil {
		m.Field = *req.Field
	}
	if req.Schedule != nil {
		m.Schedule = *req.Schedule
	}
	if req.ClearActual {
		m.Actual = nil
	} else if req.Actual != nil {
		t := *req.Actual
		m.Actual = &t
	}

	if err := a.repo.UpdateMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("persist match: %w", err)
	}

	if matchesEqual(old, m) {
		return m, nil
	}
	if a.hooks != nil {
		a.hooks.MatchSaved(ctx, m)
	}
	return m, nil
}

func sortStages(stages []models.TimerStage) {
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Trigger < stages[j].Trigger
	})
}

func sortPlayers(players []models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Station < players[j].Station
	})
}

func durationPtrEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func profilesEqual(a, b *models.TimerProfile) bool {
	if a.Name != b.Name ||
		a.Duration != b.Duration ||
		a.Format != b.Format ||
		a.PrestartCSS != b.PrestartCSS ||
		a.StartCSS != b.StartCSS ||
		!durationPtrEqual(a.StartDisplay, b.StartDisplay) ||
		a.StartSound != b.StartSound ||
		a.EndCSS != b.EndCSS ||
		a.EndSound != b.EndSound ||
		a.AbortSound != b.AbortSound ||
		len(a.Stages) != len(b.Stages) {
		return false
	}
	for i := range a.Stages {
		sa, sb := a.Stages[i], b.Stages[i]
		if sa.Trigger != sb.Trigger ||
			sa.CSS != sb.CSS ||
			!durationPtrEqual(sa.Display, sb.Display) ||
			sa.Sound != sb.Sound {
			return false
		}
	}
	return true
}

func matchesEqual(a, b *models.Match) bool {
	if a.Tournament != b.Tournament ||
		a.Number != b.Number ||
		a.Round != b.Round ||
		a.Field != b.Field ||
		!a.Schedule.Equal(b.Schedule) {
		return false
	}
	if (a.Actual == nil) != (b.Actual == nil) {
		return false
	}
	if a.Actual != nil && !a.Actual.Equal(*b.Actual) {
		return false
	}
	return true
}
