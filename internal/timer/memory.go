package timer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openfll/fms/internal/models"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs the
// development server's default storage mode and the test suite.
type MemoryRepository struct {
	mu       sync.RWMutex
	timers   map[uuid.UUID]*models.Timer
	profiles map[uuid.UUID]*models.TimerProfile
	matches  map[uuid.UUID]*models.Match
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		timers:   make(map[uuid.UUID]*models.Timer),
		profiles: make(map[uuid.UUID]*models.TimerProfile),
		matches:  make(map[uuid.UUID]*models.Match),
	}
}

func (r *MemoryRepository) CreateTimer(ctx context.Context, t *models.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[t.ID]; ok {
		return fmt.Errorf("timer %s already exists", t.ID)
	}
	if err := r.checkMatchFreeLocked(t); err != nil {
		return err
	}
	r.timers[t.ID] = t.Clone()
	return nil
}

func (r *MemoryRepository) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.timers[id]
	if !ok {
		return nil, fmt.Errorf("timer %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) GetTimerByMatch(ctx context.Context, matchID uuid.UUID) (*models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.timers {
		if t.MatchID != nil && *t.MatchID == matchID {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("timer for match %s: %w", matchID, ErrNotFound)
}

func (r *MemoryRepository) ListTimers(ctx context.Context) ([]models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Timer, 0, len(r.timers))
	for _, t := range r.timers {
		out = append(out, *t.Clone())
	}
	return out, nil
}

func (r *MemoryRepository) ListTimersByProfile(ctx context.Context, profileID uuid.UUID) ([]models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Timer
	for _, t := range r.timers {
		if t.ProfileID == profileID {
			out = append(out, *t.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTimer(ctx context.Context, t *models.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[t.ID]; !ok {
		return fmt.Errorf("timer %s: %w", t.ID, ErrNotFound)
	}
	if err := r.checkMatchFreeLocked(t); err != nil {
		return err
	}
	r.timers[t.ID] = t.Clone()
	return nil
}

func (r *MemoryRepository) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[id]; !ok {
		return fmt.Errorf("timer %s: %w", id, ErrNotFound)
	}
	delete(r.timers, id)
	return nil
}

// checkMatchFreeLocked enforces the one-timer-per-match rule, mirroring the
// unique constraint the Postgres schema carries.
func (r *MemoryRepository) checkMatchFreeLocked(t *models.Timer) error {
	if t.MatchID == nil {
		return nil
	}
	for _, other := range r.timers {
		if other.ID == t.ID {
			continue
		}
		if other.MatchID != nil && *other.MatchID == *t.MatchID {
			return fmt.Errorf("match %s: %w", *t.MatchID, ErrMatchAttached)
		}
	}
	return nil
}

func (r *MemoryRepository) CreateProfile(ctx context.Context, p *models.TimerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.profiles {
		if other.Name == p.Name {
			return fmt.Errorf("profile name %q already exists", p.Name)
		}
	}
	r.profiles[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) GetProfile(ctx context.Context, id uuid.UUID) (*models.TimerProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) GetProfileByTimer(ctx context.Context, timerID uuid.UUID) (*models.TimerProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.timers[timerID]
	if !ok {
		return nil, fmt.Errorf("timer %s: %w", timerID, ErrNotFound)
	}
	p, ok := r.profiles[t.ProfileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", t.ProfileID, ErrNotFound)
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, p *models.TimerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; !ok {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
	}
	r.profiles[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	for _, t := range r.timers {
		if t.ProfileID == id {
			return fmt.Errorf("profile %s: %w", id, ErrProfileInUse)
		}
	}
	delete(r.profiles, id)
	return nil
}

func (r *MemoryRepository) CreateMatch(ctx context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.ID]; ok {
		return fmt.Errorf("match %s already exists", m.ID)
	}
	r.matches[m.ID] = m.Clone()
	return nil
}

func (r *MemoryRepository) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

func (r *MemoryRepository) UpdateMatch(ctx context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.ID]; !ok {
		return fmt.Errorf("match %s: %w", m.ID, ErrNotFound)
	}
	r.matches[m.ID] = m.Clone()
	return nil
}
