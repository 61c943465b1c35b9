package timer

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/sqlutil"
)

//go:embed schema.sql
var schema string

// PostgresRepository implements Repository over database/sql with lib/pq.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the timer tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// mapError translates driver errors into the domain taxonomy.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			if pqErr.Constraint == "timers_match_id_key" {
				return ErrMatchAttached
			}
		case pqForeignKeyViolation:
			if pqErr.Table == "timers" && pqErr.Constraint == "timers_profile_id_fkey" {
				return ErrProfileInUse
			}
		}
	}
	return err
}

func (r *PostgresRepository) CreateTimer(ctx context.Context, t *models.Timer) error {
	const q = `
		INSERT INTO timers (id, name, profile_id, match_id, start_time, state)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.Name, t.ProfileID,
		sqlutil.ToNullUUID(t.MatchID),
		sqlutil.ToNullTime(t.StartTime),
		string(t.State),
	)
	if err != nil {
		return fmt.Errorf("create timer: %w", mapError(err))
	}
	return nil
}

func (r *PostgresRepository) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	const q = `
		SELECT id, name, profile_id, match_id, start_time, state
		FROM timers WHERE id = $1`
	return r.scanTimer(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepository) GetTimerByMatch(ctx context.Context, matchID uuid.UUID) (*models.Timer, error) {
	const q = `
		SELECT id, name, profile_id, match_id, start_time, state
		FROM timers WHERE match_id = $1`
	return r.scanTimer(r.db.QueryRowContext(ctx, q, matchID))
}

func (r *PostgresRepository) ListTimers(ctx context.Context) ([]models.Timer, error) {
	const q = `
		SELECT id, name, profile_id, match_id, start_time, state
		FROM timers ORDER BY name, id`
	return r.queryTimers(ctx, q)
}

func (r *PostgresRepository) ListTimersByProfile(ctx context.Context, profileID uuid.UUID) ([]models.Timer, error) {
	const q = `
		SELECT id, name, profile_id, match_id, start_time, state
		FROM timers WHERE profile_id = $1 ORDER BY name, id`
	return r.queryTimers(ctx, q, profileID)
}

func (r *PostgresRepository) UpdateTimer(ctx context.Context, t *models.Timer) error {
	const q = `
		UPDATE timers
		SET name = $2, profile_id = $3, match_id = $4, start_time = $5, state = $6
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q,
		t.ID, t.Name, t.ProfileID,
		sqlutil.ToNullUUID(t.MatchID),
		sqlutil.ToNullTime(t.StartTime),
		string(t.State),
	)
	if err != nil {
		return fmt.Errorf("update timer: %w", mapError(err))
	}
	return requireRow(res, t.ID)
}

func (r *PostgresRepository) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timer: %w", mapError(err))
	}
	return requireRow(res, id)
}

func (r *PostgresRepository) scanTimer(row *sql.Row) (*models.Timer, error) {
	var (
		t         models.Timer
		matchID   uuid.NullUUID
		startTime sql.NullTime
		state     string
	)
	err := row.Scan(&t.ID, &t.Name, &t.ProfileID, &matchID, &startTime, &state)
	if err != nil {
		return nil, fmt.Errorf("scan timer: %w", mapError(err))
	}
	t.MatchID = sqlutil.FromNullUUID(matchID)
	t.StartTime = sqlutil.FromNullTime(startTime)
	t.State = models.TimerState(state)
	return &t, nil
}

func (r *PostgresRepository) queryTimers(ctx context.Context, q string, args ...any) ([]models.Timer, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.Timer
	for rows.Next() {
		var (
			t         models.Timer
			matchID   uuid.NullUUID
			startTime sql.NullTime
			state     string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.ProfileID, &matchID, &startTime, &state); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		t.MatchID = sqlutil.FromNullUUID(matchID)
		t.StartTime = sqlutil.FromNullTime(startTime)
		t.State = models.TimerState(state)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateProfile(ctx context.Context, p *models.TimerProfile) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO timer_profiles (id, name, duration_us, format, prestart_css,
				start_css, start_display_us, start_sound, end_css, end_sound, abort_sound)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := tx.ExecContext(ctx, q,
			p.ID, p.Name, sqlutil.DurationUS(p.Duration), string(p.Format), p.PrestartCSS,
			p.StartCSS, sqlutil.ToNullDurationUS(p.StartDisplay), p.StartSound,
			p.EndCSS, p.EndSound, p.AbortSound,
		)
		if err != nil {
			return fmt.Errorf("create profile: %w", mapError(err))
		}
		return insertStages(ctx, tx, p.ID, p.Stages)
	})
}

func (r *PostgresRepository) GetProfile(ctx context.Context, id uuid.UUID) (*models.TimerProfile, error) {
	const q = `
		SELECT id, name, duration_us, format, prestart_css, start_css,
			start_display_us, start_sound, end_css, end_sound, abort_sound
		FROM timer_profiles WHERE id = $1`
	return r.loadProfile(ctx, r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepository) GetProfileByTimer(ctx context.Context, timerID uuid.UUID) (*models.TimerProfile, error) {
	const q = `
		SELECT p.id, p.name, p.duration_us, p.format, p.prestart_css, p.start_css,
			p.start_display_us, p.start_sound, p.end_css, p.end_sound, p.abort_sound
		FROM timer_profiles p JOIN timers t ON t.profile_id = p.id
		WHERE t.id = $1`
	return r.loadProfile(ctx, r.db.QueryRowContext(ctx, q, timerID))
}

func (r *PostgresRepository) loadProfile(ctx context.Context, row *sql.Row) (*models.TimerProfile, error) {
	var (
		p            models.TimerProfile
		durationUS   int64
		format       string
		startDisplay sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &durationUS, &format, &p.PrestartCSS, &p.StartCSS,
		&startDisplay, &p.StartSound, &p.EndCSS, &p.EndSound, &p.AbortSound)
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", mapError(err))
	}
	p.Duration = sqlutil.FromDurationUS(durationUS)
	p.Format = models.TimerFormat(format)
	p.StartDisplay = sqlutil.FromNullDurationUS(startDisplay)

	stages, err := r.loadStages(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Stages = stages
	return &p, nil
}

func (r *PostgresRepository) loadStages(ctx context.Context, profileID uuid.UUID) ([]models.TimerStage, error) {
	const q = `
		SELECT trigger_us, css, display_us, sound
		FROM timer_stages WHERE profile_id = $1
		ORDER BY trigger_us, position`
	rows, err := r.db.QueryContext(ctx, q, profileID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var out []models.TimerStage
	for rows.Next() {
		var (
			s         models.TimerStage
			triggerUS int64
			displayUS sql.NullInt64
		)
		if err := rows.Scan(&triggerUS, &s.CSS, &displayUS, &s.Sound); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		s.Trigger = sqlutil.FromDurationUS(triggerUS)
		s.Display = sqlutil.FromNullDurationUS(displayUS)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateProfile rewrites the profile row and replaces its stage list in one
// transaction.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, p *models.TimerProfile) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const q = `
			UPDATE timer_profiles
			SET name = $2, duration_us = $3, format = $4, prestart_css = $5,
				start_css = $6, start_display_us = $7, start_sound = $8,
				end_css = $9, end_sound = $10, abort_sound = $11
			WHERE id = $1`
		res, err := tx.ExecContext(ctx, q,
			p.ID, p.Name, sqlutil.DurationUS(p.Duration), string(p.Format), p.PrestartCSS,
			p.StartCSS, sqlutil.ToNullDurationUS(p.StartDisplay), p.StartSound,
			p.EndCSS, p.EndSound, p.AbortSound,
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", mapError(err))
		}
		if err := requireRow(res, p.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM timer_stages WHERE profile_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}
		return insertStages(ctx, tx, p.ID, p.Stages)
	})
}

func (r *PostgresRepository) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM timer_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", mapError(err))
	}
	return requireRow(res, id)
}

func insertStages(ctx context.Context, tx *sql.Tx, profileID uuid.UUID, stages []models.TimerStage) error {
	const q = `
		INSERT INTO timer_stages (profile_id, position, trigger_us, css, display_us, sound)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i, s := range stages {
		_, err := tx.ExecContext(ctx, q,
			profileID, i, sqlutil.DurationUS(s.Trigger), s.CSS,
			sqlutil.ToNullDurationUS(s.Display), s.Sound,
		)
		if err != nil {
			return fmt.Errorf("insert stage %d: %w", i, err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateMatch(ctx context.Context, m *models.Match) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO matches (id, tournament, number, round, field, schedule, actual)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.Tournament, m.Number, m.Round, m.Field,
			m.Schedule, sqlutil.ToNullTimePtr(m.Actual),
		)
		if err != nil {
			return fmt.Errorf("create match: %w", mapError(err))
		}
		return insertPlayers(ctx, tx, m.ID, m.Players)
	})
}

func (r *PostgresRepository) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	const q = `
		SELECT id, tournament, number, round, field, schedule, actual
		FROM matches WHERE id = $1`
	var (
		m      models.Match
		actual sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&m.ID, &m.Tournament, &m.Number, &m.Round, &m.Field, &m.Schedule, &actual)
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", mapError(err))
	}
	m.Actual = sqlutil.FromNullTimePtr(actual)

	players, err := r.loadPlayers(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Players = players
	return &m, nil
}

func (r *PostgresRepository) loadPlayers(ctx context.Context, matchID uuid.UUID) ([]models.Player, error) {
	const q = `
		SELECT pl.station, pl.surrogate, tm.number, tm.name, tm.dq
		FROM players pl JOIN teams tm ON tm.id = pl.team_id
		WHERE pl.match_id = $1
		ORDER BY pl.station`
	rows, err := r.db.QueryContext(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var out []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.Station, &p.Surrogate, &p.Team.Number, &p.Team.Name, &p.Team.DQ); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateMatch rewrites the match row. Player assignments are managed by the
// scheduling surface, not here.
func (r *PostgresRepository) UpdateMatch(ctx context.Context, m *models.Match) error {
	const q = `
		UPDATE matches
		SET tournament = $2, number = $3, round = $4, field = $5, schedule = $6, actual = $7
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q,
		m.ID, m.Tournament, m.Number, m.Round, m.Field,
		m.Schedule, sqlutil.ToNullTimePtr(m.Actual),
	)
	if err != nil {
		return fmt.Errorf("update match: %w", mapError(err))
	}
	return requireRow(res, m.ID)
}

func insertPlayers(ctx context.Context, tx *sql.Tx, matchID uuid.UUID, players []models.Player) error {
	for _, p := range players {
		var teamID uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT id FROM teams WHERE number = $1`, p.Team.Number).Scan(&teamID)
		if errors.Is(err, sql.ErrNoRows) {
			teamID = uuid.New()
			_, err = tx.ExecContext(ctx,
				`INSERT INTO teams (id, number, name, dq) VALUES ($1, $2, $3, $4)`,
				teamID, p.Team.Number, p.Team.Name, p.Team.DQ)
		}
		if err != nil {
			return fmt.Errorf("resolve team %d: %w", p.Team.Number, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO players (match_id, team_id, station, surrogate) VALUES ($1, $2, $3, $4)`,
			matchID, teamID, p.Station, p.Surrogate)
		if err != nil {
			return fmt.Errorf("insert player at %s: %w", p.Station, err)
		}
	}
	return nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
