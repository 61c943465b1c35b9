package timer

import (
	"time"

	"github.com/google/uuid"

	"github.com/openfll/fms/internal/models"
)

// Action is an operator request against the timer state machine.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionAbort Action = "abort"
	ActionReset Action = "reset"
)

// CreateTimerRequest creates a new timer in PRESTART.
type CreateTimerRequest struct {
	Name      string
	ProfileID uuid.UUID
	MatchID   *uuid.UUID
}

// UpdateTimerRequest edits timer fields. Nil fields are left untouched;
// ClearMatch detaches the match regardless of MatchID.
type UpdateTimerRequest struct {
	Name       *string
	ProfileID  *uuid.UUID
	MatchID    *uuid.UUID
	ClearMatch bool
}

// CreateProfileRequest creates a reusable countdown configuration.
type CreateProfileRequest struct {
	Name     string
	Duration time.Duration
	Format   models.TimerFormat

	PrestartCSS string

	StartCSS     string
	StartDisplay *time.Duration
	StartSound   string

	EndCSS   string
	EndSound string

	AbortSound string

	Stages []models.TimerStage
}

// UpdateProfileRequest edits profile fields. Nil fields are left untouched;
// Stages, when set, replaces the whole stage list.
type UpdateProfileRequest struct {
	Name     *string
	Duration *time.Duration
	Format   *models.TimerFormat

	PrestartCSS *string

	StartCSS          *string
	StartDisplay      *time.Duration
	ClearStartDisplay bool
	StartSound        *string

	EndCSS   *string
	EndSound *string

	AbortSound *string

	Stages *[]models.TimerStage
}

// UpdateMatchRequest edits the timer-relevant fields of a match.
type UpdateMatchRequest struct {
	Tournament  *string
	Number      *int
	Round       *int
	Field       *string
	Schedule    *time.Time
	Actual      *time.Time
	ClearActual bool
}
