package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerState is the lifecycle state of a field timer.
type TimerState string

const (
	TimerPrestart TimerState = "PRESTART"
	TimerStart    TimerState = "START"
	TimerEnd      TimerState = "END"
	TimerAbort    TimerState = "ABORT"
)

// Timer drives the countdown for one field station. A timer always
// references a profile and optionally holds exactly one match; the
// one-timer-per-match rule is enforced by the repository.
type Timer struct {
	ID        uuid.UUID
	Name      string
	ProfileID uuid.UUID
	MatchID   *uuid.UUID
	StartTime time.Time // zero until the timer is first started
	State     TimerState
}

// Running reports whether the timer is currently counting down.
func (t *Timer) Running() bool {
	return t.State == TimerStart
}

// Clone returns a deep copy of the timer.
func (t *Timer) Clone() *Timer {
	out := *t
	if t.MatchID != nil {
		id := *t.MatchID
		out.MatchID = &id
	}
	return &out
}
