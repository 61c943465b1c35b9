package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerFormat selects how the countdown is rendered on displays.
type TimerFormat string

const (
	FormatSeconds TimerFormat = "seconds"
	FormatMinutes TimerFormat = "minutes"
)

// TimerProfile is a reusable countdown configuration shared by any number
// of timers. Presentation fields are per lifecycle phase; sound fields hold
// static-asset references resolved at broadcast time.
type TimerProfile struct {
	ID       uuid.UUID
	Name     string
	Duration time.Duration
	Format   TimerFormat

	PrestartCSS string

	StartCSS     string
	StartDisplay *time.Duration // countdown-from override, nil to count from Duration
	StartSound   string

	EndCSS   string
	EndSound string

	AbortSound string

	// Stages are kept sorted by (Trigger, insertion order).
	Stages []TimerStage
}

// TimerStage fires presentation changes at an offset within a run.
type TimerStage struct {
	Trigger time.Duration
	CSS     string
	Display *time.Duration
	Sound   string
}

// Clone returns a deep copy of the profile including its stages.
func (p *TimerProfile) Clone() *TimerProfile {
	out := *p
	if p.StartDisplay != nil {
		d := *p.StartDisplay
		out.StartDisplay = &d
	}
	out.Stages = make([]TimerStage, len(p.Stages))
	for i, s := range p.Stages {
		out.Stages[i] = s
		if s.Display != nil {
			d := *s.Display
			out.Stages[i].Display = &d
		}
	}
	return &out
}
