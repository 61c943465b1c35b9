package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Team plays matches and can be disqualified from the tournament.
type Team struct {
	Number int
	Name   string
	DQ     bool
}

// Player is a team occupying a station for one match.
type Player struct {
	Station   string
	Surrogate bool
	Team      Team
}

// Match is a scheduled pairing of teams on a field. Only its timer
// back-reference and display-relevant fields matter to the timer core;
// scheduling and scoring live behind their own services.
type Match struct {
	ID         uuid.UUID
	Tournament string
	Number     int
	Round      int
	Field      string
	Schedule   time.Time
	Actual     *time.Time

	// Players are kept ordered by station.
	Players []Player
}

// Title is the display name shown on timer screens.
func (m *Match) Title() string {
	return fmt.Sprintf("%s.%d", m.Tournament, m.Number)
}

// Clone returns a deep copy of the match.
func (m *Match) Clone() *Match {
	out := *m
	if m.Actual != nil {
		t := *m.Actual
		out.Actual = &t
	}
	out.Players = make([]Player, len(m.Players))
	copy(out.Players, m.Players)
	return &out
}
