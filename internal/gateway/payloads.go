package gateway

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openfll/fms/internal/assets"
	"github.com/openfll/fms/internal/models"
)

// Snapshot payloads carry full current values; clients replace rather than
// patch. All durations are integer microseconds.

// ProfilePayload is the profile topic snapshot.
type ProfilePayload struct {
	Type     string `json:"type"`
	Duration int64  `json:"duration"`
	Format   string `json:"format"`

	PrestartCSS string `json:"prestartcss"`

	StartCSS   string `json:"startcss"`
	Display    *int64 `json:"display"`
	StartSound string `json:"startsound"`

	EndCSS   string `json:"endcss"`
	EndSound string `json:"endsound"`

	AbortSound string `json:"abortsound"`

	Stages []StagePayload `json:"stages"`
}

// StagePayload is one intra-run stage trigger within a profile snapshot.
type StagePayload struct {
	Trigger int64  `json:"trigger"`
	CSS     string `json:"css"`
	Display *int64 `json:"display"`
	Sound   string `json:"sound"`
}

// StatePayload is the state topic snapshot. Elapsed is present only while
// the timer is running.
type StatePayload struct {
	Type    string            `json:"type"`
	State   models.TimerState `json:"state"`
	Elapsed *int64            `json:"elapsed,omitempty"`
}

// MatchPayload is the match topic snapshot. None set (with everything else
// absent) is the explicit "no match attached" variant, distinct from a
// missed or pending update.
type MatchPayload struct {
	Type    string          `json:"type"`
	None    bool            `json:"none,omitempty"`
	Number  int             `json:"number,omitempty"`
	Title   string          `json:"title,omitempty"`
	Field   string          `json:"field,omitempty"`
	Players []PlayerPayload `json:"players,omitempty"`
}

// PlayerPayload is one station assignment within a match snapshot.
type PlayerPayload struct {
	Station string `json:"station"`
	Number  int    `json:"number"`
	Name    string `json:"name"`
	DQ      bool   `json:"dq"`
}

// PayloadBuilder renders snapshot payloads, resolving sound references to
// fetchable locators and deriving elapsed time from the injected clock.
type PayloadBuilder struct {
	sounds assets.Resolver
	clock  clockwork.Clock
}

// NewPayloadBuilder creates a payload builder.
func NewPayloadBuilder(sounds assets.Resolver, clock clockwork.Clock) *PayloadBuilder {
	return &PayloadBuilder{sounds: sounds, clock: clock}
}

// Profile renders the profile topic snapshot. Stages arrive pre-sorted from
// storage.
func (b *PayloadBuilder) Profile(p *models.TimerProfile) ProfilePayload {
	out := ProfilePayload{
		Type:        string(TopicProfile),
		Duration:    usec(p.Duration),
		Format:      string(p.Format),
		PrestartCSS: p.PrestartCSS,
		StartCSS:    p.StartCSS,
		Display:     usecPtr(p.StartDisplay),
		StartSound:  b.sounds.Sound(p.StartSound),
		EndCSS:      p.EndCSS,
		EndSound:    b.sounds.Sound(p.EndSound),
		AbortSound:  b.sounds.Sound(p.AbortSound),
		Stages:      make([]StagePayload, 0, len(p.Stages)),
	}
	for _, s := range p.Stages {
		out.Stages = append(out.Stages, StagePayload{
			Trigger: usec(s.Trigger),
			CSS:     s.CSS,
			Display: usecPtr(s.Display),
			Sound:   b.sounds.Sound(s.Sound),
		})
	}
	return out
}

// State renders the state topic snapshot.
func (b *PayloadBuilder) State(t *models.Timer) StatePayload {
	out := StatePayload{
		Type:  string(TopicState),
		State: t.State,
	}
	if t.Running() {
		elapsed := usec(b.clock.Since(t.StartTime))
		out.Elapsed = &elapsed
	}
	return out
}

// Match renders the match topic snapshot. A nil match produces the explicit
// no-match variant.
func (b *PayloadBuilder) Match(m *models.Match) MatchPayload {
	if m == nil {
		return MatchPayload{Type: string(TopicMatch), None: true}
	}
	out := MatchPayload{
		Type:    string(TopicMatch),
		Number:  m.Number,
		Title:   m.Title(),
		Field:   m.Field,
		Players: make([]PlayerPayload, 0, len(m.Players)),
	}
	for _, p := range m.Players {
		out.Players = append(out.Players, PlayerPayload{
			Station: p.Station,
			Number:  p.Team.Number,
			Name:    p.Team.Name,
			DQ:      p.Team.DQ,
		})
	}
	return out
}

func usec(d time.Duration) int64 {
	return d.Microseconds()
}

func usecPtr(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	us := d.Microseconds()
	return &us
}
