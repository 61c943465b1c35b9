package gateway_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfll/fms/internal/assets"
	"github.com/openfll/fms/internal/gateway"
	"github.com/openfll/fms/internal/models"
)

func newBuilder(clock clockwork.Clock) *gateway.PayloadBuilder {
	return gateway.NewPayloadBuilder(assets.StaticResolver{BaseURL: "/static/sounds"}, clock)
}

func TestProfilePayload(t *testing.T) {
	display := 30 * time.Second
	p := &models.TimerProfile{
		ID:          uuid.New(),
		Name:        "standard match",
		Duration:    150 * time.Second,
		Format:      models.FormatMinutes,
		PrestartCSS: "timerwaiting",
		StartCSS:    "timerstarted",
		StartSound:  "charge.wav",
		EndCSS:      "timerended",
		EndSound:    "buzzer.wav",
		AbortSound:  "foghorn.wav",
		Stages: []models.TimerStage{
			{Trigger: 120 * time.Second, CSS: "endgame", Display: &display, Sound: "whistle.wav"},
		},
	}

	got := newBuilder(clockwork.NewFakeClock()).Profile(p)
	assert.Equal(t, "profile", got.Type)
	assert.Equal(t, int64(150_000_000), got.Duration)
	assert.Equal(t, "minutes", got.Format)
	assert.Equal(t, "/static/sounds/charge.wav", got.StartSound)
	assert.Equal(t, "/static/sounds/buzzer.wav", got.EndSound)
	assert.Equal(t, "/static/sounds/foghorn.wav", got.AbortSound)
	assert.Nil(t, got.Display)

	require.Len(t, got.Stages, 1)
	assert.Equal(t, int64(120_000_000), got.Stages[0].Trigger)
	assert.Equal(t, "endgame", got.Stages[0].CSS)
	require.NotNil(t, got.Stages[0].Display)
	assert.Equal(t, int64(30_000_000), *got.Stages[0].Display)
	assert.Equal(t, "/static/sounds/whistle.wav", got.Stages[0].Sound)
}

func TestProfilePayloadEmptySoundStaysEmpty(t *testing.T) {
	p := &models.TimerProfile{Duration: time.Minute}
	got := newBuilder(clockwork.NewFakeClock()).Profile(p)
	assert.Empty(t, got.StartSound)
	assert.Empty(t, got.EndSound)
	assert.Empty(t, got.AbortSound)
}

func TestStatePayloadElapsedOnlyWhileRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newBuilder(clock)

	idle := &models.Timer{State: models.TimerPrestart}
	got := b.State(idle)
	assert.Equal(t, "state", got.Type)
	assert.Equal(t, models.TimerPrestart, got.State)
	assert.Nil(t, got.Elapsed)

	running := &models.Timer{State: models.TimerStart, StartTime: clock.Now()}
	clock.Advance(42 * time.Second)
	got = b.State(running)
	require.NotNil(t, got.Elapsed)
	assert.Equal(t, int64(42_000_000), *got.Elapsed)

	// Elapsed must be absent from the wire for non-running states, not a
	// zero value clients could mistake for a fresh start.
	data, err := json.Marshal(b.State(idle))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "elapsed")
}

func TestMatchPayload(t *testing.T) {
	m := &models.Match{
		ID:         uuid.New(),
		Tournament: "qual",
		Number:     17,
		Field:      "A",
		Players: []models.Player{
			{Station: "blue1", Team: models.Team{Number: 254, Name: "Robowranglers"}},
			{Station: "red1", Team: models.Team{Number: 1114, Name: "Simbotics", DQ: true}},
		},
	}

	got := newBuilder(clockwork.NewFakeClock()).Match(m)
	assert.Equal(t, "match", got.Type)
	assert.False(t, got.None)
	assert.Equal(t, 17, got.Number)
	assert.Equal(t, "qual.17", got.Title)
	assert.Equal(t, "A", got.Field)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "blue1", got.Players[0].Station)
	assert.Equal(t, 254, got.Players[0].Number)
	assert.True(t, got.Players[1].DQ)
}

func TestMatchPayloadNoneVariant(t *testing.T) {
	got := newBuilder(clockwork.NewFakeClock()).Match(nil)
	assert.True(t, got.None)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"match","none":true}`, string(data))
}
