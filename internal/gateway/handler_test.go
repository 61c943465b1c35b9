package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfll/fms/internal/assets"
	"github.com/openfll/fms/internal/auth"
	"github.com/openfll/fms/internal/gateway"
	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/timer"
	"github.com/openfll/fms/internal/timer/diffcache"
)

const operatorToken = "operator-token"

// gwFixture wires the full update path end to end: app, reactor,
// broadcaster and WebSocket handler behind a test HTTP server.
type gwFixture struct {
	app     *timer.App
	clock   *clockwork.FakeClock
	authz   *auth.StaticAuthorizer
	server  *httptest.Server
	profile *models.TimerProfile
	timer   *models.Timer
}

func newGwFixture(t *testing.T) *gwFixture {
	t.Helper()
	ctx := context.Background()

	clock := clockwork.NewFakeClock()
	app := timer.NewApp(timer.NewMemoryRepository(), diffcache.New(), clock)

	metrics := gateway.NewMetrics(prometheus.NewRegistry())
	broadcaster := gateway.NewBroadcaster(metrics)
	payloads := gateway.NewPayloadBuilder(assets.StaticResolver{BaseURL: "/static/sounds"}, clock)
	app.SetHooks(gateway.NewReactor(broadcaster, app, payloads))

	authz := auth.NewStaticAuthorizer()
	authz.Grant(operatorToken, auth.CapOperateTimers, auth.CapViewProfiles)

	handler := gateway.NewHandler(app, payloads, broadcaster, authz,
		gateway.DefaultConnectionConfig())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	p, err := app.CreateProfile(ctx, timer.CreateProfileRequest{
		Name:     "standard",
		Duration: 150 * time.Second,
		EndSound: "buzzer.wav",
	})
	require.NoError(t, err)
	tm, err := app.CreateTimer(ctx, timer.CreateTimerRequest{
		Name:      "Field 1",
		ProfileID: p.ID,
	})
	require.NoError(t, err)

	return &gwFixture{
		app:     app,
		clock:   clock,
		authz:   authz,
		server:  server,
		profile: p,
		timer:   tm,
	}
}

func (f *gwFixture) wsURL(objectID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/websocket/timercontrol/" + objectID
}

// dial opens a timer control connection with the operator bearer token.
func (f *gwFixture) dial(t *testing.T, objectID string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": {"Bearer " + operatorToken}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(objectID), header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channel string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{
		"type":    "subscribe",
		"channel": channel,
	}))
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func expectNoMessage(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok, "expected read timeout, got %v", err)
	assert.True(t, netErr.Timeout(), "expected read timeout, got %v", err)
}

func expectDoNotReopen(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		assert.Equal(t, gateway.CodeDoNotReopen, closeErr.Code)
		return
	}
}

func TestConnectUnknownTimer(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, uuid.NewString())
	expectDoNotReopen(t, ws)
}

func TestConnectMalformedTimerID(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, "not-a-uuid")
	expectDoNotReopen(t, ws)
}

func TestConnectWithoutCredentials(t *testing.T) {
	f := newGwFixture(t)
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(f.timer.ID.String()), nil)
	require.NoError(t, err)
	defer ws.Close()
	expectDoNotReopen(t, ws)
}

func TestConnectUnknownToken(t *testing.T) {
	f := newGwFixture(t)
	header := http.Header{"Authorization": {"Bearer stranger"}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(f.timer.ID.String()), header)
	require.NoError(t, err)
	defer ws.Close()
	expectDoNotReopen(t, ws)
}

func TestTokenViaQueryParam(t *testing.T) {
	f := newGwFixture(t)
	ws, _, err := websocket.DefaultDialer.Dial(
		f.wsURL(f.timer.ID.String())+"?token="+operatorToken, nil)
	require.NoError(t, err)
	defer ws.Close()

	subscribe(t, ws, "state")
	msg := readJSON(t, ws)
	assert.Equal(t, "state", msg["type"])
}

func TestSubscribeSnapshots(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "state")
	msg := readJSON(t, ws)
	assert.Equal(t, "state", msg["type"])
	assert.Equal(t, "PRESTART", msg["state"])
	assert.NotContains(t, msg, "elapsed")

	subscribe(t, ws, "profile")
	msg = readJSON(t, ws)
	assert.Equal(t, "profile", msg["type"])
	assert.Equal(t, float64(150_000_000), msg["duration"])
	assert.Equal(t, "/static/sounds/buzzer.wav", msg["endsound"])

	subscribe(t, ws, "match")
	msg = readJSON(t, ws)
	assert.Equal(t, "match", msg["type"])
	assert.Equal(t, true, msg["none"])
}

func TestStartBroadcastsState(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "state")
	readJSON(t, ws) // snapshot

	_, err := f.app.ApplyTransition(context.Background(), f.timer.ID, timer.ActionStart)
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, "state", msg["type"])
	assert.Equal(t, "START", msg["state"])
	assert.Contains(t, msg, "elapsed")
	assert.Equal(t, float64(0), msg["elapsed"])
}

func TestExpiryBroadcastsEnd(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())
	ctx := context.Background()

	subscribe(t, ws, "state")
	readJSON(t, ws)

	_, err := f.app.ApplyTransition(ctx, f.timer.ID, timer.ActionStart)
	require.NoError(t, err)
	readJSON(t, ws)

	// Nothing runs in the background: the overrun timer lapses when the
	// next read touches it, and subscribers hear about it then.
	f.clock.Advance(151 * time.Second)
	_, err = f.app.GetTimer(ctx, f.timer.ID)
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, "state", msg["type"])
	assert.Equal(t, "END", msg["state"])
	assert.NotContains(t, msg, "elapsed")
}

func TestProfileEditBroadcasts(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "profile")
	readJSON(t, ws)

	duration := 3 * time.Minute
	_, err := f.app.UpdateProfile(context.Background(), f.profile.ID,
		timer.UpdateProfileRequest{Duration: &duration})
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, "profile", msg["type"])
	assert.Equal(t, float64(180_000_000), msg["duration"])
}

func TestProfileReassignmentBroadcasts(t *testing.T) {
	f := newGwFixture(t)
	ctx := context.Background()
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "profile")
	readJSON(t, ws)

	other, err := f.app.CreateProfile(ctx, timer.CreateProfileRequest{
		Name:     "practice",
		Duration: 5 * time.Minute,
	})
	require.NoError(t, err)

	_, err = f.app.UpdateTimer(ctx, f.timer.ID, timer.UpdateTimerRequest{ProfileID: &other.ID})
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, "profile", msg["type"])
	assert.Equal(t, float64(300_000_000), msg["duration"])
}

func TestMatchLifecycleBroadcasts(t *testing.T) {
	f := newGwFixture(t)
	ctx := context.Background()
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "match")
	msg := readJSON(t, ws)
	assert.Equal(t, true, msg["none"])

	m := &models.Match{
		Tournament: "qual",
		Number:     17,
		Round:      1,
		Field:      "A",
		Schedule:   f.clock.Now(),
		Players: []models.Player{
			{Station: "red1", Team: models.Team{Number: 1114, Name: "Simbotics"}},
		},
	}
	require.NoError(t, f.app.CreateMatch(ctx, m))

	// Attach: match topic refreshes with the match content.
	_, err := f.app.UpdateTimer(ctx, f.timer.ID, timer.UpdateTimerRequest{MatchID: &m.ID})
	require.NoError(t, err)
	msg = readJSON(t, ws)
	assert.Equal(t, "qual.17", msg["title"])
	assert.Equal(t, float64(17), msg["number"])

	// Editing the match itself notifies via the attached timer.
	field := "B"
	_, err = f.app.UpdateMatch(ctx, m.ID, timer.UpdateMatchRequest{Field: &field})
	require.NoError(t, err)
	msg = readJSON(t, ws)
	assert.Equal(t, "B", msg["field"])

	// Detach: subscribers get the explicit no-match variant.
	_, err = f.app.UpdateTimer(ctx, f.timer.ID, timer.UpdateTimerRequest{ClearMatch: true})
	require.NoError(t, err)
	msg = readJSON(t, ws)
	assert.Equal(t, true, msg["none"])
}

func TestMatchEditWithoutTimerIsSilent(t *testing.T) {
	f := newGwFixture(t)
	ctx := context.Background()
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "match")
	readJSON(t, ws)

	m := &models.Match{Tournament: "qual", Number: 3, Schedule: f.clock.Now()}
	require.NoError(t, f.app.CreateMatch(ctx, m))
	field := "C"
	_, err := f.app.UpdateMatch(ctx, m.ID, timer.UpdateMatchRequest{Field: &field})
	require.NoError(t, err)

	expectNoMessage(t, ws)
}

func TestDuplicateSubscribeDeliversOnce(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	// Each subscribe request answers with a snapshot, but group membership
	// stays single: one broadcast, one frame.
	subscribe(t, ws, "state")
	readJSON(t, ws)
	subscribe(t, ws, "state")
	readJSON(t, ws)

	_, err := f.app.ApplyTransition(context.Background(), f.timer.ID, timer.ActionStart)
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, "START", msg["state"])
	expectNoMessage(t, ws)
}

func TestUnsubscribedTopicIsSilent(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "match")
	readJSON(t, ws)

	_, err := f.app.ApplyTransition(context.Background(), f.timer.ID, timer.ActionStart)
	require.NoError(t, err)

	expectNoMessage(t, ws)
}

func TestOtherTimerSubscribersNotNotified(t *testing.T) {
	f := newGwFixture(t)
	ctx := context.Background()

	other, err := f.app.CreateTimer(ctx, timer.CreateTimerRequest{
		Name:      "Field 2",
		ProfileID: f.profile.ID,
	})
	require.NoError(t, err)

	ws := f.dial(t, other.ID.String())
	subscribe(t, ws, "state")
	readJSON(t, ws)

	_, err = f.app.ApplyTransition(ctx, f.timer.ID, timer.ActionStart)
	require.NoError(t, err)

	expectNoMessage(t, ws)
}

func TestDeleteTerminatesSubscribers(t *testing.T) {
	f := newGwFixture(t)
	ctx := context.Background()

	sockets := make([]*websocket.Conn, 0, 3)
	for _, channel := range []string{"state", "profile", "match"} {
		ws := f.dial(t, f.timer.ID.String())
		subscribe(t, ws, channel)
		readJSON(t, ws)
		sockets = append(sockets, ws)
	}

	require.NoError(t, f.app.DeleteTimer(ctx, f.timer.ID))

	for _, ws := range sockets {
		expectDoNotReopen(t, ws)
	}
}

func TestRevokedMidConnection(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	subscribe(t, ws, "state")
	readJSON(t, ws)

	// The next message after revocation is re-authorized and fails.
	f.authz.Revoke(operatorToken, auth.CapOperateTimers)
	subscribe(t, ws, "state")
	expectDoNotReopen(t, ws)
}

func TestMalformedMessagesIgnored(t *testing.T) {
	f := newGwFixture(t)
	ws := f.dial(t, f.timer.ID.String())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "frobnicate"}))
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": "scores"}))

	// The connection survives and still serves valid requests.
	subscribe(t, ws, "state")
	msg := readJSON(t, ws)
	assert.Equal(t, "state", msg["type"])
}
