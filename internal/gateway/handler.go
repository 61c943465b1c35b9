package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openfll/fms/internal/auth"
	"github.com/openfll/fms/internal/models"
	"github.com/openfll/fms/internal/timer"
)

// SnapshotProvider supplies current entity values for snapshot payloads.
// Implemented by the timer App, so timer reads go through expiry repair.
type SnapshotProvider interface {
	GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error)
	GetProfileByTimer(ctx context.Context, timerID uuid.UUID) (*models.TimerProfile, error)
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	GetMatchByTimer(ctx context.Context, timerID uuid.UUID) (*models.Match, error)
	GetTimerByMatch(ctx context.Context, matchID uuid.UUID) (*models.Timer, error)
	ListTimersByProfile(ctx context.Context, profileID uuid.UUID) ([]models.Timer, error)
}

// Handler owns the timer control WebSocket endpoint: connection-time checks,
// per-message re-authorization, subscription requests and snapshot-on-join.
type Handler struct {
	provider    SnapshotProvider
	payloads    *PayloadBuilder
	broadcaster *Broadcaster
	authz       auth.Authorizer
	upgrader    websocket.Upgrader
	cfg         ConnectionConfig
}

// NewHandler creates the WebSocket handler.
func NewHandler(provider SnapshotProvider, payloads *PayloadBuilder, b *Broadcaster,
	authz auth.Authorizer, cfg ConnectionConfig) *Handler {
	return &Handler{
		provider:    provider,
		payloads:    payloads,
		broadcaster: b,
		authz:       authz,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg: cfg,
	}
}

// RegisterRoutes mounts the timer control route.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/websocket/timercontrol/{object_id}", h.serveTimerControl)
}

// subscribeRequest is the only inbound message shape. Anything else is
// ignored and the connection stays open.
type subscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (h *Handler) serveTimerControl(w http.ResponseWriter, r *http.Request) {
	subject, authErr := h.authz.Subject(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context dies with the HTTP handler once the socket is
	// hijacked; snapshot reads use their own context.
	ctx := context.Background()

	// Validate the timer first, then the session, mirroring the admin
	// surface's permission checks. Both failures are terminal for the
	// connection: close with the do-not-reopen code.
	id, err := uuid.Parse(mux.Vars(r)["object_id"])
	if err == nil {
		_, err = h.provider.GetTimer(ctx, id)
	}
	if err != nil {
		h.rejectSocket(ws, "unknown timer")
		return
	}
	if authErr != nil || !h.sessionValid(subject) {
		h.rejectSocket(ws, "unauthorized")
		return
	}

	c := newConn(ws, id, subject, h.cfg)
	h.broadcaster.Register(c)
	go c.writePump(h.broadcaster)

	log.Info().
		Str("timer_id", id.String()).
		Msg("timer control connection established")

	h.readPump(ctx, c)
}

// rejectSocket closes a just-upgraded socket with the do-not-reopen code
// before any pumps start.
func (h *Handler) rejectSocket(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CodeDoNotReopen, ""), deadline)
	ws.Close()
	log.Info().Str("reason", reason).Msg("timer control connection rejected")
}

// sessionValid re-checks the acting identity against live permission state.
// Keep the capability pair synchronized with the admin surface: operating a
// timer implies viewing it, and the profile payload needs profile read
// access.
func (h *Handler) sessionValid(subject string) bool {
	return h.authz.Can(subject, auth.CapOperateTimers, auth.CapViewProfiles)
}

// readPump processes inbound messages for one connection, strictly in
// arrival order. Authorization is re-validated on every message, not just at
// the handshake, so a revoked permission kicks the client on its next
// request rather than at reconnect.
func (h *Handler) readPump(ctx context.Context, c *Conn) {
	defer func() {
		h.broadcaster.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("timer control connection read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		if !h.sessionValid(c.subject) {
			c.forceClose(CodeDoNotReopen)
			return
		}
		h.handleMessage(ctx, c, data)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Conn, data []byte) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Debug().Str("timer_id", c.timerID.String()).Msg("ignoring malformed message")
		return
	}
	if req.Type != "subscribe" {
		return
	}
	topic, ok := ParseTopic(req.Channel)
	if !ok {
		log.Debug().
			Str("timer_id", c.timerID.String()).
			Str("channel", req.Channel).
			Msg("ignoring unknown subscription channel")
		return
	}

	h.broadcaster.Join(GroupKey{TimerID: c.timerID, Topic: topic}, c)
	h.sendSnapshot(ctx, c, topic)
}

// sendSnapshot delivers the current topic value to one connection, not the
// whole group. Subscribers always see a snapshot immediately on join.
func (h *Handler) sendSnapshot(ctx context.Context, c *Conn, topic Topic) {
	var (
		payload any
		err     error
	)
	switch topic {
	case TopicProfile:
		var p *models.TimerProfile
		if p, err = h.provider.GetProfileByTimer(ctx, c.timerID); err == nil {
			payload = h.payloads.Profile(p)
		}
	case TopicState:
		var t *models.Timer
		if t, err = h.provider.GetTimer(ctx, c.timerID); err == nil {
			payload = h.payloads.State(t)
		}
	case TopicMatch:
		var m *models.Match
		if m, err = h.provider.GetMatchByTimer(ctx, c.timerID); err == nil {
			payload = h.payloads.Match(m)
		}
	}
	if err != nil {
		// A concurrently deleted timer is torn down by Terminate; nothing
		// useful to send here.
		if !errors.Is(err, timer.ErrNotFound) {
			log.Error().Err(err).
				Str("timer_id", c.timerID.String()).
				Str("topic", string(topic)).
				Msg("failed to build subscribe snapshot")
		}
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal subscribe snapshot")
		return
	}
	c.enqueue(data)
}
