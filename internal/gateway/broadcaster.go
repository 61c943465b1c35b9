package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds WebSocket connection tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Displays connect from arbitrary origins on the venue network.
			return true
		},
	}
}

// outbound is one queued frame for a connection. A non-zero closeCode means
// "write a close frame with this code and stop".
type outbound struct {
	data      []byte
	closeCode int
}

// Conn is one live timer control connection. Its subscription handling is
// single-threaded: only its own read loop joins or leaves groups, so no
// connection-local locking is needed; the shared group registry in the
// Broadcaster carries the cross-connection synchronization.
type Conn struct {
	ws      *websocket.Conn
	timerID uuid.UUID
	subject string
	send    chan outbound
	cfg     ConnectionConfig

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, timerID uuid.UUID, subject string, cfg ConnectionConfig) *Conn {
	return &Conn{
		ws:      ws,
		timerID: timerID,
		subject: subject,
		send:    make(chan outbound, 256),
		cfg:     cfg,
	}
}

// enqueue queues a text frame. A connection too slow to drain its buffer is
// dropped rather than allowed to stall the publisher.
func (c *Conn) enqueue(data []byte) {
	select {
	case c.send <- outbound{data: data}:
	default:
		log.Warn().
			Str("timer_id", c.timerID.String()).
			Msg("connection send buffer full, dropping connection")
		c.ws.Close()
	}
}

// forceClose queues a close frame with the given code. Used for the
// do-not-reopen teardown paths.
func (c *Conn) forceClose(code int) {
	c.closeOnce.Do(func() {
		select {
		case c.send <- outbound{closeCode: code}:
		default:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, ""), deadline)
			c.ws.Close()
		}
	})
}

// writePump serializes all frames to the socket, interleaving keepalive
// pings. It exits on write error or after a queued close frame.
func (c *Conn) writePump(b *Broadcaster) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		b.Unregister(c)
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if msg.closeCode != 0 {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(msg.closeCode, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcaster is the shared fan-out medium: a registry of (timer, topic)
// groups and the connections joined to them. All methods are safe for
// concurrent use from independent connection tasks.
type Broadcaster struct {
	mu     sync.RWMutex
	groups map[GroupKey]map[*Conn]struct{}
	conns  map[*Conn]map[GroupKey]struct{}

	relay   *Relay
	metrics *Metrics
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		groups:  make(map[GroupKey]map[*Conn]struct{}),
		conns:   make(map[*Conn]map[GroupKey]struct{}),
		metrics: metrics,
	}
}

// SetRelay attaches a cross-process relay. Publishes and terminations are
// forwarded to it; it feeds remote events back via the local-only paths.
func (b *Broadcaster) SetRelay(r *Relay) {
	b.relay = r
}

// Register tracks a new connection.
func (b *Broadcaster) Register(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conns[c]; ok {
		return
	}
	b.conns[c] = make(map[GroupKey]struct{})
	b.metrics.connections.Inc()
}

// Unregister removes a connection from every group it joined. Idempotent;
// called from both pump teardown paths.
func (b *Broadcaster) Unregister(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys, ok := b.conns[c]
	if !ok {
		return
	}
	for key := range keys {
		b.leaveLocked(key, c)
	}
	delete(b.conns, c)
	b.metrics.connections.Dec()
}

// Join adds a connection to a group. Joining a group twice is a no-op.
func (b *Broadcaster) Join(key GroupKey, c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys, ok := b.conns[c]
	if !ok {
		return
	}
	if _, ok := keys[key]; ok {
		return
	}
	keys[key] = struct{}{}
	group, ok := b.groups[key]
	if !ok {
		group = make(map[*Conn]struct{})
		b.groups[key] = group
	}
	group[c] = struct{}{}
	b.metrics.subscriptions.Inc()
}

// Leave removes a connection from a group.
func (b *Broadcaster) Leave(key GroupKey, c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if keys, ok := b.conns[c]; ok {
		if _, member := keys[key]; member {
			delete(keys, key)
			b.leaveLocked(key, c)
		}
	}
}

func (b *Broadcaster) leaveLocked(key GroupKey, c *Conn) {
	group, ok := b.groups[key]
	if !ok {
		return
	}
	if _, member := group[c]; !member {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(b.groups, key)
	}
	b.metrics.subscriptions.Dec()
}

// Publish sends a payload to every connection in a group, marshaling once.
func (b *Broadcaster) Publish(key GroupKey, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).
			Str("timer_id", key.TimerID.String()).
			Str("topic", string(key.Topic)).
			Msg("failed to marshal broadcast payload")
		return
	}
	b.publishLocal(key, data)
	if b.relay != nil {
		b.relay.Forward(key, data)
	}
}

func (b *Broadcaster) publishLocal(key GroupKey, data []byte) {
	b.mu.RLock()
	targets := make([]*Conn, 0, len(b.groups[key]))
	for c := range b.groups[key] {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
	b.metrics.broadcasts.WithLabelValues(string(key.Topic)).Inc()

	log.Debug().
		Str("timer_id", key.TimerID.String()).
		Str("topic", string(key.Topic)).
		Int("connections", len(targets)).
		Msg("snapshot broadcast")
}

// Terminate force-closes every subscriber of every topic of a timer with the
// do-not-reopen code. Used when the timer entity is deleted: no further state
// can ever be valid for that id.
func (b *Broadcaster) Terminate(timerID uuid.UUID) {
	b.terminateLocal(timerID)
	if b.relay != nil {
		b.relay.ForwardTerminate(timerID)
	}
}

func (b *Broadcaster) terminateLocal(timerID uuid.UUID) {
	for _, topic := range Topics {
		key := GroupKey{TimerID: timerID, Topic: topic}

		b.mu.RLock()
		targets := make([]*Conn, 0, len(b.groups[key]))
		for c := range b.groups[key] {
			targets = append(targets, c)
		}
		b.mu.RUnlock()

		for _, c := range targets {
			c.forceClose(CodeDoNotReopen)
			b.Unregister(c)
			b.metrics.forcedCloses.Inc()
		}
	}
	log.Info().Str("timer_id", timerID.String()).Msg("subscriber groups terminated")
}
