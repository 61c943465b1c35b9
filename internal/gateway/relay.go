package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Relay bridges broadcasts between gateway instances over NATS so displays
// can connect to any node. Local dispatch stays hook-driven; the relay only
// mirrors already-committed events across processes.
type Relay struct {
	nc     *nats.Conn
	b      *Broadcaster
	origin string
	sub    *nats.Subscription
}

// RelayConfig holds NATS connection settings for the relay.
type RelayConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns default relay settings.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// relayEnvelope is the wire format between gateway instances.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Op      string          `json:"op"`
	TimerID uuid.UUID       `json:"timerId"`
	Topic   Topic           `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	relayOpPublish   = "publish"
	relayOpTerminate = "terminate"
)

// NewRelay connects to NATS and attaches itself to the broadcaster.
func NewRelay(cfg RelayConfig, b *Broadcaster) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := &Relay{
		nc:     nc,
		b:      b,
		origin: uuid.NewString(),
	}
	b.SetRelay(r)
	return r, nil
}

// Start subscribes to the timer event subjects.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe("timer.events.>", r.onMessage)
	if err != nil {
		return fmt.Errorf("subscribe to timer events: %w", err)
	}
	r.sub = sub
	log.Info().Msg("timer event relay started")
	return nil
}

// Stop drains the subscription and closes the connection.
func (r *Relay) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.nc != nil {
		r.nc.Close()
	}
	log.Info().Msg("timer event relay stopped")
}

func (r *Relay) onMessage(msg *nats.Msg) {
	var env relayEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed relay envelope")
		return
	}
	if env.Origin == r.origin {
		// Our own event echoed back; local subscribers already have it.
		return
	}

	switch env.Op {
	case relayOpPublish:
		r.b.publishLocal(GroupKey{TimerID: env.TimerID, Topic: env.Topic}, env.Payload)
	case relayOpTerminate:
		r.b.terminateLocal(env.TimerID)
	default:
		log.Warn().Str("op", env.Op).Msg("unknown relay op")
	}
}

// Forward mirrors a local publish to the other instances.
func (r *Relay) Forward(key GroupKey, data []byte) {
	r.send(relayEnvelope{
		Origin:  r.origin,
		Op:      relayOpPublish,
		TimerID: key.TimerID,
		Topic:   key.Topic,
		Payload: data,
	}, string(key.Topic))
}

// ForwardTerminate mirrors a local teardown to the other instances.
func (r *Relay) ForwardTerminate(timerID uuid.UUID) {
	r.send(relayEnvelope{
		Origin:  r.origin,
		Op:      relayOpTerminate,
		TimerID: timerID,
	}, "terminate")
}

func (r *Relay) send(env relayEnvelope, suffix string) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay envelope")
		return
	}
	subject := fmt.Sprintf("timer.events.%s.%s", env.TimerID, suffix)
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish relay envelope")
	}
}
