package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans envelopes out to every connection of a session. The
// local implementation serves a single gateway process; the NATS one
// spans multiple processes, each holding its own registry.
type Broadcaster interface {
	Publish(sessionID string, envelope *Envelope)
	// PublishExcept skips one local connection where possible; used
	// after the handshake already delivered the snapshot directly.
	PublishExcept(sessionID string, envelope *Envelope, exclude *Connection)
	Close()
}

// LocalBroadcaster delivers straight to the in-process registry.
type LocalBroadcaster struct {
	registry *Registry
}

// NewLocalBroadcaster creates the single-process broadcaster.
func NewLocalBroadcaster(registry *Registry) *LocalBroadcaster {
	return &LocalBroadcaster{registry: registry}
}

func (b *LocalBroadcaster) Publish(sessionID string, envelope *Envelope) {
	b.registry.Broadcast(sessionID, envelope)
}

func (b *LocalBroadcaster) PublishExcept(sessionID string, envelope *Envelope, exclude *Connection) {
	b.registry.BroadcastExcept(sessionID, envelope, exclude)
}

func (b *LocalBroadcaster) Close() {}

// NATSConfig holds connection settings for the pub/sub fan-out.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait int // seconds
}

// DefaultNATSConfig returns defaults for the NATS broadcaster.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "poker.sessions",
		MaxReconnects: -1,
		ReconnectWait: 2,
	}
}

// NATSBroadcaster publishes envelopes on a per-session subject and
// subscribes every gateway process so each one feeds its own registry.
// This keeps the Connection Registry per-process while the broadcast
// contract spans the deployment.
type NATSBroadcaster struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	registry *Registry
	prefix   string
}

type natsFrame struct {
	SessionID string    `json:"sessionId"`
	Envelope  *Envelope `json:"envelope"`
}

// NewNATSBroadcaster connects to NATS and starts the fan-in
// subscription.
func NewNATSBroadcaster(registry *Registry, config NATSConfig) (*NATSBroadcaster, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(time.Duration(config.ReconnectWait) * time.Second),
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

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBroadcaster{
		nc:       nc,
		registry: registry,
		prefix:   config.SubjectPrefix,
	}

	sub, err := nc.Subscribe(config.SubjectPrefix+".>", b.handleFrame)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to session subjects: %w", err)
	}
	b.sub = sub

	log.Info().Str("url", config.URL).Str("subject", config.SubjectPrefix+".>").Msg("NATS broadcaster started")
	return b, nil
}

func (b *NATSBroadcaster) subject(sessionID string) string {
	return b.prefix + "." + sessionID
}

func (b *NATSBroadcaster) Publish(sessionID string, envelope *Envelope) {
	data, err := json.Marshal(natsFrame{SessionID: sessionID, Envelope: envelope})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal NATS frame")
		return
	}
	if err := b.nc.Publish(b.subject(sessionID), data); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish envelope")
	}
}

// PublishExcept cannot honor the exclusion across processes; the
// duplicate state_sync to the excluded connection is harmless since
// snapshots are idempotent.
func (b *NATSBroadcaster) PublishExcept(sessionID string, envelope *Envelope, exclude *Connection) {
	b.Publish(sessionID, envelope)
}

func (b *NATSBroadcaster) handleFrame(msg *nats.Msg) {
	var frame natsFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS frame")
		return
	}
	if frame.Envelope == nil {
		return
	}
	b.registry.Broadcast(frame.SessionID, frame.Envelope)
}

func (b *NATSBroadcaster) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
