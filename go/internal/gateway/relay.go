package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for the cross-instance NATS relay.
type RelayConfig struct {
	URL           string // empty disables the relay
	SubjectPrefix string // e.g. "auction.sync"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns default relay configuration with the relay
// disabled; single-instance deployments do not need NATS running.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           "",
		SubjectPrefix: "auction.sync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// relayEnvelope wraps a wire message with the identity of the instance that
// published it so instances can skip their own traffic.
type relayEnvelope struct {
	InstanceID string  `json:"instance_id"`
	Message    Message `json:"message"`
}

// Relay republishes every accepted frame onto NATS so sibling server
// instances can fan it out to their own WebSocket clients.
type Relay struct {
	nc         *nats.Conn
	instanceID string
	config     RelayConfig
}

// NewRelay connects to NATS. Returns (nil, nil) when no URL is configured.
func NewRelay(config RelayConfig) (*Relay, error) {
	if config.URL == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
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

	r := &Relay{
		nc:         nc,
		instanceID: uuid.New().String(),
		config:     config,
	}
	log.Info().
		Str("instance_id", r.instanceID).
		Str("subject_prefix", config.SubjectPrefix).
		Msg("relay connected")
	return r, nil
}

// Publish puts a frame onto the relay. Failures are logged, not returned:
// local clients were already served and the fallback refresh covers siblings.
func (r *Relay) Publish(msg Message) {
	data, err := json.Marshal(relayEnvelope{InstanceID: r.instanceID, Message: msg})
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal relay envelope")
		return
	}
	subject := r.config.SubjectPrefix + "." + string(msg.Type)
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish relay frame")
	}
}

// Start subscribes to sibling traffic and blocks until ctx is cancelled.
// Every frame from another instance is handed to handler.
func (r *Relay) Start(ctx context.Context, handler func(ctx context.Context, msg Message)) error {
	subject := r.config.SubjectPrefix + ".>"
	sub, err := r.nc.Subscribe(subject, func(m *nats.Msg) {
		var env relayEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed relay frame")
			return
		}
		if env.InstanceID == r.instanceID {
			return
		}
		handler(ctx, env.Message)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("relay consuming sibling frames")
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain relay subscription")
	}
	return nil
}

// Stop closes the NATS connection.
func (r *Relay) Stop() {
	if r.nc != nil {
		r.nc.Close()
	}
}
