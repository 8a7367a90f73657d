package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service is the sync gateway: it owns the WebSocket pool, the REST state
// endpoints and the optional cross-instance relay.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	relay             *Relay
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	RelayConfig      RelayConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RelayConfig:      DefaultRelayConfig(),
	}
}

// NewService creates the gateway service. clock may be nil for the real one.
func NewService(config Config, st Store, clock clockwork.Clock) (*Service, error) {
	relay, err := NewRelay(config.RelayConfig)
	if err != nil {
		return nil, err
	}

	connectionManager := NewConnectionManager(config.ConnectionConfig, st, relay, clock)
	wsHandler := NewWebSocketHandler(connectionManager)
	stateHandler := NewStateHandler(connectionManager, st, clock)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		stateHandler:      stateHandler,
		relay:             relay,
	}, nil
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting sync gateway service")

	go s.connectionManager.Start(ctx)

	if s.relay != nil {
		go func() {
			if err := s.relay.Start(ctx, s.connectionManager.ApplyRemote); err != nil {
				log.Error().Err(err).Msg("relay failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("sync gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service.
func (s *Service) Stop() error {
	if s.relay != nil {
		s.relay.Stop()
	}
	log.Info().Msg("sync gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("sync gateway routes registered")
}

// Broadcast pushes a server-originated frame to every connected client.
// Used by the document listener when another process writes state.
func (s *Service) Broadcast(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal broadcast frame")
		return
	}
	s.connectionManager.enqueueBroadcast(BroadcastMessage{Frame: frame})
}
