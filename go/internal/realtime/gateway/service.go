package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service is the realtime gateway: connection registry, handshake
// handler, dispatcher and broadcast fan-out composed into one unit.
type Service struct {
	registry       *Registry
	handler        *Handler
	dispatcher     *Dispatcher
	sessionHandler *SessionHandler
	broadcaster    Broadcaster
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	NATS             *NATSConfig // nil means single-process local fan-out
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService wires the gateway together.
func NewService(config Config, app SessionApp, rest RESTApp, clock clockwork.Clock) (*Service, error) {
	registry := NewRegistry(config.ConnectionConfig)

	var broadcaster Broadcaster
	if config.NATS != nil {
		b, err := NewNATSBroadcaster(registry, *config.NATS)
		if err != nil {
			return nil, err
		}
		broadcaster = b
	} else {
		broadcaster = NewLocalBroadcaster(registry)
	}

	dispatcher := NewDispatcher(app, registry, broadcaster, clock)
	registry.SetHandlers(dispatcher.HandleMessage, dispatcher.HandleDisconnect)

	return &Service{
		registry:       registry,
		handler:        NewHandler(app, registry, dispatcher, config.ConnectionConfig),
		dispatcher:     dispatcher,
		sessionHandler: NewSessionHandler(rest, registry),
		broadcaster:    broadcaster,
	}, nil
}

// Start runs the registry's broadcast loop until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting realtime gateway service")

	go s.registry.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("realtime gateway service shutting down")
	return s.Stop()
}

// Stop releases the broadcaster.
func (s *Service) Stop() error {
	s.broadcaster.Close()
	log.Info().Msg("realtime gateway service stopped")
	return nil
}

// Registry exposes the connection registry, mainly for tests and
// stats.
func (s *Service) Registry() *Registry {
	return s.registry
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
	s.sessionHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}
