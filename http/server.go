// Package http serves the analysis API over HTTP and streams events over
// websockets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"proteinml/config"
	"proteinml/monitoring"
	"proteinml/service"
)

// Server is the HTTP front end of the service.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig holds the listener and middleware settings.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig listens on 8001 with a 30s timeout and 1 MiB bodies.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8001,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
}

// ServerConfigFrom converts the http section of the service configuration.
func ServerConfigFrom(c config.HttpConfig) ServerConfig {
	return ServerConfig{
		Port:           c.Port,
		Timeout:        c.Timeout,
		AllowedOrigins: c.AllowedOrigins,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
}

// NewHandler returns the routed API wrapped in the middleware chain.
func NewHandler(cfg ServerConfig, svc *service.Service, hub *monitoring.Hub, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, &Handlers{svc: svc, hub: hub, logger: logger})

	chain := Chain(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		TimeoutMiddleware(cfg.Timeout),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	)
	return chain(mux)
}

// NewServer builds a server for svc. hub may be nil.
func NewServer(cfg ServerConfig, svc *service.Service, hub *monitoring.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, svc, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout + 5*time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server",
		zap.String("addr", s.server.Addr),
		zap.String("events", "ws://localhost"+s.server.Addr+"/api/ws/events"),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting up to 5s for open requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}
