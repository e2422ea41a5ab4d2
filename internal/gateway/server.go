// Package gateway provides the HTTP gateway server: the single process
// entrypoint that upgrades WebSocket connections into LiveSession traffic.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"canopy/internal/broadcast"
	"canopy/internal/config"
	"canopy/internal/gateway/handlers"
	"canopy/internal/gateway/middleware"
	"canopy/internal/limiter"
	"canopy/internal/provider"
	"canopy/internal/provider/local"
	"canopy/internal/provider/ollama"
	"canopy/internal/sessionhub"
	"canopy/internal/storage"
	"canopy/internal/transport"
	"canopy/pkg/logger"
)

// Server is the HTTP boundary: it upgrades "/ws" to a transport.Connection
// routed by a sessionhub.Hub, and serves "/health" for liveness probes.
type Server struct {
	httpServer  *http.Server
	hub         *sessionhub.Hub
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

// NewServer builds a Server. db may be nil for a transient, unpersisted
// deployment. version is reported by the health endpoint.
func NewServer(cfg *config.Config, db *storage.DB, version string) *Server {
	providers := provider.NewPool(buildFactory(cfg))
	providers.SetDefault("chat", defaultModel(cfg))

	center := broadcast.New()
	ephemeral := limiter.NewSemaphore(sessionLimit(cfg.Session.EphemeralLimit))
	hub := sessionhub.New(db, providers, ephemeral, center, defaultModel(cfg))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthHandler(version, providers))
	mux.Handle("/ws", transport.NewServer(center, hub))

	rlConfig := middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
		Enabled:           cfg.Gateway.RateLimit.Enabled,
		CleanupInterval:   5 * time.Minute,
	}
	if rlConfig.RequestsPerMinute == 0 {
		rlConfig.RequestsPerMinute = 60
	}
	if rlConfig.Burst == 0 {
		rlConfig.Burst = 10
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	var handler http.Handler = mux
	handler = rateLimiter.RateLimit(handler)
	handler = middleware.BearerAuth(cfg.Gateway.RemoteMode, cfg.Gateway.AuthToken, "/health")(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Recovery(handler)

	return &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // streaming connections manage their own deadlines
			IdleTimeout:  120 * time.Second,
		},
		hub:         hub,
		rateLimiter: rateLimiter,
		config:      cfg,
	}
}

func sessionLimit(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

func defaultModel(cfg *config.Config) string {
	if cfg.Provider.Default != "" {
		return cfg.Provider.Default
	}
	return local.ModelName
}

// buildFactory resolves model to local.Provider for local.ModelName (and
// the empty string), falling back to an ollama-backed provider for every
// other model name.
func buildFactory(cfg *config.Config) provider.ProviderFactory {
	ollamaFactory := ollama.Factory(ollama.Config{
		Endpoint: cfg.Ollama.Endpoint,
		Model:    cfg.Ollama.Model,
	})
	return func(model string) (provider.Provider, error) {
		if model == "" || model == local.ModelName {
			return local.New(), nil
		}
		return ollamaFactory(model)
	}
}

// Hub returns the process-wide session registry.
func (s *Server) Hub() *sessionhub.Hub { return s.hub }

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	logger.Info().Str("addr", addr).Msg("starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("shutting down gateway server")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Addr returns the address the server is configured to bind, set only
// after Start has been called.
func (s *Server) Addr() string { return s.httpServer.Addr }
