// Package server wires the master's HTTP surface: the two WebSocket
// upgrade endpoints (internal agent hub and public client hub) and the
// health check. The REST dispatcher over the orchestrator lives with the
// out-of-scope collaborators and mounts alongside these routes in its
// own deployment.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/lmdudester/clawd/internal/config"
	"github.com/lmdudester/clawd/internal/server/middleware"
	"github.com/lmdudester/clawd/internal/wsagent"
	"github.com/lmdudester/clawd/internal/wsclient"
)

// Server is the HTTP server that hosts both WS hubs.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds the lifetime of
// background route helpers (the rate limiter's cleanup loop).
func New(ctx context.Context, cfg *config.Config, agentHub *wsagent.Hub, clientHub *wsclient.Hub) *Server {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	// The upgrade endpoints do their own auth-first handshake post
	// upgrade; the per-IP limiter in front throttles connection (and
	// therefore auth-attempt) churn.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 5, 10))
		r.Get("/internal/session", agentHub.Serve)
		r.Get("/ws", clientHub.Serve)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	return &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
			// No blanket ReadTimeout/WriteTimeout: both would sever
			// long-lived WebSocket connections. Inside the hubs only the
			// first (auth) frame has a read deadline; later reads have none.
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		},
	}
}

// Handler exposes the router, used by tests to serve via httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
