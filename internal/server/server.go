// ABOUTME: Assembles the manager's HTTP surface: agent WebSocket endpoint,
// ABOUTME: proxy ingress routes, and the management API.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/skyhook-io/skyhook/internal/config"
	"github.com/skyhook-io/skyhook/internal/proxy"
	"github.com/skyhook-io/skyhook/internal/tunnel"
)

const shutdownTimeout = 10 * time.Second

// Server owns the connection registry and serves everything the manager
// exposes over HTTP.
type Server struct {
	cfg      *config.Config
	registry *tunnel.Registry
	ingress  *proxy.Ingress
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New wires a registry and ingress from cfg.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	registry := tunnel.NewRegistry(logger)
	ingress := proxy.NewIngress(registry, cfg.Proxy.RequestTimeout, cfg.Proxy.MaxBodyBytes, logger)

	return &Server{
		cfg:      cfg,
		registry: registry,
		ingress:  ingress,
		logger:   logger,
	}
}

// Registry exposes the connection registry, mainly for tests.
func (s *Server) Registry() *tunnel.Registry {
	return s.registry
}

// Router builds the manager's route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/agent", s.handleAgentSocket)
	r.Get("/api/agents", s.handleListAgents)
	r.Handle("/agents/{agentID}/proxy/*", http.HandlerFunc(s.ingress.Handle))

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.HTTPAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("manager listening", "addr", s.cfg.Server.HTTPAddr)

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		for _, t := range s.registry.List() {
			t.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleAgentSocket admits an agent: bearer-token check, upgrade, register,
// then block until the tunnel dies. The registry entry lives exactly as
// long as this handler.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	agentID := r.Header.Get(tunnel.AgentIDHeader)
	if agentID == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}

	conn := tunnel.NewConn(ws)
	stop := conn.StartKeepalive()
	defer stop()

	t := tunnel.NewTunnel(agentID, conn, s.logger)
	s.registry.Register(t)
	defer s.registry.Unregister(t)

	<-t.Done()
}

func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	got := r.Header.Get("Authorization")
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(got, prefix)) == s.cfg.Server.AuthToken
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// AgentInfoResponse is the JSON shape for GET /api/agents.
type AgentInfoResponse struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	InFlight    int       `json:"in_flight"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	tunnels := s.registry.List()

	response := make([]AgentInfoResponse, 0, len(tunnels))
	for _, t := range tunnels {
		response = append(response, AgentInfoResponse{
			ID:          t.ID,
			ConnectedAt: t.ConnectedAt(),
			LastActive:  t.LastActive(),
			InFlight:    t.InFlight(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("encoding agent list", "error", err)
	}
}

// logRequests emits one slog line per request. The agent socket endpoint is
// skipped; its lifecycle is logged by the registry.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/agent" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
