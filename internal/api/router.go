// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the HTTP surface of the gateway.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/oakmont/ccproxy/internal/api/handlers"
	"github.com/oakmont/ccproxy/internal/api/middleware"
	"github.com/oakmont/ccproxy/internal/engine"
	"github.com/oakmont/ccproxy/internal/events"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host string
	Port int
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Engine       *engine.Engine
	EventBus     events.EventBus
	Keepalive    time.Duration // SSE keepalive interval; 0 disables
	DeploySecret string
	DeployScript string
	Version      string
}

// NewRouter creates the gateway router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	messagesHandler := handlers.NewMessagesHandler(deps.Engine, deps.Keepalive)
	r.HandleFunc("/v1/messages", messagesHandler.Create).Methods("POST")

	modelsHandler := handlers.NewModelsHandler()
	r.HandleFunc("/v1/models", modelsHandler.List).Methods("GET")

	healthHandler := handlers.NewHealthHandler(deps.Engine, deps.EventBus, deps.Version)
	r.HandleFunc("/health", healthHandler.Get).Methods("GET")

	eventsHandler := handlers.NewEventsHandler(deps.EventBus)
	r.HandleFunc("/events", eventsHandler.Stream).Methods("GET")
	r.HandleFunc("/events/ws", eventsHandler.WebSocket).Methods("GET")
	r.HandleFunc("/events/history", eventsHandler.History).Methods("GET")

	deployHandler := handlers.NewDeployHandler(deps.DeploySecret, deps.DeployScript, deps.EventBus)
	r.HandleFunc("/deploy", deployHandler.Hook).Methods("POST")

	// CORS preflight for any path; the CORS middleware answers before
	// routing matters. A MatcherFunc rather than Methods() so that other
	// methods on unknown paths fall through to the 404 handler instead of
	// being reported as a method mismatch (405).
	r.PathPrefix("/").MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.NotFoundHandler = middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, handlers.ErrNotFound, "unknown route")
	}))

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
