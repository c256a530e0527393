// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/generation"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is used by `rigchat serve` when server.addr is empty.
	DefaultAddr = "127.0.0.1:8788"

	// healthTimeout bounds the backend probe in /healthz.
	healthTimeout = 2 * time.Second

	// Version is reported by /healthz.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Generations is the view of running work the server reports on.
// *chat.Service implements it.
type Generations interface {
	Registry() *generation.Registry
	Titles() *generation.TitleSet
	Stop(messageID int64) bool
}

// Deps are the server's collaborators. Backend may be nil.
type Deps struct {
	Generations Generations
	Backend     backend.Backend
	Log         zerolog.Logger
}

// Server is the local status HTTP server.
type Server struct {
	addr    string
	gens    Generations
	backend backend.Backend
	log     zerolog.Logger
	router  chi.Router

	mu     sync.Mutex
	server *http.Server
}

// New builds a server. An empty cfg.Addr falls back to DefaultAddr.
func New(cfg config.ServerConfig, d Deps) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		gens:    d.Generations,
		backend: d.Backend,
		log:     d.Log.With().Str("component", "server").Logger(),
	}
	s.router = s.routes(cfg.AuthToken)
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.router }

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes(token string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(LoggingMiddleware(s.log))
	r.Use(RecoveryMiddleware(s.log))
	r.Use(SecurityHeadersMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token, s.log))

		r.Handle("/metrics", promhttp.Handler())
		r.Get("/generations", s.handleGenerations)
		r.Get("/generations/{id}", s.handleGeneration)
		r.Post("/generations/{id}/stop", s.handleStop)
		r.Get("/titles", s.handleTitles)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"` // ok, degraded
	Version       string `json:"version"`
	Backend       string `json:"backend"` // ok, unavailable, not_configured
	BackendKind   string `json:"backend_kind,omitempty"`
	InFlight      int    `json:"in_flight"`
	TitlesPending int    `json:"titles_pending"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{Status: "ok", Version: Version, Backend: "not_configured"}

	if s.backend != nil {
		health.BackendKind = string(s.backend.Kind())
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if _, err := s.backend.Models(ctx); err != nil {
			s.log.Debug().Err(err).Msg("backend health probe failed")
			health.Backend = "unavailable"
			health.Status = "degraded"
		} else {
			health.Backend = "ok"
		}
	}
	if s.gens != nil {
		health.InFlight = len(s.gens.Registry().Snapshot())
		health.TitlesPending = len(s.gens.Titles().IDs())
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// GENERATION HANDLERS
// ============================================================================

// GenerationEntry is one in-flight generation.
type GenerationEntry struct {
	MessageID int64             `json:"message_id"`
	Status    generation.Status `json:"status"`
}

// GenerationsResponse is the body of GET /generations.
type GenerationsResponse struct {
	Generations []GenerationEntry `json:"generations"`
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	snap := s.gens.Registry().Snapshot()
	out := GenerationsResponse{Generations: make([]GenerationEntry, 0, len(snap))}
	for id, st := range snap {
		out.Generations = append(out.Generations, GenerationEntry{MessageID: id, Status: st})
	}
	slices.SortFunc(out.Generations, func(a, b GenerationEntry) int {
		switch {
		case a.MessageID < b.MessageID:
			return -1
		case a.MessageID > b.MessageID:
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, out)
}

// handleGeneration answers isGenerating. Unknown ids are not an error: the
// message simply is not being generated.
func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.gens.Registry().IsGenerating(id))
}

// StopResponse is the body of POST /generations/{id}/stop.
type StopResponse struct {
	MessageID int64 `json:"message_id"`
	Stopped   bool  `json:"stopped"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	if !s.gens.Stop(id) {
		writeError(w, http.StatusNotFound, "no generation in progress for this message")
		return
	}
	s.log.Info().Int64("message_id", id).Msg("generation stopped over http")
	writeJSON(w, http.StatusAccepted, StopResponse{MessageID: id, Stopped: true})
}

// TitlesResponse is the body of GET /titles.
type TitlesResponse struct {
	ChatIDs []int64 `json:"chat_ids"`
}

func (s *Server) handleTitles(w http.ResponseWriter, r *http.Request) {
	ids := s.gens.Titles().IDs()
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, TitlesResponse{ChatIDs: ids})
}

func messageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", s.addr).Str("version", Version).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info().Msg("status server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"message":..,"code":..}}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
