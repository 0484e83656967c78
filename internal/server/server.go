// Package server provides the HTTP API: read-only views over signals, the
// portfolio, positions and the audit trail, a manual breaker reset, a system
// health endpoint and the websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/convictiond/internal/audit"
	"github.com/aristath/convictiond/internal/database"
	"github.com/aristath/convictiond/internal/events"
	"github.com/aristath/convictiond/internal/modules/positions"
	"github.com/aristath/convictiond/internal/modules/risk"
	"github.com/aristath/convictiond/internal/modules/signals"
	"github.com/aristath/convictiond/internal/portfolio"
)

// Deps carries everything the HTTP layer reads from or acts on.
type Deps struct {
	Port      int
	DataDir   string
	Databases []*database.DB
	Store     *portfolio.Store
	Signals   *signals.Repository
	Closed    *positions.Repository
	Trail     *audit.Trail
	Breaker   *risk.CircuitBreaker
	Resets    *risk.ResetRepository
	Events    *events.Manager
	Log       zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server

	dataDir   string
	databases []*database.DB
	store     *portfolio.Store
	signals   *signals.Repository
	closed    *positions.Repository
	trail     *audit.Trail
	breaker   *risk.CircuitBreaker
	resets    *risk.ResetRepository
	events    *events.Manager
	log       zerolog.Logger
}

// New creates the HTTP server with routes and middleware configured.
func New(d Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		dataDir:   d.DataDir,
		databases: d.Databases,
		store:     d.Store,
		signals:   d.Signals,
		closed:    d.Closed,
		trail:     d.Trail,
		breaker:   d.Breaker,
		resets:    d.Resets,
		events:    d.Events,
		log:       d.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// The websocket route must stay outside the request timeout; every
		// other route gets one.
		r.Get("/events/ws", s.handleEventsWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/signals", s.handleSignals)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/positions", s.handlePositions)
			r.Get("/positions/closed", s.handleClosedPositions)
			r.Get("/audit", s.handleAudit)

			r.Route("/risk", func(r chi.Router) {
				r.Get("/status", s.handleRiskStatus)
				r.Post("/reset", s.handleRiskReset)
			})

			r.Get("/system/health", s.handleSystemHealth)
		})
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
