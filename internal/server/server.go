package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/config"
	"github.com/aristath/trading-core/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Port            int
	Log             zerolog.Logger
	Bus             *bus.Bus
	Scheduler       *scheduler.Scheduler
	TriggerableJobs map[string]scheduler.Job
	Config          *config.Config
	DevMode         bool
}

// Server is the admin HTTP surface: health, system status, and
// introspection/trigger endpoints for the bus-driven pipeline. It carries
// none of the teacher's allocation/portfolio/universe/trading/dividend
// routes — this module has no HTTP-facing trading UI, only operational
// endpoints.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	bus    *bus.Bus
	sched  *scheduler.Scheduler
	cfg    *config.Config

	triggerableJobs map[string]scheduler.Job
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		log:             cfg.Log.With().Str("component", "server").Logger(),
		bus:             cfg.Bus,
		sched:           cfg.Scheduler,
		cfg:             cfg.Config,
		triggerableJobs: cfg.TriggerableJobs,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/streams", s.handleStreamIntrospection)
			r.Post("/trigger-cycle", s.handleTriggerCycle)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
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
