// Package server provides the HTTP query API.
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

	"github.com/Ericincode/my-investment-assets/internal/database"
	"github.com/Ericincode/my-investment-assets/internal/modules/universe"
	"github.com/Ericincode/my-investment-assets/internal/queue"
)

// Config holds server configuration
type Config struct {
	Log             zerolog.Logger
	DB              *database.DB
	Securities      *universe.SecurityRepository
	Prices          *universe.PriceRepository
	Queue           *queue.Queue
	TriggerSync     func() error // starts a full sync run, or reports why not
	BenchmarkTicker string
	Port            int
	DevMode         bool
}

// Server is the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	handlers *Handlers
	log      zerolog.Logger
	port     int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		port:   cfg.Port,
	}

	s.handlers = NewHandlers(HandlersConfig{
		Log:             cfg.Log,
		DB:              cfg.DB,
		Securities:      cfg.Securities,
		Prices:          cfg.Prices,
		Queue:           cfg.Queue,
		TriggerSync:     cfg.TriggerSync,
		BenchmarkTicker: cfg.BenchmarkTicker,
	})

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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handlers.Health)

		r.Route("/stocks", func(r chi.Router) {
			r.Get("/search", s.handlers.Search)
			r.Get("/top", s.handlers.Top)
			r.Get("/{ticker}", s.handlers.Detail)
			r.Get("/{ticker}/status", s.handlers.Status)
			r.Get("/{ticker}/ratio", s.handlers.Ratio)
		})

		r.Post("/sync/run", s.handlers.TriggerSync)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
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
