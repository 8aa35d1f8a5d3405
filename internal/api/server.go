package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/laughtrack/internal/config"
	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/metrics"
	"github.com/snarg/laughtrack/internal/pipeline"
	"github.com/snarg/laughtrack/internal/secrets"
	"github.com/snarg/laughtrack/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, db *database.DB, box *secrets.Box, layout storage.Layout, archive ClipArchive, newRunner pipeline.RunnerFactory, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Metrics — no auth
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	users := NewUserHandler(db, layout, archive)
	proc := NewProcessHandler(db, db, db, box, newRunner, layout, log)

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint — no auth
		health := NewHealthHandler(db, version, startTime)
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.ServiceKey))
			r.Route("/users/{user}", func(r chi.Router) {
				users.Routes(r)
				proc.Routes(r)
			})
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
