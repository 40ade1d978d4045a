// Package server sets up the HTTP server, router, and all route definitions.
//
// It is the composition root of the API: New opens the run history,
// builds the service and handlers around the given executor, and mounts
// them on a chi router.
//
//	GET    /healthz          liveness
//	POST   /api/execute      run code on a fresh kernel, record the run
//	GET    /api/runs         list recorded runs
//	GET    /api/runs/{id}    one run
//	DELETE /api/runs/{id}    forget a run
//
// With a JWT secret configured every /api route requires a bearer token.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pyrun-jupyter/internal/auth"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/handler"
	"github.com/sakif/pyrun-jupyter/internal/middleware"
	sqliteRepo "github.com/sakif/pyrun-jupyter/internal/repository/sqlite"
	"github.com/sakif/pyrun-jupyter/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port       int
	DBPath     string
	JWTSecret  string // empty disables authentication
	KernelName string
}

// Server represents the HTTP server and all its dependencies.
// It owns the database and closes it on shutdown; the executor is owned by
// the caller.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New creates a Server. exec may be nil, in which case /api/execute fails
// with 500 while the history endpoints keep working.
func New(cfg Config, logger *slog.Logger, exec executor.Executor) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(exec); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

func (s *Server) setupRoutes(exec executor.Executor) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	var tokens *auth.TokenService
	if s.config.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	}

	runService := service.NewRunService(exec, s.db, s.config.KernelName, s.logger)
	executeHandler := handler.NewExecuteHandler(runService, s.logger)
	runHandler := handler.NewRunHandler(runService, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		if tokens != nil {
			r.Use(auth.RequireAuth(tokens))
		}
		r.Post("/execute", executeHandler.HandleExecute)
		r.Get("/runs", runHandler.HandleList)
		r.Get("/runs/{id}", runHandler.HandleGetByID)
		r.Delete("/runs/{id}", runHandler.HandleDelete)
	})

	return nil
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Long enough for the longest run the service accepts.
		WriteTimeout: service.MaxTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("auth", s.config.JWTSecret != ""),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
