// Package server exposes the workflow engine over a local HTTP API for the
// browser UI and for scripting.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/tasklog"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
)

// Server wires the engine, the remote job client and the task registry
// behind the HTTP API.
type Server struct {
	cfg        *config.Config
	engine     *workflow.Engine
	client     *jobs.Client
	tasks      *tasklog.Registry
	httpServer *http.Server
}

// NewServer creates a server over its collaborators
func NewServer(cfg *config.Config, engine *workflow.Engine, client *jobs.Client, tasks *tasklog.Registry) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		client: client,
		tasks:  tasks,
	}
}

// Handler builds the API router with its middleware stack
func (s *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("mediaflow", httplog.Options{
		LogLevel: slog.LevelInfo,
		Concise:  true,
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/workflows", s.handleListDefinitions)
		r.Post("/workflows", s.handleSaveDefinition)
		r.Get("/workflows/{id}", s.handleGetDefinition)
		r.Delete("/workflows/{id}", s.handleDeleteDefinition)

		r.Post("/executions", s.handleStartExecution)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Post("/executions/{id}/continue", s.handleContinueExecution)
		r.Post("/executions/{id}/stop", s.handleStopExecution)

		r.Post("/batch", s.handleRunBatch)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)

		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/media/rename", s.handleRenameMedia)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled or a shutdown
// signal arrives
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              s.cfg.ListenAddr(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.LogInfo("API server listening on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.LogError("Server failed: %v", err)
		}
	}()

	s.gracefulShutdown(ctx)
	return nil
}

func (s *Server) gracefulShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-quit:
		utils.LogInfo("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Failed to shut down server: %v", err)
	}
	utils.LogInfo("Server shutdown complete")
}

// withRecoverer is adapted from chi's recoverer middleware, logging through
// the application logger instead of chi's
func withRecoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				utils.LogError("Panic in %s %s: %v\n%s", r.Method, r.URL.Path, rvr, debug.Stack())
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
