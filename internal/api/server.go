package api

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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/gtrunner/internal/engine"
	"github.com/seantiz/gtrunner/internal/runner"
	"github.com/seantiz/gtrunner/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Defaults are campaign parameters applied when a start request omits
// them.
type Defaults struct {
	Jobs           int
	CopyExecutable bool
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	engine   *engine.Engine
	registry *runner.Registry
	defaults Defaults
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, eng *engine.Engine, reg *runner.Registry, defs Defaults, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		engine:   eng,
		registry: reg,
		defaults: defs,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/executable", s.handleGetExecutable)
	s.router.Put("/v1/executable", s.handleSetExecutable)
	s.router.Get("/v1/launchers", s.handleListLaunchers)
	s.router.Get("/v1/filter/check", s.handleCheckFilter)
	s.router.Get("/v1/events", s.handleGlobalEvents)

	s.router.Route("/v1/campaigns", func(r chi.Router) {
		r.Post("/", s.handleStartCampaign)
		r.Get("/", s.handleListCampaigns)
		r.Get("/{id}", s.handleGetCampaign)
		r.Delete("/{id}", s.handleStopCampaign)
		r.Patch("/{id}/retention", s.handleUpdateRetention)
		r.Get("/{id}/stats", s.handleCampaignStats)
		r.Get("/{id}/jobs", s.handleCampaignJobs)
		r.Post("/{id}/jobs/{pid}/abort", s.handleAbortJob)
		r.Get("/{id}/events", s.handleCampaignEvents)
	})

	s.router.Route("/v1/results", func(r chi.Router) {
		r.Get("/", s.handleListResults)
		r.Delete("/", s.handleDeleteResults)
		r.Get("/{id}", s.handleGetResult)
		r.Get("/{id}/trace", s.handleGetTrace)
	})

	s.router.Get("/v1/teststats", s.handleTestCaseStats)
	s.router.Put("/v1/teststats/{name}/repeat", s.handleMarkRepeat)
	s.router.Delete("/v1/teststats/{name}/repeat", s.handleUnmarkRepeat)

	s.router.Post("/v1/import", s.handleImport)
	s.router.Post("/v1/prune", s.handlePrune)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
