// Package api exposes missions, runs and run results over HTTP and lets
// clients trigger runs.
//
//	GET  /api/health
//	GET  /api/missions?status=ACTIVE
//	GET  /api/missions/{id}
//	GET  /api/missions/{id}/runs?limit=20
//	POST /api/missions/{id}/runs          202, run executes in the background
//	GET  /api/runs/{id}
//	GET  /api/runs/{id}/results
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
)

// Store is the read side the API serves from.
type Store interface {
	GetMission(ctx context.Context, id string) (*models.Mission, error)
	ListMissions(ctx context.Context, status models.MissionStatus) ([]models.Mission, error)
	GetMissionRun(ctx context.Context, id string) (*models.MissionRun, error)
	ListMissionRuns(ctx context.Context, missionID string, limit int) ([]models.MissionRun, error)
	ListRunResults(ctx context.Context, runID string) ([]models.RunResult, error)
}

// Runs starts and executes mission runs. *runner.Runner satisfies it.
type Runs interface {
	Start(ctx context.Context, missionID, triggeredBy string) (*runner.Job, error)
	Execute(ctx context.Context, job *runner.Job) error
}

// Options configures the HTTP server.
type Options struct {
	Host           string
	Port           int
	CorsOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux

	store Store
	runs  Runs

	// background runs outlive their request
	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup
}

// NewServer creates a new HTTP server
func NewServer(cfg Options, store Store, runs Runs) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CorsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    router,
		store:     store,
		runs:      runs,
		runCtx:    runCtx,
		cancelRun: cancel,
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Route("/missions", func(r chi.Router) {
			r.Get("/", s.listMissions)
			r.Get("/{id}", s.getMission)
			r.Get("/{id}/runs", s.listMissionRuns)
			r.Post("/{id}/runs", s.triggerRun)
		})

		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/results", s.listRunResults)
		})
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for background runs. Runs
// still going when ctx expires are cancelled and end FAILED.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Cancelling background runs still in progress")
		s.cancelRun()
		<-done
	}
	s.cancelRun()
	return err
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s %d %v [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
