// Package status serves the poller's health and last cycle report over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
)

// Tracker remembers the most recent cycle report.
type Tracker struct {
	state     func() string
	startedAt time.Time

	mu     sync.RWMutex
	cycles int
	last   *models.CycleReport
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	State     string              `json:"state"`
	StartedAt time.Time           `json:"started_at"`
	Cycles    int                 `json:"cycles"`
	Healthy   bool                `json:"healthy"`
	LastCycle *models.CycleReport `json:"last_cycle,omitempty"`
}

// NewTracker creates a Tracker. state reports the scheduler phase and may
// be nil.
func NewTracker(state func() string) *Tracker {
	if state == nil {
		state = func() string { return "unknown" }
	}
	return &Tracker{state: state, startedAt: time.Now()}
}

// ReportCycle records a finished cycle.
func (t *Tracker) ReportCycle(_ context.Context, report models.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	r := report
	t.last = &r
}

// Snapshot returns the current status. Before the first cycle the service
// counts as healthy.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		State:     t.state(),
		StartedAt: t.startedAt,
		Cycles:    t.cycles,
		Healthy:   true,
	}
	if t.last != nil {
		r := *t.last
		s.LastCycle = &r
		s.Healthy = r.Healthy()
	}
	return s
}

// NewRouter builds the status API. allowedOrigins enables CORS for browser
// dashboards; empty disables it.
func NewRouter(t *Tracker, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		s := t.Snapshot()
		code := http.StatusOK
		status := "ok"
		if !s.Healthy {
			code = http.StatusServiceUnavailable
			status = "degraded"
		}
		writeJSON(w, code, map[string]string{"status": status, "state": s.State})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, t.Snapshot())
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode status response: %v", err)
	}
}

// Server runs the status API until its context is cancelled.
type Server struct {
	srv *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Status server stopped")
	return nil
}
