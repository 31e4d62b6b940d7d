// Package server provides HTTP endpoints for health checks and Prometheus
// metrics, used by watch mode.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker is a function that checks component health
type HealthChecker func() (ok bool, message string)

// Server provides HTTP endpoints for metrics and health
type Server struct {
	mu        sync.RWMutex
	server    *http.Server
	mux       *http.ServeMux
	checkers  map[string]HealthChecker
	startTime time.Time
	version   string
}

// New creates a management server listening on addr.
func New(addr, version string) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		checkers:  make(map[string]HealthChecker),
		startTime: time.Now(),
		version:   version,
	}

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/live", s.handleLive)
	s.mux.HandleFunc("/ready", s.handleHealth)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterChecker adds a named component health check
func (s *Server) RegisterChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start begins serving; blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(checkers)),
	}

	code := http.StatusOK
	for name, check := range checkers {
		ok, message := check()
		if message == "" {
			message = "ok"
		}
		status.Checks[name] = message
		if !ok {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
