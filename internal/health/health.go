// Package health serves an HTTP JSON snapshot of scheduler state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/malms/internal/scheduler"
)

// Status values reported by the endpoint.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatsSource is implemented by *scheduler.Scheduler.
type StatsSource interface {
	Stats() scheduler.Stats
}

// CoreHealth contains the state of one core
type CoreHealth struct {
	Index     int    `json:"index"`
	CPU       int    `json:"cpu"`
	Available bool   `json:"available"`
	Job       string `json:"job,omitempty"`
	Executed  uint64 `json:"executed"`
	Blocks    uint64 `json:"blocks"`
	Unblocks  uint64 `json:"unblocks"`
}

// HealthStatus represents the health state of the daemon
type HealthStatus struct {
	Status         string       `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID     string       `json:"instance_id,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	CoresTotal     int          `json:"cores_total"`
	CoresAvailable int          `json:"cores_available"`
	Jobs           int          `json:"jobs"`
	Sleeping       int          `json:"sleeping"`
	EventsApplied  uint64       `json:"events_applied"`
	EventsIgnored  uint64       `json:"events_ignored"`
	Cores          []CoreHealth `json:"cores"`
}

// Server exposes /health, /readiness and /metrics.
type Server struct {
	source     StatsSource
	instanceID string
	logger     *slog.Logger
	started    time.Time
}

// NewServer creates a health server reading from source.
func NewServer(source StatsSource, instanceID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source:     source,
		instanceID: instanceID,
		logger:     logger,
		started:    time.Now(),
	}
}

// HealthCheck returns the current health status.
func (s *Server) HealthCheck() HealthStatus {
	st := s.source.Stats()

	status := HealthStatus{
		Status:         StatusHealthy,
		InstanceID:     s.instanceID,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		CoresTotal:     len(st.Cores),
		CoresAvailable: st.AvailableCores(),
		Jobs:           st.Jobs,
		Sleeping:       st.Sleeping,
		EventsApplied:  st.EventsApplied,
		EventsIgnored:  st.EventsIgnored,
		Cores:          make([]CoreHealth, len(st.Cores)),
	}

	for i, c := range st.Cores {
		status.Cores[i] = CoreHealth{
			Index:     c.Index,
			CPU:       c.CPU,
			Available: c.Available,
			Job:       c.Job,
			Executed:  c.Executed,
			Blocks:    c.Blocks,
			Unblocks:  c.Unblocks,
		}
	}

	switch {
	case st.Closed || status.CoresAvailable == 0:
		status.Status = StatusUnhealthy
	case status.CoresAvailable < status.CoresTotal:
		status.Status = StatusDegraded
	}

	return status
}

// HealthHandler handles /health. It always answers 200 while the process
// is alive; the body carries the detailed status.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.HealthCheck())
}

// ReadinessHandler handles /readiness. Unhealthy maps to 503, degraded is
// still ready.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// MetricsHandler handles /metrics with a plain text exposition.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	st := s.source.Stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "malms_uptime_seconds %d\n", int64(time.Since(s.started).Seconds()))
	fmt.Fprintf(w, "malms_cores_total %d\n", len(st.Cores))
	fmt.Fprintf(w, "malms_cores_available %d\n", st.AvailableCores())
	fmt.Fprintf(w, "malms_jobs %d\n", st.Jobs)
	fmt.Fprintf(w, "malms_events_applied_total %d\n", st.EventsApplied)
	fmt.Fprintf(w, "malms_events_ignored_total %d\n", st.EventsIgnored)
	for _, c := range st.Cores {
		fmt.Fprintf(w, "malms_core_executed_total{core=\"%d\"} %d\n", c.Index, c.Executed)
	}
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health check server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down health server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
