// Package server exposes the pipeline's query, admin and liveness endpoints
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal_trader/internal/core"
	"signal_trader/internal/monitoring"
	"signal_trader/internal/routing"
	"signal_trader/internal/signalgen"
	"signal_trader/internal/trading/execution"
	"signal_trader/pkg/telemetry"
)

// Store is the read side the API serves from
type Store interface {
	core.ISignalStore
	core.IRoutingStore
	core.IPositionStore
	core.IExecutionLog
}

// RoutingStats aggregates routing decisions over a window
type RoutingStats interface {
	Stats(ctx context.Context, window time.Duration) (*routing.Stats, error)
}

// PipelineReporter produces on-demand health reports
type PipelineReporter interface {
	Report(ctx context.Context) (*monitoring.HealthReport, error)
}

// BatchGenerator runs one signal generation pass
type BatchGenerator interface {
	GenerateBatch(ctx context.Context) (*signalgen.BatchReport, error)
}

// SignalExecutor executes one signal by id. Both the in-process and the
// durable executors satisfy it.
type SignalExecutor interface {
	ExecuteSignal(ctx context.Context, signalID string) (*execution.Report, error)
}

// AdminGuard wraps the admin routes
type AdminGuard interface {
	Middleware(next http.Handler) http.Handler
}

// Dependencies wires the server to the pipeline. Nil components answer 503.
// A nil AdminAuth leaves the admin routes open.
type Dependencies struct {
	Store     Store
	Health    core.IHealthMonitor
	Routing   RoutingStats
	Reporter  PipelineReporter
	Generator BatchGenerator
	Executor  SignalExecutor
	Live      http.Handler
	AdminAuth AdminGuard
}

type Server struct {
	port   int
	logger core.ILogger
	deps   Dependencies
	srv    *http.Server
	mu     sync.RWMutex
	status map[string]string
}

func NewServer(port int, logger core.ILogger, deps Dependencies) *Server {
	return &Server{
		port:   port,
		logger: logger.WithField("component", "api_server"),
		deps:   deps,
		status: make(map[string]string),
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.deps.Live != nil {
		mux.Handle("GET /ws", s.deps.Live)
	}

	mux.HandleFunc("GET /api/signals", s.handleListSignals)
	mux.HandleFunc("GET /api/signals/{id}", s.handleGetSignal)
	mux.HandleFunc("GET /api/signals/{id}/attempts", s.handleSignalAttempts)
	mux.HandleFunc("GET /api/positions", s.handleListPositions)
	mux.HandleFunc("GET /api/routing/decisions", s.handleRoutingDecisions)
	mux.HandleFunc("GET /api/routing/stats", s.handleRoutingStats)
	mux.HandleFunc("GET /api/health/pipeline", s.handlePipelineHealth)
	mux.Handle("POST /api/admin/generate", s.admin(s.handleGenerate))
	mux.Handle("POST /api/admin/signals/{id}/execute", s.admin(s.handleExecute))
	return mux
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	if s.deps.AdminAuth == nil {
		return h
	}
	return s.deps.AdminAuth.Middleware(h)
}

// Start listens on the configured port. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on %d: %w", s.port, err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("Starting API server", "port", s.port)
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// UpdateStatus sets a free-form key reported by /status
func (s *Server) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()

	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
		"metrics": map[string]interface{}{
			"open_positions": metrics.GetOpenPositions(),
			"unrealized_pnl": metrics.GetUnrealizedPnL(),
		},
	}

	code := http.StatusOK
	if s.deps.Health != nil {
		health["components"] = s.deps.Health.GetStatus()
		if !s.deps.Health.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	merged := make(map[string]string, len(s.status))
	for k, v := range s.status {
		merged[k] = v
	}
	s.mu.RUnlock()

	if s.deps.Health != nil {
		for k, v := range s.deps.Health.GetStatus() {
			merged[k] = v
		}
	}
	writeJSON(w, http.StatusOK, merged)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
