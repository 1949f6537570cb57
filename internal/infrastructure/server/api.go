package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/routing"
	apperrors "signal_trader/pkg/errors"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := core.SignalStatus(strings.ToUpper(q.Get("status")))
	switch status {
	case "", core.SignalPending, core.SignalExecuted, core.SignalFailed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of PENDING, EXECUTED, FAILED")
		return
	}

	signals, err := s.deps.Store.ListSignals(r.Context(), core.SignalFilter{
		Status:  status,
		AgentID: q.Get("agent_id"),
		Limit:   limit,
	})
	if err != nil {
		s.internalError(w, "list signals", err)
		return
	}
	if signals == nil {
		signals = []*core.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := s.deps.Store.GetSignal(r.Context(), r.PathValue("id"))
	if err != nil {
		s.lookupError(w, "get signal", err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleSignalAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetSignal(r.Context(), id); err != nil {
		s.lookupError(w, "get signal", err)
		return
	}
	attempts, err := s.deps.Store.ListExecutionAttempts(r.Context(), id)
	if err != nil {
		s.internalError(w, "list attempts", err)
		return
	}
	if attempts == nil {
		attempts = []*core.ExecutionAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := core.PositionStatus(strings.ToUpper(q.Get("status")))
	switch status {
	case "", core.PositionOpen, core.PositionClosed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of OPEN, CLOSED")
		return
	}

	positions, err := s.deps.Store.ListPositions(r.Context(), core.PositionFilter{
		Status:   status,
		Venue:    strings.ToUpper(q.Get("venue")),
		SignalID: q.Get("signal_id"),
		Limit:    limit,
	})
	if err != nil {
		s.internalError(w, "list positions", err)
		return
	}
	if positions == nil {
		positions = []*core.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleRoutingDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseSince(q.Get("since"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decisions, err := s.deps.Store.ListRoutingDecisions(r.Context(), since, limit)
	if err != nil {
		s.internalError(w, "list routing decisions", err)
		return
	}
	if decisions == nil {
		decisions = []*core.RoutingDecision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Routing == nil {
		writeError(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	window, err := routing.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.deps.Routing.Stats(r.Context(), window)
	if err != nil {
		s.internalError(w, "routing stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "reporter not configured")
		return
	}
	report, err := s.deps.Reporter.Report(r.Context())
	if err != nil {
		s.internalError(w, "pipeline report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generator not configured")
		return
	}
	report, err := s.deps.Generator.GenerateBatch(r.Context())
	if err != nil {
		s.internalError(w, "generate batch", err)
		return
	}
	s.logger.Info("Admin generation run", "posts_read", report.PostsRead, "outcomes", len(report.Outcomes))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		writeError(w, http.StatusServiceUnavailable, "executor not configured")
		return
	}
	id := r.PathValue("id")
	report, err := s.deps.Executor.ExecuteSignal(r.Context(), id)
	if err != nil {
		s.lookupError(w, "execute signal", err)
		return
	}
	s.logger.Info("Admin execution run", "signal_id", id, "status", report.Status)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) lookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("API request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// parseSince accepts an RFC3339 time or a lookback duration such as "6h".
// Empty means the last 24 hours.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-24 * time.Hour).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("since must be RFC3339 or a duration")
	}
	return t.UTC(), nil
}
