// Package monitoring builds the pipeline health summary used for alerting
package monitoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/scheduler"
)

// Status of a venue or of the whole pipeline
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusCritical Status = "critical"
)

// Store is the persistence the reporter reads
type Store interface {
	core.ISignalStore
	core.IRoutingStore
	core.IPositionStore
}

type Config struct {
	RoutingWindow time.Duration
	StaleAfter    time.Duration
	// MinMarkets below this count marks a venue degraded
	MinMarkets   int
	CheckTimeout time.Duration
	// SlowRouting marks the pipeline degraded when average routing latency exceeds it
	SlowRouting time.Duration
}

func DefaultConfig() Config {
	return Config{
		RoutingWindow: time.Hour,
		StaleAfter:    15 * time.Minute,
		MinMarkets:    5,
		CheckTimeout:  5 * time.Second,
		SlowRouting:   200 * time.Millisecond,
	}
}

type VenueHealth struct {
	Venue         string  `json:"venue"`
	Status        Status  `json:"status"`
	ActiveMarkets int     `json:"active_markets"`
	ResponseMs    float64 `json:"response_ms"`
	Error         string  `json:"error,omitempty"`
}

type RoutingHealth struct {
	Window       string  `json:"window"`
	Decisions    int     `json:"decisions"`
	Failures     int     `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type PositionHealth struct {
	Open    map[string]int `json:"open"`
	Stale   int            `json:"stale"`
	StaleID []string       `json:"stale_ids,omitempty"`
}

// HealthReport is a point-in-time pipeline summary
type HealthReport struct {
	Time            time.Time      `json:"time"`
	Status          Status         `json:"status"`
	Venues          []VenueHealth  `json:"venues"`
	Routing         RoutingHealth  `json:"routing"`
	Positions       PositionHealth `json:"positions"`
	StoreLatencyMs  float64        `json:"store_latency_ms"`
	Recommendations []string       `json:"recommendations"`
}

// Reporter assembles HealthReports
type Reporter struct {
	store    Store
	registry core.IVenueRegistry
	events   events.Publisher
	logger   core.ILogger
	cfg      Config
	now      func() time.Time

	mu   sync.RWMutex
	last *HealthReport
}

func NewReporter(store Store, registry core.IVenueRegistry, pub events.Publisher, cfg Config, logger core.ILogger) *Reporter {
	def := DefaultConfig()
	if cfg.RoutingWindow <= 0 {
		cfg.RoutingWindow = def.RoutingWindow
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MinMarkets <= 0 {
		cfg.MinMarkets = def.MinMarkets
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.SlowRouting <= 0 {
		cfg.SlowRouting = def.SlowRouting
	}
	return &Reporter{
		store:    store,
		registry: registry,
		events:   events.OrNop(pub),
		logger:   logger.WithField("component", "health_reporter"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Report checks every configured venue and summarizes routing and positions.
// Only store failures return an error; venue failures mark the venue down.
func (r *Reporter) Report(ctx context.Context) (*HealthReport, error) {
	now := r.now().UTC()
	report := &HealthReport{Time: now}

	report.Venues = r.checkVenues(ctx)

	start := time.Now()
	routing, err := r.routing(ctx, now)
	if err != nil {
		return nil, err
	}
	report.StoreLatencyMs = ms(time.Since(start))
	report.Routing = *routing

	positions, err := r.positions(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Positions = *positions

	report.Status = r.overall(report)
	report.Recommendations = r.recommend(report)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if report.Status != StatusHealthy {
		r.logger.Warn("Pipeline health degraded", "status", report.Status, "recommendations", report.Recommendations)
		r.events.Publish(ctx, events.Event{
			Type:    events.HealthDegraded,
			Outcome: string(report.Status),
			Reason:  strings.Join(report.Recommendations, "; "),
		})
	}
	return report, nil
}

// Last returns the most recent report, or nil before the first one
func (r *Reporter) Last() *HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Poller wraps Report in a scheduler poller
func (r *Reporter) Poller(interval time.Duration, opts ...scheduler.Option) *scheduler.Poller {
	return scheduler.NewPoller("health_reporter", interval, func(ctx context.Context) error {
		_, err := r.Report(ctx)
		return err
	}, r.logger, opts...)
}

func (r *Reporter) checkVenues(ctx context.Context) []VenueHealth {
	names := r.registry.Names()
	sort.Strings(names)

	out := make([]VenueHealth, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			out[i] = r.checkVenue(ctx, name)
		}(i, name)
	}
	wg.Wait()
	return out
}

func (r *Reporter) checkVenue(ctx context.Context, name string) VenueHealth {
	h := VenueHealth{Venue: name, Status: StatusDown}
	v, err := r.registry.Get(name)
	if err != nil {
		h.Error = err.Error()
		return h
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CheckTimeout)
	defer cancel()
	start := time.Now()
	markets, err := v.ListMarkets(cctx)
	h.ResponseMs = ms(time.Since(start))
	if err != nil {
		h.Error = err.Error()
		return h
	}
	for _, m := range markets {
		if m.Active {
			h.ActiveMarkets++
		}
	}
	switch {
	case h.ActiveMarkets == 0:
		h.Status = StatusDown
	case h.ActiveMarkets < r.cfg.MinMarkets:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}

func (r *Reporter) routing(ctx context.Context, now time.Time) (*RoutingHealth, error) {
	since := now.Add(-r.cfg.RoutingWindow)
	decisions, err := r.store.ListRoutingDecisions(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list routing decisions: %w", err)
	}
	failed, err := r.store.ListSignals(ctx, core.SignalFilter{Status: core.SignalFailed, Since: since})
	if err != nil {
		return nil, fmt.Errorf("list failed signals: %w", err)
	}

	h := &RoutingHealth{Window: r.cfg.RoutingWindow.String(), Decisions: len(decisions), SuccessRate: 100}
	prefix := string(apperrors.KindNoVenueAvailable) + ":"
	for _, s := range failed {
		if strings.HasPrefix(s.FailureReason, prefix) {
			h.Failures++
		}
	}

	var total time.Duration
	for _, d := range decisions {
		total += d.Latency
	}
	if h.Decisions > 0 {
		h.AvgLatencyMs = ms(total) / float64(h.Decisions)
	}
	if attempts := h.Decisions + h.Failures; attempts > 0 {
		h.SuccessRate = math.Round(float64(h.Decisions)/float64(attempts)*10000) / 100
	}
	return h, nil
}

func (r *Reporter) positions(ctx context.Context, now time.Time) (*PositionHealth, error) {
	open, err := r.store.ListPositions(ctx, core.PositionFilter{Status: core.PositionOpen})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	h := &PositionHealth{Open: make(map[string]int)}
	cutoff := now.Add(-r.cfg.StaleAfter)
	for _, p := range open {
		h.Open[p.Venue]++
		seen := p.OpenedAt
		if p.LastPricedAt != nil {
			seen = *p.LastPricedAt
		}
		if seen.Before(cutoff) {
			h.Stale++
			h.StaleID = append(h.StaleID, p.ID)
		}
	}
	return h, nil
}

func (r *Reporter) overall(rep *HealthReport) Status {
	down, unhealthy := 0, 0
	for _, v := range rep.Venues {
		if v.Status == StatusDown {
			down++
		}
		if v.Status != StatusHealthy {
			unhealthy++
		}
	}
	attempts := rep.Routing.Decisions + rep.Routing.Failures
	switch {
	case len(rep.Venues) > 0 && down == len(rep.Venues):
		return StatusCritical
	case attempts > 0 && rep.Routing.SuccessRate < 50:
		return StatusCritical
	case unhealthy > 0, rep.Positions.Stale > 0:
		return StatusDegraded
	case rep.Routing.AvgLatencyMs > ms(r.cfg.SlowRouting):
		return StatusDegraded
	}
	return StatusHealthy
}

func (r *Reporter) recommend(rep *HealthReport) []string {
	var out []string
	for _, v := range rep.Venues {
		switch v.Status {
		case StatusDown:
			out = append(out, fmt.Sprintf("%s is down: check venue service availability", v.Venue))
		case StatusDegraded:
			out = append(out, fmt.Sprintf("%s is degraded: only %d active markets", v.Venue, v.ActiveMarkets))
		}
	}
	if rep.Routing.AvgLatencyMs > ms(r.cfg.SlowRouting) {
		out = append(out, fmt.Sprintf("Routing is slow (avg %.0fms)", rep.Routing.AvgLatencyMs))
	}
	if rep.Routing.SuccessRate < 80 && rep.Routing.Decisions+rep.Routing.Failures > 10 {
		out = append(out, fmt.Sprintf("Routing success rate is low (%.2f%%)", rep.Routing.SuccessRate))
	}
	if rep.Positions.Stale > 0 {
		out = append(out, fmt.Sprintf("%d open positions have not been priced for %s", rep.Positions.Stale, r.cfg.StaleAfter))
	}
	if len(out) == 0 {
		out = append(out, "All systems operational")
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
