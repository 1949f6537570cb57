// Package routing resolves a venue-agnostic signal to one concrete venue
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	apperrors "signal_trader/pkg/errors"
)

// State is the routing state of one signal
type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateResolving  State = "RESOLVING"
	StateResolved   State = "RESOLVED"
	StateExhausted  State = "EXHAUSTED"
)

// Store is the persistence the router needs
type Store interface {
	core.ISignalStore
	core.IRoutingStore
}

// Config holds the built-in fallback used when no routing config row exists
type Config struct {
	DefaultPriority     []string
	FailoverEnabled     bool
	AvailabilityTimeout time.Duration
}

// DefaultConfig returns HYPERLIQUID then OSTIUM with failover
func DefaultConfig() Config {
	return Config{
		DefaultPriority:     []string{"HYPERLIQUID", "OSTIUM"},
		FailoverEnabled:     true,
		AvailabilityTimeout: 5 * time.Second,
	}
}

// Resolution is the result of Resolve. Decision is nil unless this call won the resolution.
type Resolution struct {
	State    State                 `json:"state"`
	Venue    string                `json:"venue,omitempty"`
	Decision *core.RoutingDecision `json:"decision,omitempty"`
	Checked  []core.VenueCheck     `json:"checked,omitempty"`
}

// Router picks the first available venue in priority order
type Router struct {
	store    Store
	registry core.IVenueRegistry
	events   events.Publisher
	logger   core.ILogger
	cfg      Config
	now      func() time.Time
}

// NewRouter builds a router over the given store and venue registry. Zero config
// fields fall back to DefaultConfig.
func NewRouter(store Store, registry core.IVenueRegistry, pub events.Publisher, cfg Config, logger core.ILogger) *Router {
	if len(cfg.DefaultPriority) == 0 {
		cfg.DefaultPriority = DefaultConfig().DefaultPriority
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultConfig().AvailabilityTimeout
	}
	return &Router{
		store:    store,
		registry: registry,
		events:   events.OrNop(pub),
		logger:   logger.WithField("component", "venue_router"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Resolve returns the venue the signal trades on. A concrete requested venue passes through;
// an already resolved signal returns its stored venue. Otherwise the priority list is walked,
// the first available venue is persisted once and one audit decision is appended.
func (r *Router) Resolve(ctx context.Context, sig *core.Signal) (*Resolution, error) {
	if v := sig.EffectiveVenue(); v != "" {
		return &Resolution{State: StateResolved, Venue: strings.ToUpper(v)}, nil
	}

	// The caller's copy may be stale
	stored, err := r.store.GetSignal(ctx, sig.ID)
	if err != nil {
		return &Resolution{State: StateUnresolved}, fmt.Errorf("reload signal: %w", err)
	}
	if stored.ResolvedVenue != "" {
		sig.ResolvedVenue = stored.ResolvedVenue
		return &Resolution{State: StateResolved, Venue: stored.ResolvedVenue}, nil
	}

	start := r.now()
	logger := r.logger.WithFields(map[string]interface{}{"signal_id": sig.ID, "token": sig.TokenSymbol})
	res := &Resolution{State: StateResolving}

	cfg := r.routingConfig(ctx, sig.AgentID)
	priority := cfg.VenuePriority
	if !cfg.FailoverEnabled && len(priority) > 1 {
		priority = priority[:1]
	}

	selected := ""
	for _, name := range priority {
		if ctx.Err() != nil {
			break
		}
		check := r.check(ctx, name, sig.TokenSymbol)
		res.Checked = append(res.Checked, check)
		logger.Debug("Venue checked", "venue", check.Venue, "available", check.Available, "reason", check.Reason)
		if check.Available {
			selected = check.Venue
			break
		}
	}
	latency := r.now().Sub(start)

	// A cancelled caller says nothing about the venues
	if selected == "" && ctx.Err() != nil {
		logger.Warn("Routing interrupted", "checked", len(res.Checked), "error", ctx.Err())
		return &Resolution{State: StateUnresolved, Checked: res.Checked}, fmt.Errorf("routing interrupted: %w", ctx.Err())
	}

	if selected == "" {
		res.State = StateExhausted
		names := make([]string, 0, len(res.Checked))
		for _, c := range res.Checked {
			names = append(names, c.Venue)
		}
		logger.Warn("No venue available", "checked", names, "latency", latency)
		r.events.Publish(ctx, events.Event{
			Type:     events.RoutingExhausted,
			SignalID: sig.ID,
			AgentID:  sig.AgentID,
			Token:    sig.TokenSymbol,
			Reason:   strings.Join(names, ", "),
			Latency:  latency,
		})
		return res, &apperrors.NoVenueAvailableError{Token: sig.TokenSymbol, Checked: names}
	}

	winner, won, err := r.store.SetResolvedVenue(ctx, sig.ID, selected)
	if err != nil {
		return &Resolution{State: StateUnresolved, Checked: res.Checked}, fmt.Errorf("persist resolved venue: %w", err)
	}
	sig.ResolvedVenue = winner
	res.State = StateResolved
	res.Venue = winner

	if !won {
		logger.Info("Signal already resolved by another worker", "venue", winner)
		return res, nil
	}

	res.Decision = &core.RoutingDecision{
		SignalID:      sig.ID,
		AgentID:       sig.AgentID,
		TokenSymbol:   sig.TokenSymbol,
		Checked:       res.Checked,
		SelectedVenue: winner,
		Reason:        reason(winner, res.Checked),
		Latency:       latency,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.AppendRoutingDecision(ctx, res.Decision); err != nil {
		logger.Error("Failed to record routing decision", "error", err)
	}

	logger.Info("Venue selected", "venue", winner, "checked", len(res.Checked), "latency", latency)
	r.events.Publish(ctx, events.Event{
		Type:     events.RoutingDecided,
		SignalID: sig.ID,
		AgentID:  sig.AgentID,
		Token:    sig.TokenSymbol,
		Venue:    winner,
		Reason:   res.Decision.Reason,
		Latency:  latency,
	})
	return res, nil
}

// routingConfig returns the agent config, then the global config, then the built-in default
func (r *Router) routingConfig(ctx context.Context, agentID string) *core.RoutingConfig {
	cfg, err := r.store.GetRoutingConfig(ctx, agentID)
	if err == nil && len(cfg.VenuePriority) > 0 {
		return cfg
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		r.logger.Warn("Routing config lookup failed, using default", "agent_id", agentID, "error", err)
	}
	return &core.RoutingConfig{
		VenuePriority:   append([]string(nil), r.cfg.DefaultPriority...),
		Strategy:        core.StrategyFirstAvailable,
		FailoverEnabled: r.cfg.FailoverEnabled,
	}
}

// check never fails: errors and timeouts count as unavailable
func (r *Router) check(ctx context.Context, name, token string) core.VenueCheck {
	name = strings.ToUpper(name)
	check := core.VenueCheck{Venue: name}

	v, err := r.registry.Get(name)
	if err != nil {
		check.Reason = "venue not configured"
		return check
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.AvailabilityTimeout)
	defer cancel()

	avail, err := v.CheckAvailability(cctx, token)
	if err != nil {
		check.Reason = "check failed: " + err.Error()
		return check
	}
	check.Available = avail.Available
	check.Reason = avail.Reason
	return check
}

func reason(selected string, checked []core.VenueCheck) string {
	if len(checked) > 1 {
		skipped := make([]string, 0, len(checked)-1)
		for _, c := range checked[:len(checked)-1] {
			skipped = append(skipped, c.Venue)
		}
		return fmt.Sprintf("%s: pair available (failover from %s)", selected, strings.Join(skipped, ", "))
	}
	return selected + ": pair available"
}
