// Package monitor re-prices open positions and closes the ones whose exit conditions trigger
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/scheduler"
	"signal_trader/pkg/telemetry"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the monitor needs
type Store interface {
	core.IPositionStore
	core.IDeploymentStore
}

// Config tunes the monitor
type Config struct {
	Exit         ExitConfig
	BatchSize    int
	PriceTimeout time.Duration
	CloseTimeout time.Duration
}

// DefaultConfig returns the exit thresholds and batch limits used when none are configured
func DefaultConfig() Config {
	return Config{
		Exit:         DefaultExitConfig(),
		BatchSize:    200,
		PriceTimeout: 10 * time.Second,
		CloseTimeout: 30 * time.Second,
	}
}

// Action is what happened to one position in a tick
type Action string

const (
	ActionHeld   Action = "held"
	ActionClosed Action = "closed"
	ActionFailed Action = "failed"
)

// PositionResult is the outcome for one position in one tick
type PositionResult struct {
	PositionID string          `json:"position_id"`
	Venue      string          `json:"venue"`
	Token      string          `json:"token"`
	Action     Action          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Reason     core.ExitReason `json:"reason,omitempty"`
	PnL        decimal.Decimal `json:"pnl"`
	Error      string          `json:"error,omitempty"`
}

// TickReport summarizes one monitoring pass
type TickReport struct {
	Checked int              `json:"checked"`
	Closed  int              `json:"closed"`
	Failed  int              `json:"failed"`
	Results []PositionResult `json:"results"`
}

// PositionMonitor evaluates exits for all OPEN positions
type PositionMonitor struct {
	store    Store
	registry core.IVenueRegistry
	events   events.Publisher
	metrics  *telemetry.MetricsHolder
	logger   core.ILogger
	cfg      Config
}

// NewPositionMonitor builds a monitor over the position store and venue registry.
// Zero config fields fall back to DefaultConfig.
func NewPositionMonitor(store Store, registry core.IVenueRegistry, pub events.Publisher, cfg Config, logger core.ILogger) *PositionMonitor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = def.PriceTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.Exit.HardStopLossPercent <= 0 {
		cfg.Exit.HardStopLossPercent = def.Exit.HardStopLossPercent
	}
	if cfg.Exit.TrailingActivationPercent <= 0 {
		cfg.Exit.TrailingActivationPercent = def.Exit.TrailingActivationPercent
	}
	return &PositionMonitor{
		store:    store,
		registry: registry,
		events:   events.OrNop(pub),
		metrics:  telemetry.GetGlobalMetrics(),
		logger:   logger.WithField("component", "position_monitor"),
		cfg:      cfg,
	}
}

// Tick processes one bounded batch of OPEN positions. Venue groups run concurrently;
// positions inside a group run in order. Per-position errors never fail the tick.
func (m *PositionMonitor) Tick(ctx context.Context) (*TickReport, error) {
	open, err := m.store.ListPositions(ctx, core.PositionFilter{Status: core.PositionOpen, Limit: m.cfg.BatchSize})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	groups := make(map[string][]*core.Position)
	for _, p := range open {
		groups[p.Venue] = append(groups[p.Venue], p)
	}
	venues := make([]string, 0, len(groups))
	for v := range groups {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	perVenue := make([][]PositionResult, len(venues))
	var g errgroup.Group
	for i, name := range venues {
		i, name := i, name
		g.Go(func() error {
			perVenue[i] = m.processVenue(ctx, name, groups[name])
			return nil
		})
	}
	_ = g.Wait()

	report := &TickReport{Results: make([]PositionResult, 0, len(open))}
	for i, name := range venues {
		var openCount int64
		unrealized := decimal.Zero
		for j, r := range perVenue[i] {
			report.Checked++
			switch r.Action {
			case ActionClosed:
				report.Closed++
				continue
			case ActionFailed:
				report.Failed++
			}
			openCount++
			if !r.Price.IsZero() {
				unrealized = unrealized.Add(groups[name][j].UnrealizedPnL(r.Price))
			}
		}
		report.Results = append(report.Results, perVenue[i]...)
		f, _ := unrealized.Float64()
		m.metrics.SetVenueExposure(name, openCount, f)
	}

	if report.Checked > 0 {
		m.logger.Info("Monitor tick complete",
			"checked", report.Checked,
			"closed", report.Closed,
			"failed", report.Failed,
			"venues", len(venues))
	}
	return report, nil
}

func (m *PositionMonitor) processVenue(ctx context.Context, name string, positions []*core.Position) []PositionResult {
	results := make([]PositionResult, 0, len(positions))
	v, err := m.registry.Get(name)
	for _, pos := range positions {
		if err != nil {
			results = append(results, m.failed(ctx, pos, decimal.Zero, fmt.Errorf("resolve venue: %w", err)))
			continue
		}
		results = append(results, m.processPosition(ctx, v, pos))
	}
	return results
}

func (m *PositionMonitor) processPosition(ctx context.Context, v core.IVenue, pos *core.Position) PositionResult {
	logger := m.logger.WithFields(map[string]interface{}{
		"position_id": pos.ID,
		"venue":       pos.Venue,
		"token":       pos.TokenSymbol,
	})

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	price, err := v.GetMarkPrice(pctx, pos.TokenSymbol)
	cancel()
	if err != nil {
		logger.Warn("Failed to price position, retrying next tick", "error", err)
		return PositionResult{
			PositionID: pos.ID,
			Venue:      pos.Venue,
			Token:      pos.TokenSymbol,
			Action:     ActionFailed,
			Error:      "price: " + err.Error(),
		}
	}

	ev := EvaluateExit(pos, price, m.cfg.Exit)
	if err := m.store.UpdatePositionMark(ctx, pos.ID, ev.Mark); err != nil {
		logger.Error("Failed to persist mark", "error", err)
	}
	if ev.Mark.TrailingActive && !pos.TrailingActive {
		logger.Info("Trailing stop armed", "high_water", ev.Mark.HighWater.String(), "low_water", ev.Mark.LowWater.String())
	}

	if !ev.Triggered {
		return PositionResult{
			PositionID: pos.ID,
			Venue:      pos.Venue,
			Token:      pos.TokenSymbol,
			Action:     ActionHeld,
			Price:      price,
			PnL:        pos.UnrealizedPnL(price),
		}
	}

	logger.Info("Exit triggered", "reason", ev.Reason, "price", price.String(), "trigger", ev.Trigger.String())
	res, err := m.close(ctx, v, pos, price, ev.Reason)
	if err != nil {
		return m.failed(ctx, pos, price, err)
	}
	return *res
}

// close places the closing order and records the terminal state. It runs detached from ctx
// so a shutdown mid-close cannot leave the venue flat while the row stays OPEN.
func (m *PositionMonitor) close(ctx context.Context, v core.IVenue, pos *core.Position, price decimal.Decimal, reason core.ExitReason) (*PositionResult, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CloseTimeout)
	defer cancel()

	dep, err := m.store.GetDeployment(cctx, pos.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("load deployment: %w", err)
	}
	handle, ok := dep.Handle(pos.Venue)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNoWalletForVenue, pos.Venue)
	}

	fill, err := v.ClosePosition(cctx, handle, core.CloseRequest{
		PositionID:  pos.ID,
		TokenSymbol: pos.TokenSymbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("close order: %w", err)
	}

	exit := fill.ExitPrice
	if !exit.IsPositive() {
		exit = price
	}
	pnl := tradingutils.PnL(pos.EntryPrice, exit, pos.Quantity, pos.Side != core.SideShort)

	closed, err := m.store.ClosePosition(cctx, pos.ID, core.PositionClose{
		ExitPrice:   exit,
		Reason:      reason,
		RealizedPnL: pnl,
		ExitTxRef:   fill.TxRef,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record close: %w", err)
	}

	result := &PositionResult{
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Token:      pos.TokenSymbol,
		Action:     ActionClosed,
		Price:      exit,
		Reason:     reason,
		PnL:        pnl,
	}
	if !closed {
		m.logger.Info("Position already closed", "position_id", pos.ID)
		return result, nil
	}

	m.logger.Info("Position closed",
		"position_id", pos.ID,
		"reason", reason,
		"exit_price", exit.String(),
		"realized_pnl", pnl.String())
	f, _ := pnl.Float64()
	m.events.Publish(ctx, events.Event{
		Type:         events.PositionClosed,
		SignalID:     pos.SignalID,
		AgentID:      pos.AgentID,
		DeploymentID: pos.DeploymentID,
		PositionID:   pos.ID,
		Token:        pos.TokenSymbol,
		Venue:        pos.Venue,
		Reason:       string(reason),
		Data: map[string]interface{}{
			"realized_pnl": f,
			"exit_price":   exit.String(),
			"exit_tx_ref":  fill.TxRef,
		},
	})
	return result, nil
}

func (m *PositionMonitor) failed(ctx context.Context, pos *core.Position, price decimal.Decimal, err error) PositionResult {
	m.logger.Error("Failed to close position, retrying next tick", "position_id", pos.ID, "venue", pos.Venue, "error", err)
	m.events.Publish(ctx, events.Event{
		Type:         events.PositionCloseFailed,
		SignalID:     pos.SignalID,
		AgentID:      pos.AgentID,
		DeploymentID: pos.DeploymentID,
		PositionID:   pos.ID,
		Token:        pos.TokenSymbol,
		Venue:        pos.Venue,
		Reason:       err.Error(),
	})
	return PositionResult{
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Token:      pos.TokenSymbol,
		Action:     ActionFailed,
		Price:      price,
		Error:      err.Error(),
	}
}

// Poller wraps Tick in a scheduler poller
func (m *PositionMonitor) Poller(interval time.Duration, opts ...scheduler.Option) *scheduler.Poller {
	return scheduler.NewPoller("position_monitor", interval, func(ctx context.Context) error {
		_, err := m.Tick(ctx)
		return err
	}, m.logger, opts...)
}
