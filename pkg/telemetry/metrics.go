package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsGenerated  = "signal_trader_signals_generated_total"
	MetricSignalsFinalized  = "signal_trader_signals_finalized_total"
	MetricRoutingDecisions  = "signal_trader_routing_decisions_total"
	MetricRoutingLatency    = "signal_trader_routing_latency_ms"
	MetricExecutionAttempts = "signal_trader_execution_attempts_total"
	MetricVenueLatency      = "signal_trader_venue_latency_ms"
	MetricPositionsClosed   = "signal_trader_positions_closed_total"
	MetricPnLRealized       = "signal_trader_pnl_realized"
	MetricPnLUnrealized     = "signal_trader_pnl_unrealized"
	MetricPositionsOpen     = "signal_trader_positions_open"
)

// MetricsHolder holds initialized instruments. Record methods are no-ops until InitMetrics runs.
type MetricsHolder struct {
	SignalsGenerated  metric.Int64Counter
	SignalsFinalized  metric.Int64Counter
	RoutingDecisions  metric.Int64Counter
	RoutingLatency    metric.Float64Histogram
	ExecutionAttempts metric.Int64Counter
	VenueLatency      metric.Float64Histogram
	PositionsClosed   metric.Int64Counter
	PnLRealized       metric.Float64UpDownCounter
	PnLUnrealized     metric.Float64ObservableGauge
	PositionsOpen     metric.Int64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	openPositionsMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap: make(map[string]float64),
			openPositionsMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsGenerated, err = meter.Int64Counter(MetricSignalsGenerated, metric.WithDescription("Generator outcomes by kind"))
	if err != nil {
		return err
	}

	m.SignalsFinalized, err = meter.Int64Counter(MetricSignalsFinalized, metric.WithDescription("Signals moved to a terminal status"))
	if err != nil {
		return err
	}

	m.RoutingDecisions, err = meter.Int64Counter(MetricRoutingDecisions, metric.WithDescription("Venue resolutions by venue and outcome"))
	if err != nil {
		return err
	}

	m.RoutingLatency, err = meter.Float64Histogram(MetricRoutingLatency, metric.WithDescription("Time spent resolving a venue"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.ExecutionAttempts, err = meter.Int64Counter(MetricExecutionAttempts, metric.WithDescription("Per-deployment execution attempts"))
	if err != nil {
		return err
	}

	m.VenueLatency, err = meter.Float64Histogram(MetricVenueLatency, metric.WithDescription("Latency of venue calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PositionsClosed, err = meter.Int64Counter(MetricPositionsClosed, metric.WithDescription("Positions closed by exit reason"))
	if err != nil {
		return err
	}

	m.PnLRealized, err = meter.Float64UpDownCounter(MetricPnLRealized, metric.WithDescription("Cumulative realized PnL"))
	if err != nil {
		return err
	}

	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Unrealized PnL of open positions"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Open positions per venue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.openPositionsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) RecordSignalOutcome(ctx context.Context, outcome string) {
	if m.SignalsGenerated == nil {
		return
	}
	m.SignalsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *MetricsHolder) RecordSignalFinalized(ctx context.Context, status string) {
	if m.SignalsFinalized == nil {
		return
	}
	m.SignalsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *MetricsHolder) RecordRouting(ctx context.Context, venue, outcome string, latency time.Duration) {
	if m.RoutingDecisions == nil {
		return
	}
	m.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("outcome", outcome),
	))
	m.RoutingLatency.Record(ctx, float64(latency.Milliseconds()))
}

func (m *MetricsHolder) RecordExecutionAttempt(ctx context.Context, venue, outcome, kind string) {
	if m.ExecutionAttempts == nil {
		return
	}
	m.ExecutionAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	))
}

func (m *MetricsHolder) RecordVenueCall(ctx context.Context, venue, op string, latency time.Duration, err error) {
	if m.VenueLatency == nil {
		return
	}
	m.VenueLatency.Record(ctx, float64(latency.Milliseconds()), metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

func (m *MetricsHolder) RecordPositionClosed(ctx context.Context, venue, reason string, pnl float64) {
	if m.PositionsClosed == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("venue", venue))
	m.PositionsClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("reason", reason),
	))
	m.PnLRealized.Add(ctx, pnl, attrs)
}

func (m *MetricsHolder) SetVenueExposure(venue string, open int64, unrealized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositionsMap[venue] = open
	m.unrealizedPnLMap[venue] = unrealized
}

func (m *MetricsHolder) GetOpenPositions() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.openPositionsMap))
	for k, v := range m.openPositionsMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetUnrealizedPnL() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.unrealizedPnLMap))
	for k, v := range m.unrealizedPnLMap {
		res[k] = v
	}
	return res
}
