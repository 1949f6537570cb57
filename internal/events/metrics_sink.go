package events

import (
	"context"

	"signal_trader/pkg/telemetry"
)

// MetricsSink turns events into OTel instrument updates
type MetricsSink struct {
	metrics *telemetry.MetricsHolder
}

func NewMetricsSink(m *telemetry.MetricsHolder) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Handle(ctx context.Context, e Event) {
	switch e.Type {
	case SignalEmitted:
		s.metrics.RecordSignalOutcome(ctx, "emitted")
	case SignalSkipped:
		s.metrics.RecordSignalOutcome(ctx, e.Outcome)
	case RoutingDecided:
		s.metrics.RecordRouting(ctx, e.Venue, "resolved", e.Latency)
	case RoutingExhausted:
		s.metrics.RecordRouting(ctx, "", "exhausted", e.Latency)
	case ExecutionAttempted:
		kind, _ := e.Data["failure_kind"].(string)
		s.metrics.RecordExecutionAttempt(ctx, e.Venue, e.Outcome, kind)
	case SignalFinalized:
		s.metrics.RecordSignalFinalized(ctx, e.Outcome)
	case PositionClosed:
		pnl, _ := e.Data["realized_pnl"].(float64)
		s.metrics.RecordPositionClosed(ctx, e.Venue, e.Reason, pnl)
	}
}
