package alert

import (
	"context"
	"fmt"

	"signal_trader/internal/events"
)

// EventSink raises alerts for the pipeline events an operator must see
type EventSink struct {
	alerts *Dispatcher
}

func NewEventSink(d *Dispatcher) *EventSink {
	return &EventSink{alerts: d}
}

func (s *EventSink) Handle(ctx context.Context, e events.Event) {
	a, ok := alertFor(e)
	if !ok {
		return
	}
	s.alerts.Raise(ctx, a)
}

func alertFor(e events.Event) (Alert, bool) {
	switch e.Type {
	case events.RoutingExhausted:
		return Alert{
			Severity: Warning,
			Title:    "No venue available",
			Message:  fmt.Sprintf("Signal %s for %s could not be routed: %s", e.SignalID, e.Token, e.Reason),
			Key:      "routing_exhausted:" + e.Token,
			Fields:   map[string]string{"signal_id": e.SignalID, "token": e.Token},
		}, true
	case events.SignalFinalized:
		if e.Outcome != "FAILED" {
			return Alert{}, false
		}
		return Alert{
			Severity: Warning,
			Title:    "Signal failed",
			Message:  fmt.Sprintf("Signal %s for %s failed: %s", e.SignalID, e.Token, e.Reason),
			Key:      "signal_failed:" + e.SignalID,
			Fields:   map[string]string{"signal_id": e.SignalID, "agent_id": e.AgentID},
		}, true
	case events.PositionCloseFailed:
		return Alert{
			Severity: Error,
			Title:    "Position close failed",
			Message:  fmt.Sprintf("Position %s on %s could not be closed: %s", e.PositionID, e.Venue, e.Reason),
			Key:      "close_failed:" + e.PositionID,
			Fields:   map[string]string{"position_id": e.PositionID, "venue": e.Venue},
		}, true
	case events.HealthDegraded:
		return Alert{
			Severity: Error,
			Title:    "Pipeline health degraded",
			Message:  e.Reason,
			Key:      "health_degraded",
			Fields:   map[string]string{"venue": e.Venue},
		}, true
	}
	return Alert{}, false
}
