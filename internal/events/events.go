// Package events carries structured pipeline events to tests, metrics, alerts and live clients
package events

import (
	"context"
	"time"
)

// Type names an event
type Type string

const (
	SignalEmitted       Type = "signal.emitted"
	SignalSkipped       Type = "signal.skipped"
	RoutingDecided      Type = "routing.decided"
	RoutingExhausted    Type = "routing.exhausted"
	ExecutionAttempted  Type = "execution.attempted"
	SignalFinalized     Type = "signal.finalized"
	PositionClosed      Type = "position.closed"
	PositionCloseFailed Type = "position.close_failed"
	HealthDegraded      Type = "health.degraded"
)

// Event is one structured pipeline occurrence
type Event struct {
	Type         Type                   `json:"type"`
	Time         time.Time              `json:"time"`
	SignalID     string                 `json:"signal_id,omitempty"`
	AgentID      string                 `json:"agent_id,omitempty"`
	DeploymentID string                 `json:"deployment_id,omitempty"`
	PositionID   string                 `json:"position_id,omitempty"`
	Token        string                 `json:"token,omitempty"`
	Venue        string                 `json:"venue,omitempty"`
	Outcome      string                 `json:"outcome,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Latency      time.Duration          `json:"latency,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Publisher accepts events
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink consumes events. Handle must not block.
type Sink interface {
	Handle(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Handle(ctx context.Context, e Event) { f(ctx, e) }

type nop struct{}

func (nop) Publish(context.Context, Event) {}

// Nop is a Publisher that drops everything
var Nop Publisher = nop{}

// OrNop returns p, or Nop when p is nil
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop
	}
	return p
}
