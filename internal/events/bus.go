package events

import (
	"context"
	"sync"
	"time"

	"signal_trader/internal/core"
)

// Bus fans events out to sinks synchronously, in subscription order
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger core.ILogger
	now    func() time.Time
}

// NewBus creates an empty bus
func NewBus(logger core.ILogger) *Bus {
	return &Bus{
		logger: logger.WithField("component", "event_bus"),
		now:    time.Now,
	}
}

// Subscribe adds a sink
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps the event and hands it to every sink. A panicking sink is logged and skipped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = b.now().UTC()
	}

	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(ctx, s, e)
	}
}

func (b *Bus) deliver(ctx context.Context, s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event sink panicked", "type", e.Type, "panic", r)
		}
	}()
	s.Handle(ctx, e)
}

// Recorder keeps every event it sees
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Handle(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Publish lets a Recorder stand in for a Bus
func (r *Recorder) Publish(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	r.Handle(ctx, e)
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
