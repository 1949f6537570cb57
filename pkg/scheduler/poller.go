// Package scheduler runs periodic tasks with an injectable clock
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal_trader/internal/core"
)

// Ticker abstracts time.Ticker so loops can be driven by tests
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker for an interval
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker returns a wall-clock ticker
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// Poller runs a task on a fixed interval until its context is cancelled
type Poller struct {
	name        string
	interval    time.Duration
	tickTimeout time.Duration
	runOnStart  bool
	task        Task
	newTicker   TickerFactory
	logger      core.ILogger

	mu       sync.Mutex
	ticks    int64
	failures int64
	lastRun  time.Time
	lastErr  error
}

// Option configures a Poller
type Option func(*Poller)

// WithTicker replaces the wall-clock ticker
func WithTicker(f TickerFactory) Option {
	return func(p *Poller) { p.newTicker = f }
}

// WithTickTimeout bounds each task invocation. Zero means the interval.
func WithTickTimeout(d time.Duration) Option {
	return func(p *Poller) { p.tickTimeout = d }
}

// WithRunOnStart runs the task once before waiting for the first tick
func WithRunOnStart() Option {
	return func(p *Poller) { p.runOnStart = true }
}

// NewPoller creates a poller
func NewPoller(name string, interval time.Duration, task Task, logger core.ILogger, opts ...Option) *Poller {
	p := &Poller{
		name:      name,
		interval:  interval,
		task:      task,
		newTicker: NewTicker,
		logger:    logger.WithField("component", "poller").WithField("poller", name),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tickTimeout <= 0 {
		p.tickTimeout = interval
	}
	return p
}

// Name returns the poller name
func (p *Poller) Name() string { return p.name }

// Run blocks until ctx is cancelled. A tick in progress is allowed to finish.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting poller", "interval", p.interval)

	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	if p.runOnStart {
		p.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping poller")
			return nil
		case <-ticker.C():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, p.tickTimeout)
	defer cancel()

	err := p.safeRun(ctx)

	p.mu.Lock()
	p.ticks++
	p.lastRun = time.Now()
	p.lastErr = err
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Poller tick failed", "error", err.Error())
	}
}

func (p *Poller) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", p.name, r)
		}
	}()
	return p.task(ctx)
}

// Stats describes the poller's recent activity
type Stats struct {
	Ticks    int64     `json:"ticks"`
	Failures int64     `json:"failures"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the poller's counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Ticks: p.ticks, Failures: p.failures, LastRun: p.lastRun}
	if p.lastErr != nil {
		s.LastErr = p.lastErr.Error()
	}
	return s
}

// Health reports an error if the last tick failed
func (p *Poller) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
