// Package alert pushes operator notifications for pipeline failures
package alert

import (
	"context"
	"sync"
	"time"

	"signal_trader/internal/core"
)

type Severity string

const (
	Info     Severity = "INFO"
	Warning  Severity = "WARNING"
	Error    Severity = "ERROR"
	Critical Severity = "CRITICAL"
)

// Alert is one notification. Key groups repeats of the same condition
// for the cooldown; an empty Key falls back to Title.
type Alert struct {
	Severity Severity
	Title    string
	Message  string
	Key      string
	Fields   map[string]string
	RaisedAt time.Time
}

func (a Alert) dedupeKey() string {
	if a.Key != "" {
		return a.Key
	}
	return a.Title
}

// Channel delivers alerts to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Dispatcher fans alerts out to every channel in the background.
// Repeats of a key inside the cooldown are dropped.
type Dispatcher struct {
	logger      core.ILogger
	sendTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	channels []Channel
	lastSent map[string]time.Time
	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

// WithCooldown sets the minimum gap between alerts sharing a key. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(ad *Dispatcher) { ad.cooldown = d }
}

func WithSendTimeout(d time.Duration) Option {
	return func(ad *Dispatcher) { ad.sendTimeout = d }
}

func NewDispatcher(logger core.ILogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.WithField("component", "alerts"),
		sendTimeout: 10 * time.Second,
		cooldown:    5 * time.Minute,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
	d.logger.Info("Alert channel enabled", "channel", ch.Name())
}

func (d *Dispatcher) ChannelCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

// Raise dispatches a and reports whether it was sent or suppressed.
// Delivery outlives ctx so a finished poll still gets its alert out.
func (d *Dispatcher) Raise(ctx context.Context, a Alert) bool {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = d.now()
	}

	d.mu.Lock()
	key := a.dedupeKey()
	if last, ok := d.lastSent[key]; ok && d.cooldown > 0 && a.RaisedAt.Sub(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug("Alert suppressed", "key", key)
		return false
	}
	d.lastSent[key] = a.RaisedAt
	channels := append([]Channel(nil), d.channels...)
	d.mu.Unlock()

	d.logger.Info("Raising alert", "title", a.Title, "severity", a.Severity, "channels", len(channels))

	sendCtx := context.WithoutCancel(ctx)
	for _, ch := range channels {
		d.inflight.Add(1)
		go func(ch Channel) {
			defer d.inflight.Done()
			cctx, cancel := context.WithTimeout(sendCtx, d.sendTimeout)
			defer cancel()
			if err := ch.Send(cctx, a); err != nil {
				d.logger.Error("Alert delivery failed", "channel", ch.Name(), "title", a.Title, "error", err)
			}
		}(ch)
	}
	return true
}

// Wait blocks until every dispatched alert has been delivered or failed
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
