package scheduler

import "time"

// FakeTicker is a manually driven Ticker
type FakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

// NewFakeTicker creates a ticker that only fires on Tick
func NewFakeTicker() *FakeTicker {
	return &FakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *FakeTicker) C() <-chan time.Time { return f.ch }

func (f *FakeTicker) Stop() {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
}

// Tick delivers one tick and blocks until the loop has received it
func (f *FakeTicker) Tick() {
	f.ch <- time.Now()
}

// Factory returns a TickerFactory that always hands out this ticker
func (f *FakeTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return f }
}
