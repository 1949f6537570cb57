// Package health aggregates component checks for the pipeline's liveness endpoints
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"signal_trader/internal/core"
)

type component struct {
	check    func() error
	optional bool
}

// HealthManager aggregates health status from pipeline components.
// Optional components are reported but never make the process unhealthy.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]component
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		return &HealthManager{
			checks: make(map[string]component),
		}
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]component),
	}
}

// Register adds a critical health check for a component
func (hm *HealthManager) Register(name string, check func() error) {
	hm.register(name, check, false)
}

// RegisterOptional adds a check that is reported but does not fail IsHealthy
func (hm *HealthManager) RegisterOptional(name string, check func() error) {
	hm.register(name, check, true)
}

func (hm *HealthManager) register(name string, check func() error, optional bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = component{check: check, optional: optional}
}

// Components returns the registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for name, c := range hm.checks {
		if err := c.check(); err != nil {
			status[name] = "Unhealthy: " + err.Error()
		} else {
			status[name] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, c := range hm.checks {
		if c.optional {
			continue
		}
		if err := c.check(); err != nil {
			return false
		}
	}
	return true
}

// Watch evaluates IsHealthy every interval and calls onChange on the first
// evaluation and on every transition. It returns when ctx is cancelled.
func (hm *HealthManager) Watch(ctx context.Context, interval time.Duration, onChange func(healthy bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := hm.IsHealthy()
	onChange(healthy)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := hm.IsHealthy()
			if now == healthy {
				continue
			}
			healthy = now
			if hm.logger != nil {
				if healthy {
					hm.logger.Info("Pipeline recovered")
				} else {
					hm.logger.Warn("Pipeline unhealthy", "status", hm.GetStatus())
				}
			}
			onChange(healthy)
		}
	}
}
