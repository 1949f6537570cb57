package routing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stats summarizes routing decisions over a window
type Stats struct {
	Window       string         `json:"window"`
	Since        time.Time      `json:"since"`
	Decisions    int            `json:"decisions"`
	PerVenue     map[string]int `json:"per_venue"`
	Failovers    int            `json:"failovers"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
}

// ParseWindow accepts hour, day, week or a Go duration
func ParseWindow(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day", "24h":
		return 24 * time.Hour, nil
	case "hour", "1h":
		return time.Hour, nil
	case "week", "7d":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return d, nil
}

// Stats aggregates the decisions appended within window of now
func (r *Router) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	since := r.now().Add(-window).UTC()
	decisions, err := r.store.ListRoutingDecisions(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list routing decisions: %w", err)
	}

	st := &Stats{
		Window:   window.String(),
		Since:    since,
		PerVenue: make(map[string]int),
	}
	var total time.Duration
	for _, d := range decisions {
		st.Decisions++
		st.PerVenue[d.SelectedVenue]++
		total += d.Latency
		if len(d.Checked) > 1 {
			st.Failovers++
		}
	}
	if st.Decisions > 0 {
		st.AvgLatencyMs = float64(total.Microseconds()) / 1000 / float64(st.Decisions)
	}
	return st, nil
}
