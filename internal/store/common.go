// Package store implements core.IStore on memory, SQLite and PostgreSQL
package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"signal_trader/internal/core"

	"github.com/google/uuid"
)

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		t = normalizeToken(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func hasToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneSignal(s *core.Signal) *core.Signal {
	c := *s
	c.SourcePosts = cloneStrings(s.SourcePosts)
	c.SourceResearch = cloneStrings(s.SourceResearch)
	return &c
}

func cloneDeployment(d *core.Deployment) *core.Deployment {
	c := *d
	c.Handles = make(map[string]string, len(d.Handles))
	for k, v := range d.Handles {
		c.Handles[k] = v
	}
	return &c
}

func cloneDecision(d *core.RoutingDecision) *core.RoutingDecision {
	c := *d
	c.Checked = append([]core.VenueCheck(nil), d.Checked...)
	return &c
}

func clonePost(p *core.SocialPost) *core.SocialPost {
	c := *p
	c.Tokens = cloneStrings(p.Tokens)
	return &c
}

func matchSignal(s *core.Signal, f core.SignalFilter) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.AgentID != "" && s.AgentID != f.AgentID {
		return false
	}
	if !f.Since.IsZero() && s.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func matchPosition(p *core.Position, f core.PositionFilter) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Venue != "" && p.Venue != f.Venue {
		return false
	}
	if f.SignalID != "" && p.SignalID != f.SignalID {
		return false
	}
	return true
}

// Signals list newest first; PENDING work is then taken oldest first by the executor.
func sortSignals(out []*core.Signal, oldestFirst bool) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if oldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func marshalStrings(s []string) string {
	if len(s) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
